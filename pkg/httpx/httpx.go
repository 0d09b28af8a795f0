package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/startupai/narrative/pkg/apierr"
)

type ctxKey struct{}

const RequestIDHeader = "X-Request-Id"

func NewRequestID() string { return "req_" + uuid.NewString() }

// RequestID attaches a request id to the context and echoes it in the response
// header. An inbound X-Request-Id is kept when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return NewRequestID()
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	WriteErrorWithID(w, NewRequestID(), status, code, message, details)
}

func WriteErrorWithID(w http.ResponseWriter, requestID string, status int, code, message string, details any) {
	errObj := map[string]any{"code": code, "message": message}
	if details != nil {
		errObj["details"] = details
	}
	WriteJSON(w, status, map[string]any{
		"request_id": requestID,
		"error":      errObj,
	})
}

// WriteAPIError writes e using the status its code maps to.
func WriteAPIError(w http.ResponseWriter, r *http.Request, e *apierr.Error) {
	var details any
	if len(e.Details) > 0 {
		details = e.Details
	}
	WriteErrorWithID(w, RequestIDFrom(r.Context()), e.Code.HTTPStatus(), string(e.Code), e.Message, details)
}
