package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/startupai/narrative/pkg/apierr"
)

func TestWriteAPIErrorUsesCodeStatusAndRequestID(t *testing.T) {
	var rr *httptest.ResponseRecorder
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteAPIError(w, r, apierr.WithDetails(apierr.CodePublishBlocked, "publish blocked", map[string]any{"blockers": []string{"x"}}))
	}))
	req := httptest.NewRequest(http.MethodPost, "/p", nil)
	req.Header.Set(RequestIDHeader, "req_fixed")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if body["request_id"] != "req_fixed" {
		t.Fatalf("expected propagated request id, got %v", body["request_id"])
	}
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error object")
	}
	if errObj["code"] != "PUBLISH_BLOCKED" {
		t.Fatalf("unexpected code: %v", errObj["code"])
	}
	if _, ok := errObj["details"].(map[string]any); !ok {
		t.Fatalf("expected details object, got %v", errObj["details"])
	}
	if rr.Header().Get(RequestIDHeader) != "req_fixed" {
		t.Fatalf("expected request id header")
	}
}

func TestReadJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/p", strings.NewReader(`{"a":1,"b":2}`))
	var dst struct {
		A int `json:"a"`
	}
	if err := ReadJSON(req, &dst); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestNewRequestIDPrefix(t *testing.T) {
	if id := NewRequestID(); !strings.HasPrefix(id, "req_") {
		t.Fatalf("unexpected request id %q", id)
	}
}
