// Package api exposes the narrative operations over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/startupai/narrative/pkg/apierr"
	"github.com/startupai/narrative/pkg/authn"
	"github.com/startupai/narrative/pkg/canonhash"
	"github.com/startupai/narrative/pkg/httpx"
	"github.com/startupai/narrative/services/narrative/internal/idempotency"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
	"github.com/startupai/narrative/services/narrative/internal/publish"
	"github.com/startupai/narrative/services/narrative/internal/service"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Limits struct {
	MaxBodyBytes      int64
	VerifyPerMinute   int
	GeneratePerMinute int
}

type Options struct {
	// Enabled is the process-wide feature gate. When false every route but /health
	// answers NOT_FOUND.
	Enabled bool
	Limits  Limits
	Log     *zap.Logger
}

type handler struct {
	svc    *service.Service
	auth   *authn.Authenticator
	idem   idempotency.Store
	limits Limits
	log    *zap.Logger
}

func NewRouter(svc *service.Service, auth *authn.Authenticator, idem idempotency.Store, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{svc: svc, auth: auth, idem: idem, limits: opts.Limits, log: log}

	r := chi.NewRouter()
	r.Use(httpx.RequestID, accessLog(log), middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteAPIError(w, r, apierr.New(apierr.CodeNotFound, "not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteAPIError(w, r, apierr.New(apierr.CodeNotFound, "not found"))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	if !opts.Enabled {
		return r
	}

	verifyLimit := newWindowLimiter(opts.Limits.VerifyPerMinute, time.Minute)
	generateLimit := newWindowLimiter(opts.Limits.GeneratePerMinute, time.Minute)

	r.With(rateLimit(verifyLimit)).Get("/verify/{token}", h.verify)
	r.Get("/api/evidence-packages/{package_id}", h.publicEvidencePackage)
	r.Get("/api/schema/narrative", h.schema)

	r.Group(func(api chi.Router) {
		api.Use(h.requireAuth)
		api.With(rateLimit(generateLimit)).Post("/api/projects/{project_id}/narrative/generate", h.generate)
		api.Route("/api/narratives/{narrative_id}", func(n chi.Router) {
			n.Get("/", h.get)
			n.Patch("/", h.edit)
			n.Post("/publish", h.publish)
			n.Post("/unpublish", h.unpublish)
			n.Post("/export", h.export)
			n.Get("/versions", h.listVersions)
			n.Get("/versions/diff", h.diffVersions)
			n.Put("/evidence-package/consent", h.setConsent)
		})
		api.Get("/api/exports/{export_id}/download", h.download)
	})
	return r
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", httpx.RequestIDFrom(r.Context())))
		})
	}
}

func (h *handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.auth.AuthenticateBearer(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if !errors.Is(err, authn.ErrUnauthorized) {
				h.log.Error("token lookup failed", zap.Error(err))
				httpx.WriteAPIError(w, r, apierr.Internal(err))
				return
			}
			httpx.WriteAPIError(w, r, apierr.New(apierr.CodeUnauthorized, "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(authn.WithIdentity(r.Context(), id)))
	})
}

func actor(r *http.Request) string {
	if id, ok := authn.IdentityFrom(r.Context()); ok {
		return id.UserID
	}
	return ""
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteAPIError(w, r, apierr.As(err))
}

// readJSON decodes an optional body; an empty body leaves dst untouched.
func (h *handler) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if h.limits.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxBodyBytes)
	}
	err := httpx.ReadJSON(r, dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.WriteAPIError(w, r, apierr.New(apierr.CodeValidation, "request body too large"))
		return false
	}
	httpx.WriteAPIError(w, r, apierr.New(apierr.CodeValidation, "invalid JSON: "+err.Error()))
	return false
}

// --- public ---

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Verify(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *handler) publicEvidencePackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.svc.PublicEvidencePackage(r.Context(), chi.URLParam(r, "package_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pkg)
}

func (h *handler) schema(w http.ResponseWriter, r *http.Request) {
	b, err := narrative.SchemaJSON()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("content-type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// --- narratives ---

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	req.ProjectID = chi.URLParam(r, "project_id")
	res, err := h.svc.Generate(r.Context(), actor(r), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	status := http.StatusOK
	if res.IsFresh {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, res)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), actor(r), chi.URLParam(r, "narrative_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *handler) edit(w http.ResponseWriter, r *http.Request) {
	var req service.EditRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Edit(r.Context(), actor(r), chi.URLParam(r, "narrative_id"), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type publishRequest struct {
	HITLConfirmation *publish.Confirmation `json:"hitl_confirmation,omitempty"`
}

func (h *handler) publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Publish(r.Context(), actor(r), chi.URLParam(r, "narrative_id"), req.HITLConfirmation)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) unpublish(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Unpublish(r.Context(), actor(r), chi.URLParam(r, "narrative_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	narrativeID := chi.URLParam(r, "narrative_id")
	var req service.ExportRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	reqHash, _, err := canonhash.SumObject(req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	scope := idempotency.Scope{
		ActorID:        actor(r),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
		Endpoint:       "POST /api/narratives/" + narrativeID + "/export",
		RequestHash:    reqHash,
	}
	rec, found, err := idempotency.Replay(r.Context(), h.idem, scope)
	if errors.Is(err, idempotency.ErrKeyReused) {
		writeErr(w, r, apierr.New(apierr.CodeValidation, IdempotencyKeyHeader+" reused with a different request"))
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if found {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
		return
	}

	res, err := h.svc.Export(r.Context(), actor(r), narrativeID, req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	// The token is handed out once; a replay only confirms the export.
	if err := idempotency.Save(r.Context(), h.idem, scope, http.StatusCreated, res.Redacted()); err != nil {
		h.log.Warn("idempotency record not saved", zap.String("narrative_id", narrativeID), zap.Error(err))
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Download(r.Context(), actor(r), chi.URLParam(r, "export_id"), r.URL.Query().Get("token"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) listVersions(w http.ResponseWriter, r *http.Request) {
	vs, err := h.svc.ListVersions(r.Context(), actor(r), chi.URLParam(r, "narrative_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"versions": vs})
}

func (h *handler) diffVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, errA := strconv.Atoi(q.Get("a"))
	b, errB := strconv.Atoi(q.Get("b"))
	if errA != nil || errB != nil {
		httpx.WriteAPIError(w, r, apierr.New(apierr.CodeValidation, "query parameters a and b must be version numbers"))
		return
	}
	changes, err := h.svc.DiffVersions(r.Context(), actor(r), chi.URLParam(r, "narrative_id"), a, b)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

type consentRequest struct {
	FounderConsent *bool `json:"founder_consent"`
}

func (h *handler) setConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if req.FounderConsent == nil {
		httpx.WriteAPIError(w, r, apierr.New(apierr.CodeValidation, "founder_consent is required"))
		return
	}
	pkg, err := h.svc.SetEvidenceConsent(r.Context(), actor(r), chi.URLParam(r, "narrative_id"), *req.FounderConsent)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"package_id":      pkg.ID,
		"founder_consent": pkg.FounderConsent,
		"integrity_hash":  pkg.IntegrityHash,
	})
}
