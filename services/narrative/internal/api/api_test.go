package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/startupai/narrative/pkg/authn"
	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/service"
	"github.com/startupai/narrative/services/narrative/internal/store"
)

const (
	ownerToken = "tok_owner"
	otherToken = "tok_other"
)

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	h, _ := newTestRouterWithStore(t, opts)
	return h
}

func newTestRouterWithStore(t *testing.T, opts Options) (http.Handler, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	st.PutToken(ownerToken, authn.Identity{UserID: "usr_owner"})
	st.PutToken(otherToken, authn.Identity{UserID: "usr_other"})

	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	st.PutProject(evidence.Project{ID: "prj_1", OwnerID: "usr_owner", Name: "Ledgerly"})
	st.AddHypotheses(evidence.Hypothesis{ID: "h1", ProjectID: "prj_1", Statement: "Finance teams lose hours reconciling", CreatedAt: at})
	st.AddValueProposition(evidence.ValueProposition{ID: "vp1", ProjectID: "prj_1", Pains: []string{"manual reconciliation"}, CreatedAt: at})
	st.AddValidationState(evidence.ValidationState{ProjectID: "prj_1", CustomerProfile: evidence.CustomerProfile{Segment: "finance teams"}})
	st.AddEvidence(evidence.Item{ID: "e1", ProjectID: "prj_1", Title: "Paid pilot signups", NarrativeCategory: "DO-direct", CreatedAt: at})

	svc := service.New(st, nil, service.Config{PublicBaseURL: "https://pitch.example.com"}, nil)
	return NewRouter(svc, authn.New(st), st, opts), st
}

func do(t *testing.T, h http.Handler, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := decode(t, rr)["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error object in %s", rr.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestFeatureGateHidesEveryNarrativeRoute(t *testing.T) {
	h := newTestRouter(t, Options{Enabled: false})

	if rr := do(t, h, http.MethodGet, "/health", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rr.Code)
	}
	for _, path := range []string{"/verify/abc", "/api/narratives/nar_1", "/api/schema/narrative"} {
		rr := do(t, h, http.MethodGet, path, ownerToken, nil)
		if rr.Code != http.StatusNotFound || errorCode(t, rr) != "NOT_FOUND" {
			t.Fatalf("%s: expected NOT_FOUND, got %d %s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestRouter(t, Options{Enabled: true})

	rr := do(t, h, http.MethodPost, "/api/projects/prj_1/narrative/generate", "", nil)
	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/api/projects/prj_1/narrative/generate", "tok_unknown", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/api/projects/prj_1/narrative/generate", otherToken, nil)
	if rr.Code != http.StatusForbidden || errorCode(t, rr) != "FORBIDDEN" {
		t.Fatalf("expected 403, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestNarrativeFlowOverHTTP(t *testing.T) {
	h := newTestRouter(t, Options{Enabled: true})

	rr := do(t, h, http.MethodPost, "/api/projects/prj_1/narrative/generate", ownerToken, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("generate: expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	narrativeID, _ := decode(t, rr)["narrative_id"].(string)
	if narrativeID == "" {
		t.Fatalf("missing narrative_id")
	}
	base := "/api/narratives/" + narrativeID

	rr = do(t, h, http.MethodPatch, base, ownerToken, map[string]any{
		"edits": []map[string]any{{"field": "cover.tagline", "new_value": "Books that close themselves"}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if got := decode(t, rr)["alignment_status"]; got != "verified" {
		t.Fatalf("edit: unexpected alignment_status %v", got)
	}

	rr = do(t, h, http.MethodPost, base+"/publish", ownerToken, nil)
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "PUBLISH_BLOCKED" {
		t.Fatalf("publish without confirmation: expected 409 PUBLISH_BLOCKED, got %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "HITL_CONFIRMATION_REQUIRED") {
		t.Fatalf("expected blocker list in %s", rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, base+"/publish", ownerToken, map[string]any{
		"hitl_confirmation": map[string]bool{
			"reviewed_slides": true, "verified_traction": true, "added_context": true, "confirmed_ask": true,
		},
	})
	if rr.Code != http.StatusOK || decode(t, rr)["first_publish"] != true {
		t.Fatalf("publish: expected first publish, got %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, base+"/export", ownerToken, map[string]any{"format": "json"}, IdempotencyKeyHeader, "idem-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("export: expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	exp := decode(t, rr)
	token, _ := exp["verification_token"].(string)
	if token == "" {
		t.Fatalf("export: missing verification_token in %s", rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, base+"/export", ownerToken, map[string]any{"format": "json"}, IdempotencyKeyHeader, "idem-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("export replay: expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	replay := decode(t, rr)
	if replay["export_id"] != exp["export_id"] || replay["generation_hash"] != exp["generation_hash"] {
		t.Fatalf("export replay: expected the same export, got %s", rr.Body.String())
	}
	if replay["verification_token"] != "" || strings.Contains(rr.Body.String(), token) {
		t.Fatalf("export replay must not repeat the token: %s", rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/verify/"+token, "", nil)
	if rr.Code != http.StatusOK || decode(t, rr)["status"] != "verified" {
		t.Fatalf("verify: expected verified, got %d %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "fit_score") {
		t.Fatalf("verify response must not carry scores: %s", rr.Body.String())
	}

	download, _ := exp["download_url"].(string)
	rr = do(t, h, http.MethodGet, strings.TrimPrefix(download, "https://pitch.example.com"), ownerToken, nil)
	if rr.Code != http.StatusOK || decode(t, rr)["is_current"] != true {
		t.Fatalf("download: expected current payload, got %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, base+"/versions", ownerToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("versions: expected 200, got %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, base+"/versions/diff?a=x&b=0", ownerToken, nil)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "VALIDATION_ERROR" {
		t.Fatalf("diff: expected 400, got %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, base+"/unpublish", ownerToken, nil)
	if rr.Code != http.StatusOK || decode(t, rr)["is_published"] != false {
		t.Fatalf("unpublish: got %d %s", rr.Code, rr.Body.String())
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	h := newTestRouter(t, Options{Enabled: true})
	rr := do(t, h, http.MethodPost, "/api/projects/prj_1/narrative/generate", ownerToken, nil)
	narrativeID, _ := decode(t, rr)["narrative_id"].(string)

	rr = do(t, h, http.MethodPost, "/api/narratives/"+narrativeID+"/export", ownerToken, map[string]any{"format": "docx"})
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "FORMAT_NOT_SUPPORTED" {
		t.Fatalf("expected FORMAT_NOT_SUPPORTED, got %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/api/narratives/"+narrativeID+"/export", ownerToken, map[string]any{"format": "pdf", "colour": true})
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "VALIDATION_ERROR" {
		t.Fatalf("expected unknown fields rejected, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestVerifyRateLimited(t *testing.T) {
	h := newTestRouter(t, Options{Enabled: true, Limits: Limits{VerifyPerMinute: 1}})

	if rr := do(t, h, http.MethodGet, "/verify/unknown", "", nil); rr.Code != http.StatusOK || decode(t, rr)["status"] != "not_found" {
		t.Fatalf("expected not_found status, got %d %s", rr.Code, rr.Body.String())
	}
	rr := do(t, h, http.MethodGet, "/verify/unknown", "", nil)
	if rr.Code != http.StatusTooManyRequests || errorCode(t, rr) != "RATE_LIMITED" {
		t.Fatalf("expected 429, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestWindowLimiterDeterministic(t *testing.T) {
	limiter := newWindowLimiter(2, time.Minute)
	now := time.Date(2026, 2, 19, 8, 0, 0, 0, time.UTC)
	if !limiter.AllowAt("k", now) || !limiter.AllowAt("k", now.Add(time.Second)) {
		t.Fatalf("expected first two requests allowed")
	}
	if limiter.AllowAt("k", now.Add(2*time.Second)) {
		t.Fatalf("expected third request blocked")
	}
	if !limiter.AllowAt("other", now) {
		t.Fatalf("expected keys to be independent")
	}
	if !limiter.AllowAt("k", now.Add(time.Minute)) {
		t.Fatalf("expected a new window to reset the count")
	}
	if !newWindowLimiter(0, time.Minute).Allow("k") {
		t.Fatalf("expected a disabled limiter to allow")
	}
}

func TestWindowLimiterDropsExpiredWindows(t *testing.T) {
	limiter := newWindowLimiter(1, time.Minute)
	now := time.Date(2026, 2, 19, 8, 0, 0, 0, time.UTC)
	for i := 0; i <= sweepThreshold; i++ {
		limiter.AllowAt("addr:"+strconv.Itoa(i), now)
	}
	if got := limiter.tracked(); got != sweepThreshold+1 {
		t.Fatalf("expected %d tracked keys, got %d", sweepThreshold+1, got)
	}
	if !limiter.AllowAt("late", now.Add(time.Minute)) {
		t.Fatalf("expected a fresh key to be allowed")
	}
	if got := limiter.tracked(); got != 1 {
		t.Fatalf("expected expired windows dropped, %d keys left", got)
	}
}

func TestExportIdempotencyRecordHoldsNoToken(t *testing.T) {
	h, st := newTestRouterWithStore(t, Options{Enabled: true})
	rr := do(t, h, http.MethodPost, "/api/projects/prj_1/narrative/generate", ownerToken, nil)
	narrativeID, _ := decode(t, rr)["narrative_id"].(string)
	path := "/api/narratives/" + narrativeID + "/export"

	rr = do(t, h, http.MethodPost, path, ownerToken, map[string]any{"format": "json"}, IdempotencyKeyHeader, "idem-tok")
	if rr.Code != http.StatusCreated {
		t.Fatalf("export: expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	token, _ := decode(t, rr)["verification_token"].(string)

	rec, found, err := st.GetIdempotencyRecord(context.Background(), "usr_owner", "idem-tok", "POST "+path)
	if err != nil || !found {
		t.Fatalf("expected a saved record, found=%v err=%v", found, err)
	}
	if token == "" || bytes.Contains(rec.Body, []byte(token)) {
		t.Fatalf("saved record carries the token: %s", rec.Body)
	}
	if bytes.Contains(rec.Body, []byte("/verify/")) || bytes.Contains(rec.Body, []byte("token=")) {
		t.Fatalf("saved record carries a tokenized URL: %s", rec.Body)
	}
	if rec.RequestHash == "" {
		t.Fatalf("saved record has no request hash")
	}
}

func TestExportKeyReusedWithDifferentBody(t *testing.T) {
	h := newTestRouter(t, Options{Enabled: true})
	rr := do(t, h, http.MethodPost, "/api/projects/prj_1/narrative/generate", ownerToken, nil)
	narrativeID, _ := decode(t, rr)["narrative_id"].(string)
	path := "/api/narratives/" + narrativeID + "/export"

	rr = do(t, h, http.MethodPost, path, ownerToken, map[string]any{"format": "json"}, IdempotencyKeyHeader, "idem-2")
	if rr.Code != http.StatusCreated {
		t.Fatalf("export: expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, path, ownerToken, map[string]any{"format": "pdf"}, IdempotencyKeyHeader, "idem-2")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for a reused key, got %d %s", rr.Code, rr.Body.String())
	}
}
