// Package narrative is a Go client for the narrative service HTTP API.
package narrative

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const userAgent = "narrative-go-sdk/0.1.0"

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Error is a non-2xx response decoded from the service error envelope.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Details    map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("narrative sdk error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// IsCode reports whether err is an *Error carrying code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      RetryConfig
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithToken sets the bearer token sent on authenticated calls. Verify works
// without one.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

func NewIdempotencyKey() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (c *Client) Verify(ctx context.Context, token string) (*Verification, error) {
	var out Verification
	if err := c.do(ctx, http.MethodGet, "/verify/"+url.PathEscape(strings.TrimSpace(token)), nil, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Generate(ctx context.Context, projectID string, req GenerateRequest) (*GenerateResult, error) {
	var out GenerateResult
	path := "/api/projects/" + url.PathEscape(projectID) + "/narrative/generate"
	if err := c.do(ctx, http.MethodPost, path, req, nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetNarrative(ctx context.Context, narrativeID string) (*Narrative, error) {
	var out Narrative
	if err := c.do(ctx, http.MethodGet, narrativePath(narrativeID, ""), nil, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Edit(ctx context.Context, narrativeID string, req EditRequest) (*EditResult, error) {
	var out EditResult
	if err := c.do(ctx, http.MethodPatch, narrativePath(narrativeID, ""), req, nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Publish(ctx context.Context, narrativeID string, confirmation Confirmation) (*PublishResult, error) {
	var out PublishResult
	body := map[string]any{"hitl_confirmation": confirmation}
	if err := c.do(ctx, http.MethodPost, narrativePath(narrativeID, "/publish"), body, nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Unpublish(ctx context.Context, narrativeID string) (*PublishResult, error) {
	var out PublishResult
	if err := c.do(ctx, http.MethodPost, narrativePath(narrativeID, "/unpublish"), nil, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export creates a verification token. A non-empty idempotencyKey makes retries
// safe and enables automatic retry.
func (c *Client) Export(ctx context.Context, narrativeID string, req ExportRequest, idempotencyKey string) (*ExportResult, error) {
	var out ExportResult
	var headers map[string]string
	if k := strings.TrimSpace(idempotencyKey); k != "" {
		headers = map[string]string{"Idempotency-Key": k}
	}
	if err := c.do(ctx, http.MethodPost, narrativePath(narrativeID, "/export"), req, headers, headers != nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListVersions(ctx context.Context, narrativeID string) ([]VersionSummary, error) {
	var out struct {
		Versions []VersionSummary `json:"versions"`
	}
	if err := c.do(ctx, http.MethodGet, narrativePath(narrativeID, "/versions"), nil, nil, true, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

// DiffVersions compares two version numbers; 0 names the current document.
func (c *Client) DiffVersions(ctx context.Context, narrativeID string, a, b int) ([]Change, error) {
	v := url.Values{}
	v.Set("a", strconv.Itoa(a))
	v.Set("b", strconv.Itoa(b))
	var out struct {
		Changes []Change `json:"changes"`
	}
	if err := c.do(ctx, http.MethodGet, narrativePath(narrativeID, "/versions/diff?"+v.Encode()), nil, nil, true, &out); err != nil {
		return nil, err
	}
	return out.Changes, nil
}

func (c *Client) SetEvidenceConsent(ctx context.Context, narrativeID string, consent bool) (map[string]any, error) {
	out := map[string]any{}
	body := map[string]any{"founder_consent": consent}
	if err := c.do(ctx, http.MethodPut, narrativePath(narrativeID, "/evidence-package/consent"), body, nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func narrativePath(id, suffix string) string {
	return "/api/narratives/" + url.PathEscape(id) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, retryable bool, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts && ctx.Err() == nil {
				sleepWithBackoff(c.retry, attempt, "")
				continue
			}
			return err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if len(respBody) == 0 || out == nil {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(c.retry, attempt, resp.Header.Get("Retry-After"))
			continue
		}
		return parseError(resp.StatusCode, respBody)
	}
	return errors.New("unreachable")
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func sleepWithBackoff(cfg RetryConfig, attempt int, retryAfter string) {
	if strings.TrimSpace(retryAfter) != "" {
		if sec, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			d := time.Duration(sec) * time.Second
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			time.Sleep(d)
			return
		}
	}
	max := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max > float64(cfg.MaxDelay) {
		max = float64(cfg.MaxDelay)
	}
	limit := int64(max)
	if limit <= 1 {
		limit = 1
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(limit))
	time.Sleep(time.Duration(n.Int64()))
}

func parseError(status int, body []byte) error {
	out := &Error{StatusCode: status}
	var env struct {
		RequestID string `json:"request_id"`
		Error     struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		out.Message = strings.TrimSpace(string(body))
	} else {
		out.RequestID = env.RequestID
		out.Code = env.Error.Code
		out.Message = env.Error.Message
		out.Details = env.Error.Details
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}
