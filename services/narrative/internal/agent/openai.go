package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
)

const composerInstructions = `You write investor pitch narratives for early-stage startups.
You receive a draft narrative and the evidence behind it as JSON.
Rewrite the prose of every section so it reads naturally for investors.
Rules:
- Never add facts, numbers, customers or competitors that are not in the input.
- Keep every list item grounded in the input; you may reword but not invent.
- Match claim strength to the evidence: SAY evidence is stated intent, DO-indirect is indirect behavior, DO-direct is observed behavior.
- Do not use "proven" or "validated" unless DO-direct evidence exists.
- If a field has no supporting input, write "to be validated".
Return only JSON matching the schema.`

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxOutputTokens int64
	MaxRetries      int
}

// OpenAI composes narratives with the Responses API using a strict JSON schema of
// Content.
type OpenAI struct {
	client     *openai.Client
	model      string
	maxTokens  int64
	maxRetries int
	schema     map[string]any
	backoff    []time.Duration
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai: model is required")
	}
	schema, err := narrative.StrictSchema[Content]()
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	o := &OpenAI{
		client:     &client,
		model:      cfg.Model,
		maxTokens:  cfg.MaxOutputTokens,
		maxRetries: cfg.MaxRetries,
		schema:     schema,
		backoff:    []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second},
	}
	if o.maxTokens <= 0 {
		o.maxTokens = 6000
	}
	if o.maxRetries <= 0 {
		o.maxRetries = 2
	}
	return o, nil
}

func (o *OpenAI) Name() string { return "openai:" + o.model }

type composeInput struct {
	Draft    Content         `json:"draft"`
	Evidence evidence.Bundle `json:"evidence"`
	Strength string          `json:"evidence_strength"`
	FitScore float64         `json:"overall_fit_score"`
}

func (o *OpenAI) Compose(ctx context.Context, draft narrative.Document, b evidence.Bundle) (Content, error) {
	payload, err := json.Marshal(composeInput{
		Draft:    ContentOf(draft),
		Evidence: b,
		Strength: string(draft.Metadata.EvidenceStrength),
		FitScore: draft.Metadata.OverallFitScore,
	})
	if err != nil {
		return Content{}, err
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(o.maxTokens),
		Instructions:    openai.String(composerInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(string(payload), responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "PitchNarrative",
					Schema:      o.schema,
					Strict:      openai.Bool(true),
					Description: openai.String("Pitch narrative sections"),
					Type:        "json_schema",
				},
			},
		},
	}

	resp, err := o.callWithRetry(ctx, params)
	if err != nil {
		return Content{}, err
	}
	var out Content
	if err := DecodeModelJSON(resp.OutputText(), &out); err != nil {
		return Content{}, fmt.Errorf("decode narrative: %w", err)
	}
	return out, nil
}

func (o *OpenAI) callWithRetry(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		resp, err := o.client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || attempt == o.maxRetries {
			break
		}
		wait := o.backoff[min(attempt, len(o.backoff)-1)]
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func retryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate limit") || strings.Contains(s, "server_error")
}

// DecodeModelJSON decodes model output, falling back to the outermost JSON object
// when the model wraps it in prose.
func DecodeModelJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("unmarshal extracted JSON (len=%d): %w", end+1-start, err)
	}
	return nil
}
