package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
)

type fakeComposer struct {
	content  Content
	err      error
	calls    int
	sawDraft narrative.Document
}

func (f *fakeComposer) Name() string { return "fake" }

func (f *fakeComposer) Compose(_ context.Context, draft narrative.Document, _ evidence.Bundle) (Content, error) {
	f.calls++
	f.sawDraft = draft
	return f.content, f.err
}

func input() narrative.Input {
	return narrative.Input{
		Project: evidence.Project{ID: "p1", Name: "Acme"},
		Bundle: evidence.Bundle{
			Market:         evidence.MarketSizing{TAM: 1e9},
			InterviewCount: 7,
			Experiments:    evidence.Experiments{Say: []evidence.Item{{ID: "e1", Title: "Survey"}}},
			GateScores:     evidence.GateScores{OverallFit: 0.4},
		},
		Now: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestGenerateWithoutComposer(t *testing.T) {
	var g *Generator
	doc, src := g.Generate(context.Background(), input())
	assert.Equal(t, SourceSynthesizer, src)
	assert.Equal(t, "Acme", doc.Cover.VentureName)

	doc, src = (&Generator{}).Generate(context.Background(), input())
	assert.Equal(t, SourceSynthesizer, src)
	assert.Equal(t, 7, doc.Traction.InterviewCount)
}

func TestGenerateFallsBackOnError(t *testing.T) {
	fc := &fakeComposer{err: errors.New("boom")}
	doc, src := (&Generator{Composer: fc}).Generate(context.Background(), input())
	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, SourceSynthesizer, src)
	assert.Equal(t, narrative.Synthesize(input()), doc)
}

func TestGenerateMergesAgentProse(t *testing.T) {
	draft := narrative.Synthesize(input())
	c := ContentOf(draft)
	c.Overview.Thesis = "Acme turns bakery receipts into books."
	c.Cover.Tagline = ""
	c.Opportunity.TAM = narrative.MarketFigure{Value: 99e9, Label: "$99B"}
	c.Traction.InterviewCount = 500
	c.Traction.SayEvidence = nil
	c.Customer.Pains = nil

	fc := &fakeComposer{content: c}
	doc, src := (&Generator{Composer: fc}).Generate(context.Background(), input())
	require.Equal(t, SourceAgent, src)

	assert.Equal(t, "Acme turns bakery receipts into books.", doc.Overview.Thesis)
	assert.Equal(t, draft.Cover.Tagline, doc.Cover.Tagline, "empty prose falls back to the draft")
	assert.Equal(t, draft.Opportunity.TAM, doc.Opportunity.TAM)
	assert.Equal(t, 7, doc.Traction.InterviewCount)
	assert.Len(t, doc.Traction.SayEvidence, 1)
	assert.NotNil(t, doc.Customer.Pains)
	assert.Equal(t, draft.Metadata, doc.Metadata)
}

func TestMergeFillsPlaceholderWhenDraftEmpty(t *testing.T) {
	draft := narrative.Synthesize(input())
	draft.Solution.HowItWorks = ""
	c := ContentOf(draft)
	out, err := Merge(draft, c)
	require.NoError(t, err)
	assert.Equal(t, narrative.Placeholder, out.Solution.HowItWorks)
}

func TestDecodeModelJSON(t *testing.T) {
	var v struct {
		A string `json:"a"`
	}
	require.NoError(t, DecodeModelJSON(`{"a":"x"}`, &v))
	assert.Equal(t, "x", v.A)

	require.NoError(t, DecodeModelJSON("Here you go:\n```json\n{\"a\":\"y\"}\n```", &v))
	assert.Equal(t, "y", v.A)

	assert.Error(t, DecodeModelJSON("", &v))
	assert.Error(t, DecodeModelJSON("no json here", &v))
}

func TestNewOpenAIValidates(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{Model: "gpt-4.1"})
	assert.Error(t, err)
	_, err = NewOpenAI(OpenAIConfig{APIKey: "k"})
	assert.Error(t, err)

	o, err := NewOpenAI(OpenAIConfig{APIKey: "k", Model: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4.1", o.Name())
	assert.Equal(t, false, o.schema["additionalProperties"])
}
