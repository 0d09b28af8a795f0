// Package agent runs an optional external model over the deterministic draft and
// falls back to the draft whenever the model is unavailable or returns something
// unusable.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/startupai/narrative/pkg/fieldpath"
	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
)

const (
	SourceAgent       = "agent"
	SourceSynthesizer = "synthesizer"
	SourceCache       = "cache"
)

// Composer rewrites the prose of a draft. Implementations must not invent facts; the
// Generator restores numbers and metadata from the draft either way.
type Composer interface {
	Name() string
	Compose(ctx context.Context, draft narrative.Document, b evidence.Bundle) (Content, error)
}

// Content is the part of a document a Composer may write.
type Content struct {
	Cover         narrative.Cover         `json:"cover"`
	Overview      narrative.Overview      `json:"overview"`
	Opportunity   narrative.Opportunity   `json:"opportunity"`
	Problem       narrative.Problem       `json:"problem"`
	Solution      narrative.Solution      `json:"solution"`
	Traction      narrative.Traction      `json:"traction"`
	Customer      narrative.Customer      `json:"customer"`
	Competition   narrative.Competition   `json:"competition"`
	BusinessModel narrative.BusinessModel `json:"business_model"`
	Team          narrative.Team          `json:"team"`
	UseOfFunds    narrative.UseOfFunds    `json:"use_of_funds"`
}

func ContentOf(d narrative.Document) Content {
	return Content{
		Cover:         d.Cover,
		Overview:      d.Overview,
		Opportunity:   d.Opportunity,
		Problem:       d.Problem,
		Solution:      d.Solution,
		Traction:      d.Traction,
		Customer:      d.Customer,
		Competition:   d.Competition,
		BusinessModel: d.BusinessModel,
		Team:          d.Team,
		UseOfFunds:    d.UseOfFunds,
	}
}

type Generator struct {
	Composer Composer
	Timeout  time.Duration
	Log      *zap.Logger
}

// Generate synthesizes the draft and, when a Composer is configured, lets it rewrite
// the prose. It reports which path produced the document.
func (g *Generator) Generate(ctx context.Context, in narrative.Input) (narrative.Document, string) {
	draft := narrative.Synthesize(in)
	if g == nil || g.Composer == nil {
		return draft, SourceSynthesizer
	}
	log := g.Log
	if log == nil {
		log = zap.NewNop()
	}
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	content, err := g.Composer.Compose(ctx, draft, in.Bundle)
	if err != nil {
		log.Warn("narrative agent failed, using synthesizer",
			zap.String("agent", g.Composer.Name()),
			zap.String("project_id", in.Project.ID),
			zap.Error(err))
		return draft, SourceSynthesizer
	}
	doc, err := Merge(draft, content)
	if err != nil {
		log.Warn("narrative agent output unusable, using synthesizer",
			zap.String("agent", g.Composer.Name()),
			zap.String("project_id", in.Project.ID),
			zap.Error(err))
		return draft, SourceSynthesizer
	}
	return doc, SourceAgent
}

// Merge takes the prose of c over draft. Metadata, figures, counts and evidence lists
// always come from draft, and any field left empty is filled from draft or with the
// placeholder.
func Merge(draft narrative.Document, c Content) (narrative.Document, error) {
	out := draft
	out.Cover = c.Cover
	out.Overview = c.Overview
	out.Opportunity = c.Opportunity
	out.Problem = c.Problem
	out.Solution = c.Solution
	out.Traction = c.Traction
	out.Customer = c.Customer
	out.Competition = c.Competition
	out.BusinessModel = c.BusinessModel
	out.Team = c.Team
	out.UseOfFunds = c.UseOfFunds

	out.Cover.DocumentType = draft.Cover.DocumentType
	out.Cover.PresentationDate = draft.Cover.PresentationDate
	out.Opportunity.TAM = draft.Opportunity.TAM
	out.Opportunity.SAM = draft.Opportunity.SAM
	out.Opportunity.SOM = draft.Opportunity.SOM
	out.Problem.SeverityScore = draft.Problem.SeverityScore
	out.Traction.DODirect = draft.Traction.DODirect
	out.Traction.DOIndirect = draft.Traction.DOIndirect
	out.Traction.SayEvidence = draft.Traction.SayEvidence
	out.Traction.InterviewCount = draft.Traction.InterviewCount
	out.Traction.ExperimentCount = draft.Traction.ExperimentCount
	out.BusinessModel.UnitEconomics = draft.BusinessModel.UnitEconomics
	out.Team.CoachabilityScore = draft.Team.CoachabilityScore
	out.UseOfFunds.AskAmount = draft.UseOfFunds.AskAmount
	out.UseOfFunds.Allocations = draft.UseOfFunds.Allocations

	tree, err := narrative.ToTree(out)
	if err != nil {
		return draft, err
	}
	base, err := narrative.ToTree(draft)
	if err != nil {
		return draft, err
	}
	fillEmpty(tree, base)
	return narrative.FromTree(tree)
}

func fillEmpty(tree, base map[string]any) {
	fill := map[string]any{}
	fieldpath.Walk(tree, fieldpath.Visitor{
		Leaf: func(path string, v any) {
			switch x := v.(type) {
			case nil:
				if dv, ok := fieldpath.Get(base, path); ok && dv != nil {
					fill[path] = fieldpath.Clone(dv)
				} else {
					fill[path] = []any{}
				}
			case string:
				if x == "" {
					if dv, ok := fieldpath.Get(base, path); ok {
						if s, _ := dv.(string); s != "" {
							fill[path] = s
							return
						}
					}
					fill[path] = narrative.Placeholder
				}
			}
		},
	})
	for path, v := range fill {
		_ = fieldpath.Set(tree, path, v)
	}
}
