package evidence

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Snapshot holds the raw collaborator reads next to the Bundle derived from them.
// Nil pointers mean the read returned nothing.
type Snapshot struct {
	Project          *Project
	Founder          *FounderProfile
	Hypotheses       []Hypothesis
	ValueProposition *ValueProposition
	ValidationState  *ValidationState
	Evidence         []Item
	Approvals        []ApprovalRecord
	Bundle           Bundle
}

type Aggregator struct {
	src Source
	log *zap.Logger
}

func NewAggregator(src Source, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{src: src, log: log}
}

// Aggregate fans out the independent collaborator reads, joins them and derives the
// Bundle. It never fails: a read that errors contributes its zero value.
func (a *Aggregator) Aggregate(ctx context.Context, projectID string) Snapshot {
	var s Snapshot
	var g errgroup.Group
	lg := a.log.With(zap.String("project_id", projectID))
	degrade := func(read string, err error) {
		lg.Warn("evidence read degraded", zap.String("read", read), zap.Error(err))
	}

	g.Go(func() error {
		p, err := a.src.GetProject(ctx, projectID)
		if err != nil {
			degrade("project", err)
			return nil
		}
		s.Project = &p
		return nil
	})
	g.Go(func() error {
		f, err := a.src.GetFounderProfile(ctx, projectID)
		if err != nil {
			degrade("founder_profile", err)
			return nil
		}
		s.Founder = &f
		return nil
	})
	g.Go(func() error {
		items, err := a.src.ListEvidence(ctx, projectID)
		if err != nil {
			degrade("evidence", err)
			return nil
		}
		s.Evidence = items
		return nil
	})
	g.Go(func() error {
		hs, err := a.src.ListHypotheses(ctx, projectID)
		if err != nil {
			degrade("hypotheses", err)
			return nil
		}
		s.Hypotheses = hs
		return nil
	})
	g.Go(func() error {
		vp, err := a.src.LatestValueProposition(ctx, projectID)
		if err != nil {
			degrade("value_proposition", err)
			return nil
		}
		s.ValueProposition = &vp
		return nil
	})
	g.Go(func() error {
		vs, err := a.src.LatestValidationState(ctx, projectID)
		if err != nil {
			degrade("validation_state", err)
			return nil
		}
		s.ValidationState = &vs
		return nil
	})
	g.Go(func() error {
		ap, err := a.src.ListApprovals(ctx, projectID)
		if err != nil {
			degrade("approvals", err)
			return nil
		}
		s.Approvals = ap
		return nil
	})
	_ = g.Wait()

	s.Bundle = BuildBundle(projectID, s)
	return s
}

// BuildBundle derives the canonical Bundle from raw reads.
func BuildBundle(projectID string, s Snapshot) Bundle {
	b := Bundle{
		ProjectID:  projectID,
		Hypotheses: nonNilHypotheses(s.Hypotheses),
	}
	if s.ValueProposition != nil {
		b.ValueProposition = *s.ValueProposition
	}
	b.ValueProposition = normalizeValueProposition(b.ValueProposition)

	var signals [3]Signal
	if vs := s.ValidationState; vs != nil {
		b.CustomerProfile = vs.CustomerProfile
		b.CompetitorMap = vs.CompetitorMap
		b.BusinessModel = vs.BusinessModel
		b.Market = vs.Market
		b.FundingAsk = vs.FundingAsk
		b.ValidationStage = strings.TrimSpace(vs.ValidationStage)
		signals = [3]Signal{vs.DesirabilitySignal, vs.FeasibilitySignal, vs.ViabilitySignal}
	}
	b.CustomerProfile = normalizeCustomerProfile(b.CustomerProfile)
	b.CompetitorMap = normalizeCompetitorMap(b.CompetitorMap)
	b.BusinessModel.Channels = nonNil(b.BusinessModel.Channels)
	b.BusinessModel.KeyPartners = nonNil(b.BusinessModel.KeyPartners)
	b.FundingAsk.Milestones = nonNil(b.FundingAsk.Milestones)
	if b.FundingAsk.Allocations == nil {
		b.FundingAsk.Allocations = map[string]float64{}
	}
	if b.ValidationStage == "" {
		b.ValidationStage = "desirability"
	}

	b.Experiments = ClassifyEvidence(s.Evidence)
	for _, it := range s.Evidence {
		if strings.EqualFold(it.EvidenceType, "interview") {
			b.InterviewCount++
		}
	}
	b.GateScores = ScoreGates(signals[0], signals[1], signals[2])
	b.HITL, b.PivotsRecorded = summarizeApprovals(s.Approvals)
	return b
}

// ClassifyEvidence partitions items by narrative_category; untagged items are SAY.
// Each partition keeps newest-first order.
func ClassifyEvidence(items []Item) Experiments {
	out := Experiments{DODirect: []Item{}, DOIndirect: []Item{}, Say: []Item{}}
	sorted := append([]Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	for _, it := range sorted {
		switch ParseCategory(it.NarrativeCategory) {
		case DODirect:
			out.DODirect = append(out.DODirect, it)
		case DOIndirect:
			out.DOIndirect = append(out.DOIndirect, it)
		default:
			out.Say = append(out.Say, it)
		}
	}
	return out
}

func SignalScore(s Signal) float64 {
	switch Signal(strings.ToLower(strings.TrimSpace(string(s)))) {
	case SignalStrong:
		return 0.8
	case SignalModerate:
		return 0.5
	default:
		return 0.2
	}
}

// ScoreGates maps the three axis signals to scores; overall_fit is their
// unweighted mean.
func ScoreGates(desirability, feasibility, viability Signal) GateScores {
	g := GateScores{
		Desirability: SignalScore(desirability),
		Feasibility:  SignalScore(feasibility),
		Viability:    SignalScore(viability),
	}
	g.OverallFit = round2((g.Desirability + g.Feasibility + g.Viability) / 3)
	return g
}

func summarizeApprovals(records []ApprovalRecord) (HITLRecord, int) {
	var h HITLRecord
	pivots := 0
	for _, r := range records {
		h.Total++
		switch strings.ToLower(r.Decision) {
		case DecisionApproved:
			h.Approved++
		case DecisionRevised:
			h.Revised++
		case DecisionRejected:
			h.Rejected++
		}
		if r.CheckpointType == CheckpointPivot && strings.EqualFold(r.Decision, DecisionApproved) {
			pivots++
		}
		if h.LastCheckpointAt == nil || r.CreatedAt.After(*h.LastCheckpointAt) {
			at := r.CreatedAt.UTC()
			h.LastCheckpointAt = &at
		}
	}
	if h.Total > 0 {
		h.CoachabilityScore = round2(float64(h.Approved+h.Revised) / float64(h.Total))
	}
	return h, pivots
}

func normalizeValueProposition(vp ValueProposition) ValueProposition {
	vp.Jobs = nonNil(vp.Jobs)
	vp.Pains = nonNil(vp.Pains)
	vp.Gains = nonNil(vp.Gains)
	vp.PainRelievers = nonNil(vp.PainRelievers)
	vp.GainCreators = nonNil(vp.GainCreators)
	vp.ProductsServices = nonNil(vp.ProductsServices)
	return vp
}

func normalizeCustomerProfile(c CustomerProfile) CustomerProfile {
	c.Behaviors = nonNil(c.Behaviors)
	c.Channels = nonNil(c.Channels)
	return c
}

func normalizeCompetitorMap(c CompetitorMap) CompetitorMap {
	if c.Competitors == nil {
		c.Competitors = []Competitor{}
	}
	c.Differentiators = nonNil(c.Differentiators)
	return c
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

func nonNilHypotheses(hs []Hypothesis) []Hypothesis {
	if hs == nil {
		return []Hypothesis{}
	}
	return hs
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
