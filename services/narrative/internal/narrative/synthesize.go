package narrative

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/startupai/narrative/services/narrative/internal/evidence"
)

// Input is everything the Synthesizer reads. Founder may be nil.
type Input struct {
	Project         evidence.Project
	Bundle          evidence.Bundle
	Founder         *evidence.FounderProfile
	Evidence        []evidence.Item
	PriorPivotCount int
	Now             time.Time
}

// Synthesize fills every section of a Document from the bundle. It never fails and
// never leaves a string empty: missing inputs become Placeholder.
func Synthesize(in Input) Document {
	b := in.Bundle
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	d := Document{
		Version:       DocumentVersion,
		Cover:         synthCover(in, now),
		Overview:      synthOverview(in),
		Opportunity:   synthOpportunity(b),
		Problem:       synthProblem(b),
		Solution:      synthSolution(b),
		Traction:      synthTraction(b),
		Customer:      synthCustomer(b),
		Competition:   synthCompetition(b),
		BusinessModel: synthBusinessModel(b),
		Team:          synthTeam(in),
		UseOfFunds:    synthUseOfFunds(b),
	}
	pivots := b.PivotsRecorded
	if in.PriorPivotCount > pivots {
		pivots = in.PriorPivotCount
	}
	d.Metadata = Metadata{
		Methodology:      Methodology,
		OverallFitScore:  b.GateScores.OverallFit,
		EvidenceStrength: b.Experiments.Strongest(),
		ValidationStage:  or(b.ValidationStage, "desirability"),
		PivotCount:       pivots,
		EvidenceGaps:     DetectGaps(in),
		GeneratedAt:      now.UTC().Format(time.RFC3339),
	}
	return d
}

func synthCover(in Input, now time.Time) Cover {
	c := Cover{
		VentureName:      or(in.Project.Name, Placeholder),
		Tagline:          or(first(in.Bundle.ValueProposition.ValueStatement, in.Project.Description), Placeholder),
		DocumentType:     "pitch_narrative",
		PresentationDate: now.UTC().Format("2006-01-02"),
		FounderName:      Placeholder,
		ContactEmail:     Placeholder,
		Website:          Placeholder,
	}
	if f := in.Founder; f != nil {
		c.FounderName = or(f.Name, Placeholder)
		c.ContactEmail = or(f.Email, Placeholder)
		c.Website = or(f.Website, Placeholder)
	}
	return c
}

func synthOverview(in Input) Overview {
	b := in.Bundle
	vp := b.ValueProposition
	segment := or(b.CustomerProfile.Segment, "its target customers")
	o := Overview{
		Industry:     or(in.Project.Industry, Placeholder),
		NovelInsight: or(first(vp.KeyDifferentiator, b.CompetitorMap.UnfairAdvantage), Placeholder),
		KeyMetrics:   keyMetrics(b),
	}
	if name := strings.TrimSpace(in.Project.Name); name != "" && vp.ValueStatement != "" {
		o.Thesis = fmt.Sprintf("%s helps %s: %s", name, segment, strings.TrimSpace(vp.ValueStatement))
	} else {
		o.Thesis = or(in.Project.Description, Placeholder)
	}
	if len(vp.Jobs) > 0 {
		o.OneLiner = fmt.Sprintf("Helping %s %s.", segment, lowerFirst(vp.Jobs[0]))
	} else {
		o.OneLiner = or(in.Project.Description, Placeholder)
	}
	return o
}

func keyMetrics(b evidence.Bundle) []string {
	out := []string{
		fmt.Sprintf("%d customer interviews", b.InterviewCount),
		fmt.Sprintf("%d experiments", b.Experiments.Total()),
		fmt.Sprintf("%d hypotheses tracked", len(b.Hypotheses)),
	}
	for _, it := range b.Experiments.DODirect {
		if it.Metric != "" && it.Value != "" {
			out = append(out, fmt.Sprintf("%s: %s", it.Metric, it.Value))
		}
	}
	return out
}

func synthOpportunity(b evidence.Bundle) Opportunity {
	m := b.Market
	return Opportunity{
		TAM:               MarketFigure{Value: m.TAM, Label: moneyLabel(m.TAM)},
		SAM:               MarketFigure{Value: m.SAM, Label: moneyLabel(m.SAM)},
		SOM:               MarketFigure{Value: m.SOM, Label: moneyLabel(m.SOM)},
		MarketDescription: or(m.Description, Placeholder),
		WhyNow:            or(m.WhyNow, Placeholder),
	}
}

func synthProblem(b evidence.Bundle) Problem {
	vp := b.ValueProposition
	p := Problem{
		PrimaryPain:        Placeholder,
		PainNarrative:      Placeholder,
		AffectedPopulation: or(first(b.CustomerProfile.Segment, b.CustomerProfile.Persona), Placeholder),
		StatusQuo:          Placeholder,
		Hypotheses:         hypothesisStatements(b.Hypotheses),
		SeverityScore:      b.GateScores.Desirability,
	}
	if len(vp.Pains) > 0 {
		p.PrimaryPain = vp.Pains[0]
		p.PainNarrative = fmt.Sprintf("Customers report: %s.", joinList(vp.Pains))
	}
	if len(b.CompetitorMap.Competitors) > 0 {
		names := make([]string, 0, len(b.CompetitorMap.Competitors))
		for _, c := range b.CompetitorMap.Competitors {
			names = append(names, c.Name)
		}
		p.StatusQuo = fmt.Sprintf("Today customers rely on %s.", joinList(names))
	}
	return p
}

func hypothesisStatements(hs []evidence.Hypothesis) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		if s := strings.TrimSpace(h.Statement); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func synthSolution(b evidence.Bundle) Solution {
	vp := b.ValueProposition
	s := Solution{
		ValueProposition:  or(vp.ValueStatement, Placeholder),
		HowItWorks:        Placeholder,
		KeyDifferentiator: or(vp.KeyDifferentiator, Placeholder),
		PainRelievers:     nonNil(vp.PainRelievers),
		GainCreators:      nonNil(vp.GainCreators),
		Products:          nonNil(vp.ProductsServices),
	}
	if len(vp.ProductsServices) > 0 {
		s.HowItWorks = fmt.Sprintf("Delivered through %s.", joinList(vp.ProductsServices))
	}
	return s
}

func synthTraction(b evidence.Bundle) Traction {
	e := b.Experiments
	return Traction{
		EvidenceSummary: tractionSummary(b),
		DODirect:        tractionItems(e.DODirect),
		DOIndirect:      tractionItems(e.DOIndirect),
		SayEvidence:     tractionItems(e.Say),
		InterviewCount:  b.InterviewCount,
		ExperimentCount: e.Total(),
	}
}

func tractionSummary(b evidence.Bundle) string {
	e := b.Experiments
	switch e.Strongest() {
	case evidence.DODirect:
		return fmt.Sprintf("Customer behavior observed directly in %d experiment(s), supported by %d indirect signal(s) and %d interview(s).",
			len(e.DODirect), len(e.DOIndirect), b.InterviewCount)
	case evidence.DOIndirect:
		return fmt.Sprintf("Indirect behavioral signals from %d data point(s) and %d interview(s); no direct behavioral evidence yet.",
			len(e.DOIndirect), b.InterviewCount)
	default:
		if e.Total() == 0 && b.InterviewCount == 0 {
			return Placeholder
		}
		return fmt.Sprintf("Stated intent from %d item(s) across %d interview(s); behavior not yet observed.",
			len(e.Say), b.InterviewCount)
	}
}

func tractionItems(items []evidence.Item) []TractionItem {
	out := make([]TractionItem, 0, len(items))
	for _, it := range items {
		out = append(out, TractionItem{
			Title:   or(it.Title, Placeholder),
			Summary: or(it.Summary, Placeholder),
			Metric:  or(it.Metric, Placeholder),
			Value:   or(it.Value, Placeholder),
		})
	}
	return out
}

func synthCustomer(b evidence.Bundle) Customer {
	cp := b.CustomerProfile
	vp := b.ValueProposition
	return Customer{
		Segment:             or(cp.Segment, Placeholder),
		Persona:             or(cp.Persona, Placeholder),
		Behaviors:           nonNil(cp.Behaviors),
		JobsToBeDone:        nonNil(vp.Jobs),
		Pains:               nonNil(vp.Pains),
		Gains:               nonNil(vp.Gains),
		AcquisitionChannels: nonNil(cp.Channels),
		WillingnessToPay:    or(cp.WillingToPay, Placeholder),
	}
}

func synthCompetition(b evidence.Bundle) Competition {
	cm := b.CompetitorMap
	c := Competition{
		LandscapeSummary: Placeholder,
		Competitors:      make([]CompetitorEntry, 0, len(cm.Competitors)),
		Differentiators:  nonNil(cm.Differentiators),
		UnfairAdvantage:  or(cm.UnfairAdvantage, Placeholder),
	}
	for _, comp := range cm.Competitors {
		c.Competitors = append(c.Competitors, CompetitorEntry{
			Name:        or(comp.Name, Placeholder),
			Positioning: or(comp.Positioning, Placeholder),
			Weakness:    or(comp.Weakness, Placeholder),
		})
	}
	if n := len(cm.Competitors); n > 0 {
		c.LandscapeSummary = fmt.Sprintf("%d alternative(s) mapped.", n)
		if d := joinList(cm.Differentiators); d != "" {
			c.LandscapeSummary = fmt.Sprintf("%d alternative(s) mapped; differentiation rests on %s.", n, d)
		}
	}
	return c
}

func synthBusinessModel(b evidence.Bundle) BusinessModel {
	bm := b.BusinessModel
	ue := UnitEconomics{CAC: bm.CAC, LTV: bm.LTV}
	if bm.CAC > 0 {
		ue.LTVToCAC = math.Round(bm.LTV/bm.CAC*100) / 100
	}
	return BusinessModel{
		RevenueModel:  or(bm.RevenueModel, Placeholder),
		Pricing:       or(bm.Pricing, Placeholder),
		UnitEconomics: ue,
		Channels:      nonNil(bm.Channels),
		KeyPartners:   nonNil(bm.KeyPartners),
	}
}

func synthTeam(in Input) Team {
	t := Team{
		Summary:           Placeholder,
		Members:           []TeamMember{},
		CoachabilityScore: in.Bundle.HITL.CoachabilityScore,
	}
	if f := in.Founder; f != nil && strings.TrimSpace(f.Name) != "" {
		t.Members = append(t.Members, TeamMember{
			Name:       f.Name,
			Role:       or(f.Role, "Founder"),
			Background: or(f.Background, Placeholder),
		})
		t.Summary = fmt.Sprintf("Led by %s (%s).", f.Name, or(f.Role, "Founder"))
	}
	return t
}

func synthUseOfFunds(b evidence.Bundle) UseOfFunds {
	ask := b.FundingAsk
	u := UseOfFunds{
		AskAmount:   ask.Amount,
		Instrument:  or(ask.Instrument, Placeholder),
		Allocations: make([]Allocation, 0, len(ask.Allocations)),
		Milestones:  nonNil(ask.Milestones),
	}
	categories := make([]string, 0, len(ask.Allocations))
	for k := range ask.Allocations {
		categories = append(categories, k)
	}
	sort.Strings(categories)
	for _, k := range categories {
		amount := ask.Allocations[k]
		a := Allocation{Category: k, Amount: amount}
		if ask.Amount > 0 {
			a.Percentage = math.Round(amount/ask.Amount*1000) / 10
		}
		u.Allocations = append(u.Allocations, a)
	}
	return u
}

// DetectGaps reports per-section evidence gaps. Only missing traction evidence and
// missing customer pains block publication.
func DetectGaps(in Input) map[string]EvidenceGap {
	b := in.Bundle
	gaps := map[string]EvidenceGap{}
	if b.Experiments.Total() == 0 {
		gaps[SectionTraction] = EvidenceGap{
			GapType:           "missing_evidence",
			Description:       "No experiment or behavioral evidence recorded.",
			RecommendedAction: "Run at least one experiment and log its results.",
			BlockingPublish:   true,
		}
	}
	if len(b.ValueProposition.Pains) == 0 {
		gaps[SectionProblem] = EvidenceGap{
			GapType:           "missing_customer_pains",
			Description:       "No customer pains captured in the value proposition.",
			RecommendedAction: "Capture pains from customer interviews.",
			BlockingPublish:   true,
		}
	}
	if len(b.CompetitorMap.Competitors) == 0 {
		gaps[SectionCompetition] = EvidenceGap{
			GapType:           "missing_competitors",
			Description:       "No competitors or alternatives mapped.",
			RecommendedAction: "Map the alternatives customers use today.",
		}
	}
	if strings.TrimSpace(b.BusinessModel.RevenueModel) == "" {
		gaps[SectionBusinessModel] = EvidenceGap{
			GapType:           "missing_revenue_model",
			Description:       "Revenue model not defined.",
			RecommendedAction: "Describe how the venture charges customers.",
		}
	}
	if in.Founder == nil || strings.TrimSpace(in.Founder.Name) == "" {
		gaps[SectionTeam] = EvidenceGap{
			GapType:           "missing_founder_profile",
			Description:       "No founder profile available.",
			RecommendedAction: "Complete the founder profile.",
		}
	}
	if b.FundingAsk.Amount <= 0 {
		gaps[SectionUseOfFunds] = EvidenceGap{
			GapType:           "missing_funding_ask",
			Description:       "No funding ask recorded.",
			RecommendedAction: "State the amount and instrument being raised.",
		}
	}
	if len(gaps) == 0 {
		return nil
	}
	return gaps
}

func moneyLabel(v float64) string {
	switch {
	case v <= 0:
		return Placeholder
	case v >= 1e9:
		return fmt.Sprintf("$%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.0fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}

func or(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return strings.TrimSpace(s)
}

func first(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

func joinList(xs []string) string {
	switch len(xs) {
	case 0:
		return ""
	case 1:
		return xs[0]
	default:
		return strings.Join(xs[:len(xs)-1], ", ") + " and " + xs[len(xs)-1]
	}
}

func lowerFirst(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
