// Package evidence reads validation evidence for a project from its collaborator
// stores and normalizes it into one Bundle.
package evidence

import (
	"context"
	"strings"
	"time"
)

// Category is the evidence-strength tier of an observation.
type Category string

const (
	DODirect   Category = "DO-direct"
	DOIndirect Category = "DO-indirect"
	Say        Category = "SAY"
)

// rank orders categories from weakest to strongest.
func (c Category) rank() int {
	switch c {
	case DODirect:
		return 3
	case DOIndirect:
		return 2
	default:
		return 1
	}
}

// Stronger reports whether c outranks other.
func (c Category) Stronger(other Category) bool { return c.rank() > other.rank() }

// ParseCategory maps a narrative_category tag to a Category. Untagged or unknown
// tags are SAY.
func ParseCategory(tag string) Category {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "do-direct", "do_direct":
		return DODirect
	case "do-indirect", "do_indirect":
		return DOIndirect
	default:
		return Say
	}
}

type Signal string

const (
	SignalStrong   Signal = "strong"
	SignalModerate Signal = "moderate"
	SignalWeak     Signal = "weak"
	SignalUnknown  Signal = "unknown"
)

type Project struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Industry          string    `json:"industry"`
	StalenessSeverity string    `json:"staleness_severity"`
	CreatedAt         time.Time `json:"created_at"`
}

type FounderProfile struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Background string `json:"background"`
	LinkedIn   string `json:"linkedin_url"`
	Website    string `json:"website_url"`
}

type Item struct {
	ID                string    `json:"id"`
	ProjectID         string    `json:"project_id"`
	Title             string    `json:"title"`
	Summary           string    `json:"summary"`
	EvidenceType      string    `json:"evidence_type"`
	NarrativeCategory string    `json:"narrative_category"`
	Metric            string    `json:"metric,omitempty"`
	Value             string    `json:"value,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type Hypothesis struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Statement string    `json:"statement"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type ValueProposition struct {
	ID                string    `json:"id"`
	ProjectID         string    `json:"project_id"`
	Jobs              []string  `json:"jobs"`
	Pains             []string  `json:"pains"`
	Gains             []string  `json:"gains"`
	PainRelievers     []string  `json:"pain_relievers"`
	GainCreators      []string  `json:"gain_creators"`
	ProductsServices  []string  `json:"products_services"`
	ValueStatement    string    `json:"value_statement"`
	KeyDifferentiator string    `json:"key_differentiator"`
	CreatedAt         time.Time `json:"created_at"`
}

type CustomerProfile struct {
	Segment      string   `json:"segment"`
	Persona      string   `json:"persona"`
	Behaviors    []string `json:"behaviors"`
	Channels     []string `json:"channels"`
	WillingToPay string   `json:"willing_to_pay"`
}

func (c CustomerProfile) IsEmpty() bool {
	return strings.TrimSpace(c.Segment) == "" &&
		strings.TrimSpace(c.Persona) == "" &&
		len(c.Behaviors) == 0
}

type Competitor struct {
	Name        string `json:"name"`
	Positioning string `json:"positioning"`
	Weakness    string `json:"weakness"`
}

type CompetitorMap struct {
	Competitors     []Competitor `json:"competitors"`
	Differentiators []string     `json:"differentiators"`
	UnfairAdvantage string       `json:"unfair_advantage"`
}

type BusinessModel struct {
	RevenueModel string   `json:"revenue_model"`
	Pricing      string   `json:"pricing"`
	CAC          float64  `json:"cac"`
	LTV          float64  `json:"ltv"`
	Channels     []string `json:"channels"`
	KeyPartners  []string `json:"key_partners"`
}

type MarketSizing struct {
	TAM         float64 `json:"tam"`
	SAM         float64 `json:"sam"`
	SOM         float64 `json:"som"`
	Description string  `json:"description"`
	WhyNow      string  `json:"why_now"`
}

type FundingAsk struct {
	Amount      float64            `json:"amount"`
	Instrument  string             `json:"instrument"`
	Allocations map[string]float64 `json:"allocations"`
	Milestones  []string           `json:"milestones"`
}

type ValidationState struct {
	ProjectID          string          `json:"project_id"`
	ValidationStage    string          `json:"validation_stage"`
	CustomerProfile    CustomerProfile `json:"customer_profile"`
	CompetitorMap      CompetitorMap   `json:"competitor_map"`
	BusinessModel      BusinessModel   `json:"business_model"`
	Market             MarketSizing    `json:"market"`
	FundingAsk         FundingAsk      `json:"funding_ask"`
	DesirabilitySignal Signal          `json:"desirability_signal"`
	FeasibilitySignal  Signal          `json:"feasibility_signal"`
	ViabilitySignal    Signal          `json:"viability_signal"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

const (
	DecisionApproved = "approved"
	DecisionRevised  = "revised"
	DecisionRejected = "rejected"

	CheckpointPivot            = "pivot_decision"
	CheckpointNarrativePublish = "narrative_publish"
)

type ApprovalRecord struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	CheckpointType string         `json:"checkpoint_type"`
	Decision       string         `json:"decision"`
	DecidedBy      string         `json:"decided_by"`
	Payload        map[string]any `json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Source is the read side of the collaborator stores. A missing record is reported
// as an error; the Aggregator degrades to defaults on any error.
type Source interface {
	GetProject(ctx context.Context, projectID string) (Project, error)
	GetFounderProfile(ctx context.Context, projectID string) (FounderProfile, error)
	ListEvidence(ctx context.Context, projectID string) ([]Item, error)
	ListHypotheses(ctx context.Context, projectID string) ([]Hypothesis, error)
	LatestValueProposition(ctx context.Context, projectID string) (ValueProposition, error)
	LatestValidationState(ctx context.Context, projectID string) (ValidationState, error)
	ListApprovals(ctx context.Context, projectID string) ([]ApprovalRecord, error)
}

type Experiments struct {
	DODirect   []Item `json:"do_direct"`
	DOIndirect []Item `json:"do_indirect"`
	Say        []Item `json:"say"`
}

func (e Experiments) Total() int { return len(e.DODirect) + len(e.DOIndirect) + len(e.Say) }

// Strongest returns the highest tier present; SAY when nothing is.
func (e Experiments) Strongest() Category {
	switch {
	case len(e.DODirect) > 0:
		return DODirect
	case len(e.DOIndirect) > 0:
		return DOIndirect
	default:
		return Say
	}
}

type GateScores struct {
	Desirability float64 `json:"desirability"`
	Feasibility  float64 `json:"feasibility"`
	Viability    float64 `json:"viability"`
	OverallFit   float64 `json:"overall_fit"`
}

type HITLRecord struct {
	Total             int        `json:"total"`
	Approved          int        `json:"approved"`
	Revised           int        `json:"revised"`
	Rejected          int        `json:"rejected"`
	LastCheckpointAt  *time.Time `json:"last_checkpoint_at,omitempty"`
	CoachabilityScore float64    `json:"coachability_score"`
}

// Bundle is the normalized evidence snapshot for one project. It is rebuilt on every
// aggregation and never patched.
type Bundle struct {
	ProjectID        string           `json:"project_id"`
	ValueProposition ValueProposition `json:"value_proposition"`
	CustomerProfile  CustomerProfile  `json:"customer_profile"`
	CompetitorMap    CompetitorMap    `json:"competitor_map"`
	BusinessModel    BusinessModel    `json:"business_model"`
	Market           MarketSizing     `json:"market"`
	FundingAsk       FundingAsk       `json:"funding_ask"`
	Hypotheses       []Hypothesis     `json:"hypotheses"`
	Experiments      Experiments      `json:"experiments"`
	InterviewCount   int              `json:"interview_count"`
	GateScores       GateScores       `json:"gate_scores"`
	HITL             HITLRecord       `json:"hitl"`
	ValidationStage  string           `json:"validation_stage"`
	PivotsRecorded   int              `json:"pivots_recorded"`
}

func (b Bundle) HasDirectEvidence() bool { return len(b.Experiments.DODirect) > 0 }
