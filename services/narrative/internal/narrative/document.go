// Package narrative defines the pitch narrative document contract and the
// deterministic Synthesizer that fills it from an evidence bundle.
package narrative

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/startupai/narrative/services/narrative/internal/evidence"
)

const (
	DocumentVersion = "1.0"
	Methodology     = "value-proposition-design"

	// Placeholder fills any field whose source data is empty.
	Placeholder = "to be validated"
)

// Section keys as they appear in the document tree.
const (
	SectionCover         = "cover"
	SectionOverview      = "overview"
	SectionOpportunity   = "opportunity"
	SectionProblem       = "problem"
	SectionSolution      = "solution"
	SectionTraction      = "traction"
	SectionCustomer      = "customer"
	SectionCompetition   = "competition"
	SectionBusinessModel = "business_model"
	SectionTeam          = "team"
	SectionUseOfFunds    = "use_of_funds"

	KeyVersion  = "version"
	KeyMetadata = "metadata"

	// TractionSummaryPath is checked for unsupported "proven"/"validated" wording
	// when no DO-direct evidence exists.
	TractionSummaryPath = "traction.evidence_summary"
)

// Sections lists the cover followed by the ten content sections, in document order.
var Sections = []string{
	SectionCover,
	SectionOverview,
	SectionOpportunity,
	SectionProblem,
	SectionSolution,
	SectionTraction,
	SectionCustomer,
	SectionCompetition,
	SectionBusinessModel,
	SectionTeam,
	SectionUseOfFunds,
}

func IsSection(key string) bool {
	for _, s := range Sections {
		if s == key {
			return true
		}
	}
	return false
}

type Document struct {
	Version       string        `json:"version"`
	Cover         Cover         `json:"cover"`
	Overview      Overview      `json:"overview"`
	Opportunity   Opportunity   `json:"opportunity"`
	Problem       Problem       `json:"problem"`
	Solution      Solution      `json:"solution"`
	Traction      Traction      `json:"traction"`
	Customer      Customer      `json:"customer"`
	Competition   Competition   `json:"competition"`
	BusinessModel BusinessModel `json:"business_model"`
	Team          Team          `json:"team"`
	UseOfFunds    UseOfFunds    `json:"use_of_funds"`
	Metadata      Metadata      `json:"metadata"`
}

type Cover struct {
	VentureName      string `json:"venture_name"`
	Tagline          string `json:"tagline"`
	DocumentType     string `json:"document_type"`
	PresentationDate string `json:"presentation_date"`
	FounderName      string `json:"founder_name"`
	ContactEmail     string `json:"contact_email"`
	Website          string `json:"website"`
}

type Overview struct {
	Thesis       string   `json:"thesis"`
	OneLiner     string   `json:"one_liner"`
	Industry     string   `json:"industry"`
	NovelInsight string   `json:"novel_insight"`
	KeyMetrics   []string `json:"key_metrics"`
}

type MarketFigure struct {
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

type Opportunity struct {
	TAM               MarketFigure `json:"tam"`
	SAM               MarketFigure `json:"sam"`
	SOM               MarketFigure `json:"som"`
	MarketDescription string       `json:"market_description"`
	WhyNow            string       `json:"why_now"`
}

type Problem struct {
	PrimaryPain        string   `json:"primary_pain"`
	PainNarrative      string   `json:"pain_narrative"`
	AffectedPopulation string   `json:"affected_population"`
	StatusQuo          string   `json:"status_quo"`
	Hypotheses         []string `json:"hypotheses"`
	SeverityScore      float64  `json:"severity_score"`
}

type Solution struct {
	ValueProposition  string   `json:"value_proposition"`
	HowItWorks        string   `json:"how_it_works"`
	KeyDifferentiator string   `json:"key_differentiator"`
	PainRelievers     []string `json:"pain_relievers"`
	GainCreators      []string `json:"gain_creators"`
	Products          []string `json:"products"`
}

type TractionItem struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Metric  string `json:"metric"`
	Value   string `json:"value"`
}

type Traction struct {
	EvidenceSummary string         `json:"evidence_summary"`
	DODirect        []TractionItem `json:"do_direct"`
	DOIndirect      []TractionItem `json:"do_indirect"`
	SayEvidence     []TractionItem `json:"say_evidence"`
	InterviewCount  int            `json:"interview_count"`
	ExperimentCount int            `json:"experiment_count"`
}

type Customer struct {
	Segment             string   `json:"segment"`
	Persona             string   `json:"persona"`
	Behaviors           []string `json:"behaviors"`
	JobsToBeDone        []string `json:"jobs_to_be_done"`
	Pains               []string `json:"pains"`
	Gains               []string `json:"gains"`
	AcquisitionChannels []string `json:"acquisition_channels"`
	WillingnessToPay    string   `json:"willingness_to_pay"`
}

type CompetitorEntry struct {
	Name        string `json:"name"`
	Positioning string `json:"positioning"`
	Weakness    string `json:"weakness"`
}

type Competition struct {
	LandscapeSummary string            `json:"landscape_summary"`
	Competitors      []CompetitorEntry `json:"competitors"`
	Differentiators  []string          `json:"differentiators"`
	UnfairAdvantage  string            `json:"unfair_advantage"`
}

type UnitEconomics struct {
	CAC      float64 `json:"cac"`
	LTV      float64 `json:"ltv"`
	LTVToCAC float64 `json:"ltv_to_cac"`
}

type BusinessModel struct {
	RevenueModel  string        `json:"revenue_model"`
	Pricing       string        `json:"pricing"`
	UnitEconomics UnitEconomics `json:"unit_economics"`
	Channels      []string      `json:"channels"`
	KeyPartners   []string      `json:"key_partners"`
}

type TeamMember struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	Background string `json:"background"`
}

type Team struct {
	Summary           string       `json:"summary"`
	Members           []TeamMember `json:"members"`
	CoachabilityScore float64      `json:"coachability_score"`
}

type Allocation struct {
	Category   string  `json:"category"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

type UseOfFunds struct {
	AskAmount   float64      `json:"ask_amount"`
	Instrument  string       `json:"instrument"`
	Allocations []Allocation `json:"allocations"`
	Milestones  []string     `json:"milestones"`
}

type EvidenceGap struct {
	GapType           string `json:"gap_type"`
	Description       string `json:"description"`
	RecommendedAction string `json:"recommended_action"`
	BlockingPublish   bool   `json:"blocking_publish"`
}

// Metadata fields are derived by the Synthesizer and are not editable.
type Metadata struct {
	Methodology      string                 `json:"methodology"`
	OverallFitScore  float64                `json:"overall_fit_score"`
	EvidenceStrength evidence.Category      `json:"evidence_strength"`
	ValidationStage  string                 `json:"validation_stage"`
	PivotCount       int                    `json:"pivot_count"`
	EvidenceGaps     map[string]EvidenceGap `json:"evidence_gaps,omitempty"`
	GeneratedAt      string                 `json:"generated_at"`
}

// BlockingGaps returns the sections whose gap blocks publication.
func (m Metadata) BlockingGaps() map[string]EvidenceGap {
	out := map[string]EvidenceGap{}
	for section, gap := range m.EvidenceGaps {
		if gap.BlockingPublish {
			out[section] = gap
		}
	}
	return out
}

// ToTree converts d to the generic JSON tree the editor, Guardian and hasher work on.
func ToTree(d Document) (map[string]any, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func FromTree(tree map[string]any) (Document, error) {
	var d Document
	b, err := json.Marshal(tree)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("decode narrative tree: %w", err)
	}
	return d, nil
}

// Validate reports whether tree still decodes into a Document: every known field
// keeps its JSON type and no unknown keys appear.
func Validate(tree map[string]any) error {
	b, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var d Document
	if err := dec.Decode(&d); err != nil {
		return fmt.Errorf("narrative tree does not match the document contract: %w", err)
	}
	return nil
}

// MetadataOf decodes only the metadata block of a tree.
func MetadataOf(tree map[string]any) (Metadata, error) {
	var m Metadata
	raw, ok := tree[KeyMetadata]
	if !ok {
		return m, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode narrative metadata: %w", err)
	}
	return m, nil
}
