package narrative

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startupai/narrative/pkg/fieldpath"
	"github.com/startupai/narrative/services/narrative/internal/evidence"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func fullInput() Input {
	return Input{
		Project: evidence.Project{ID: "p1", Name: "Acme Ledger", Description: "Bookkeeping for bakeries", Industry: "fintech"},
		Founder: &evidence.FounderProfile{Name: "Sam Rivera", Email: "sam@acme.test", Role: "CEO", Background: "Ten years in retail finance"},
		Bundle: evidence.Bundle{
			ProjectID: "p1",
			ValueProposition: evidence.ValueProposition{
				Jobs:              []string{"Close the books each month"},
				Pains:             []string{"manual reconciliation", "missed invoices"},
				Gains:             []string{"time back"},
				PainRelievers:     []string{"bank sync"},
				GainCreators:      []string{"auto categorization"},
				ProductsServices:  []string{"web app", "mobile receipts"},
				ValueStatement:    "close the month in one hour",
				KeyDifferentiator: "bakery-specific inventory costing",
			},
			CustomerProfile: evidence.CustomerProfile{Segment: "independent bakeries", Persona: "owner-operator", Behaviors: []string{"uses spreadsheets"}},
			CompetitorMap: evidence.CompetitorMap{
				Competitors:     []evidence.Competitor{{Name: "QuickBooks"}, {Name: "Spreadsheets"}},
				Differentiators: []string{"inventory costing"},
			},
			BusinessModel: evidence.BusinessModel{RevenueModel: "subscription", Pricing: "$49/month", CAC: 100, LTV: 1200},
			Market:        evidence.MarketSizing{TAM: 2.5e9, SAM: 4e8, SOM: 2e7},
			FundingAsk:    evidence.FundingAsk{Amount: 500000, Instrument: "SAFE", Allocations: map[string]float64{"engineering": 300000, "sales": 200000}},
			Hypotheses:    []evidence.Hypothesis{{ID: "h1", Statement: "Bakeries will pay for reconciliation"}},
			Experiments: evidence.Experiments{
				DODirect:   []evidence.Item{{ID: "e1", Title: "Paid pilot", Metric: "conversion", Value: "12%"}},
				DOIndirect: []evidence.Item{},
				Say:        []evidence.Item{{ID: "e2", Title: "Interview notes"}},
			},
			InterviewCount:  14,
			GateScores:      evidence.GateScores{Desirability: 0.8, Feasibility: 0.5, Viability: 0.5, OverallFit: 0.6},
			HITL:            evidence.HITLRecord{CoachabilityScore: 0.75},
			ValidationStage: "feasibility",
			PivotsRecorded:  1,
		},
		PriorPivotCount: 0,
		Now:             fixedNow,
	}
}

func assertNoEmptyLeaves(t *testing.T, d Document) {
	t.Helper()
	tree, err := ToTree(d)
	require.NoError(t, err)
	fieldpath.Walk(tree, fieldpath.Visitor{
		Leaf: func(path string, v any) {
			switch x := v.(type) {
			case nil:
				t.Errorf("%s is null", path)
			case string:
				if strings.TrimSpace(x) == "" {
					t.Errorf("%s is empty", path)
				}
			}
		},
	})
}

func TestSynthesizeComplete(t *testing.T) {
	d := Synthesize(fullInput())

	assert.Equal(t, DocumentVersion, d.Version)
	assert.Equal(t, "Acme Ledger", d.Cover.VentureName)
	assert.Equal(t, "2026-03-02", d.Cover.PresentationDate)
	assert.Equal(t, "manual reconciliation", d.Problem.PrimaryPain)
	assert.Equal(t, "Customers report: manual reconciliation and missed invoices.", d.Problem.PainNarrative)
	assert.Equal(t, "Today customers rely on QuickBooks and Spreadsheets.", d.Problem.StatusQuo)
	assert.Equal(t, 12.0, d.BusinessModel.UnitEconomics.LTVToCAC)
	assert.Equal(t, "$2.5B", d.Opportunity.TAM.Label)
	assert.Len(t, d.Traction.DODirect, 1)
	assert.Equal(t, 2, d.Traction.ExperimentCount)
	assert.Contains(t, d.Overview.KeyMetrics, "conversion: 12%")

	require.Len(t, d.UseOfFunds.Allocations, 2)
	assert.Equal(t, Allocation{Category: "engineering", Amount: 300000, Percentage: 60}, d.UseOfFunds.Allocations[0])

	assert.Equal(t, evidence.DODirect, d.Metadata.EvidenceStrength)
	assert.Equal(t, 0.6, d.Metadata.OverallFitScore)
	assert.Equal(t, "feasibility", d.Metadata.ValidationStage)
	assert.Equal(t, 1, d.Metadata.PivotCount)
	assert.Empty(t, d.Metadata.EvidenceGaps)
	assertNoEmptyLeaves(t, d)
}

func TestSynthesizeEmptyBundleIsWellFormed(t *testing.T) {
	d := Synthesize(Input{Now: fixedNow})

	assert.Equal(t, Placeholder, d.Cover.VentureName)
	assert.Equal(t, Placeholder, d.Traction.EvidenceSummary)
	assert.Equal(t, evidence.Say, d.Metadata.EvidenceStrength)
	assert.Equal(t, "desirability", d.Metadata.ValidationStage)
	assert.NotNil(t, d.Customer.Pains)
	assert.NotNil(t, d.Team.Members)
	assertNoEmptyLeaves(t, d)

	blocking := d.Metadata.BlockingGaps()
	assert.Len(t, blocking, 2)
	assert.Contains(t, blocking, SectionTraction)
	assert.Contains(t, blocking, SectionProblem)
	assert.False(t, d.Metadata.EvidenceGaps[SectionCompetition].BlockingPublish)
}

func TestEvidenceStrengthSelection(t *testing.T) {
	in := fullInput()
	in.Bundle.Experiments.DODirect = nil
	in.Bundle.Experiments.DOIndirect = []evidence.Item{{ID: "e3"}}
	assert.Equal(t, evidence.DOIndirect, Synthesize(in).Metadata.EvidenceStrength)

	in.Bundle.Experiments.DOIndirect = nil
	assert.Equal(t, evidence.Say, Synthesize(in).Metadata.EvidenceStrength)
}

func TestPivotCountNeverDecreases(t *testing.T) {
	in := fullInput()
	in.PriorPivotCount = 3
	assert.Equal(t, 3, Synthesize(in).Metadata.PivotCount)
}

func TestTreeRoundTrip(t *testing.T) {
	d := Synthesize(fullInput())
	tree, err := ToTree(d)
	require.NoError(t, err)

	v, ok := fieldpath.Get(tree, "cover.venture_name")
	require.True(t, ok)
	assert.Equal(t, "Acme Ledger", v)

	back, err := FromTree(tree)
	require.NoError(t, err)
	assert.Equal(t, d.Metadata.EvidenceStrength, back.Metadata.EvidenceStrength)

	meta, err := MetadataOf(tree)
	require.NoError(t, err)
	assert.Equal(t, 0.6, meta.OverallFitScore)
}

func TestSchema(t *testing.T) {
	s := Schema()
	require.NotNil(t, s.Properties)
	for _, key := range append(append([]string{}, Sections...), KeyMetadata, KeyVersion) {
		_, ok := s.Properties.Get(key)
		assert.True(t, ok, key)
	}
	_, err := SchemaJSON()
	require.NoError(t, err)
}

func TestStrictSchemaClosesObjects(t *testing.T) {
	type inner struct {
		B string `json:"b"`
	}
	type outer struct {
		A     string  `json:"a"`
		Inner inner   `json:"inner"`
		List  []inner `json:"list"`
	}
	m, err := StrictSchema[outer]()
	require.NoError(t, err)
	assert.Equal(t, false, m["additionalProperties"])
	assert.Equal(t, []string{"a", "inner", "list"}, m["required"])

	props := m["properties"].(map[string]any)
	in := props["inner"].(map[string]any)
	assert.Equal(t, false, in["additionalProperties"])
	items := props["list"].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, []string{"b"}, items["required"])
}

func TestOneLinerLowersMultibyteFirstRune(t *testing.T) {
	in := fullInput()
	in.Bundle.ValueProposition.Jobs = []string{"Équilibrer la caisse chaque soir"}
	d := Synthesize(in)

	assert.True(t, utf8.ValidString(d.Overview.OneLiner), d.Overview.OneLiner)
	assert.Equal(t, "Helping independent bakeries équilibrer la caisse chaque soir.", d.Overview.OneLiner)
}

func TestLandscapeSummaryWithoutDifferentiators(t *testing.T) {
	in := fullInput()
	in.Bundle.CompetitorMap.Differentiators = []string{}
	d := Synthesize(in)

	assert.Equal(t, "2 alternative(s) mapped.", d.Competition.LandscapeSummary)
	assert.NotContains(t, d.Competition.LandscapeSummary, Placeholder)

	d = Synthesize(fullInput())
	assert.Equal(t, "2 alternative(s) mapped; differentiation rests on inventory costing.", d.Competition.LandscapeSummary)
}
