// Package render builds the payload an external renderer turns into a pitch
// document. Layout and typography are the renderer's concern; this package only
// fixes the data contract and a plain-text outline of the sections.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/startupai/narrative/services/narrative/internal/narrative"
)

const PayloadVersion = "render-v1"

const (
	FormatPDF  = "pdf"
	FormatJSON = "json"
)

// ParseFormat normalizes a requested export format.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case FormatPDF, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

type Payload struct {
	PayloadVersion  string             `json:"payload_version"`
	ExportID        string             `json:"export_id"`
	Format          string             `json:"format"`
	GenerationHash  string             `json:"generation_hash"`
	ExportedAt      time.Time          `json:"exported_at"`
	ExpiresAt       time.Time          `json:"expires_at"`
	IsCurrent       bool               `json:"is_current"`
	Document        narrative.Document `json:"document"`
	Outline         string             `json:"outline,omitempty"`
	QRCodeTarget    string             `json:"qr_code_target,omitempty"`
	VerificationURL string             `json:"verification_url"`
	Evidence        any                `json:"evidence,omitempty"`
}

// Outline lists each section with its primary text, one block per section. Every
// string field of the document already resolves to a value, so no section is
// skipped.
func Outline(d narrative.Document) string {
	var b strings.Builder
	block := func(title string, lines ...string) {
		b.WriteString(title)
		b.WriteString("\n")
		for _, l := range lines {
			if strings.TrimSpace(l) == "" {
				continue
			}
			b.WriteString("  ")
			b.WriteString(l)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	block(d.Cover.VentureName, d.Cover.Tagline, d.Cover.FounderName+" <"+d.Cover.ContactEmail+">")
	block("Overview", d.Overview.Thesis, d.Overview.OneLiner)
	block("Opportunity",
		"TAM "+d.Opportunity.TAM.Label,
		"SAM "+d.Opportunity.SAM.Label,
		"SOM "+d.Opportunity.SOM.Label,
		d.Opportunity.WhyNow)
	block("Problem", d.Problem.PrimaryPain, d.Problem.PainNarrative)
	block("Solution", d.Solution.ValueProposition, d.Solution.KeyDifferentiator)
	block("Traction",
		d.Traction.EvidenceSummary,
		"Interviews: "+strconv.Itoa(d.Traction.InterviewCount),
		"Experiments: "+strconv.Itoa(d.Traction.ExperimentCount))
	block("Customer", d.Customer.Segment, d.Customer.Persona)
	block("Competition", d.Competition.LandscapeSummary, d.Competition.UnfairAdvantage)
	block("Business model", d.BusinessModel.RevenueModel, d.BusinessModel.Pricing)
	block("Team", d.Team.Summary)
	allocations := make([]string, 0, len(d.UseOfFunds.Allocations))
	for _, a := range d.UseOfFunds.Allocations {
		allocations = append(allocations, fmt.Sprintf("%s: %s%%", a.Category, strconv.FormatFloat(a.Percentage, 'f', -1, 64)))
	}
	ask := "$" + strconv.FormatFloat(d.UseOfFunds.AskAmount, 'f', 0, 64) + " " + d.UseOfFunds.Instrument
	block("Use of funds", append([]string{ask}, allocations...)...)
	return NormalizeText(b.String())
}

// NormalizeText unifies line endings, trims trailing whitespace and ends the text
// with exactly one newline.
func NormalizeText(in string) string {
	s := strings.ReplaceAll(in, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}
