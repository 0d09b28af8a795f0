// Package guardian keeps the wording of a narrative within what its evidence
// supports. It scans every text field of a document tree against the claim-language
// tier of the document's fit score and either rewrites or flags overstated phrases.
package guardian

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/startupai/narrative/pkg/fieldpath"
	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
)

// MinTextLength skips short labels; only strings longer than this are scanned.
const MinTextLength = 10

type Mode string

const (
	// ModeGenerate rewrites prohibited phrases and reports corrections.
	ModeGenerate Mode = "generation"
	// ModeEdit flags, without rewriting, and only within the edited paths.
	ModeEdit Mode = "edit"
	// ModeRegenerate flags across the whole document.
	ModeRegenerate Mode = "regeneration"
)

type Status string

const (
	StatusVerified Status = "verified"
	StatusFlagged  Status = "flagged"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Issue struct {
	Field             string   `json:"field"`
	Phrase            string   `json:"phrase"`
	Message           string   `json:"message"`
	Severity          Severity `json:"severity"`
	SuggestedLanguage string   `json:"suggested_language"`
	EvidenceNeeded    string   `json:"evidence_needed"`
}

type Correction struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

type Result struct {
	Status          Status       `json:"status"`
	Issues          []Issue      `json:"issues"`
	AutoCorrections []Correction `json:"auto_corrections,omitempty"`
	// Document is the input tree with corrections applied. It is a clone whenever
	// any correction was made; otherwise it is the input tree.
	Document map[string]any `json:"-"`
}

type Request struct {
	Document          map[string]any
	FitScore          float64
	HasDirectEvidence bool
	Mode              Mode
	// Paths limits an edit-mode scan to these field paths and everything below them.
	Paths []string
}

// RequestFor reads the fit score and evidence strength from the document's own
// metadata block.
func RequestFor(doc map[string]any, mode Mode, paths ...string) (Request, error) {
	meta, err := narrative.MetadataOf(doc)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Document:          doc,
		FitScore:          meta.OverallFitScore,
		HasDirectEvidence: meta.EvidenceStrength == evidence.DODirect,
		Mode:              mode,
		Paths:             paths,
	}, nil
}

// Check scans req.Document. The input tree is never modified.
func Check(req Request) Result {
	tier := TierFor(req.FitScore)
	rules := phraseRules(tier)
	autoCorrect := req.Mode == ModeGenerate

	res := Result{Issues: []Issue{}, Document: req.Document}
	fieldpath.Walk(req.Document, fieldpath.Visitor{
		Enter: func(path string) bool {
			return scanned(path) && req.inScope(path, true)
		},
		Leaf: func(path string, v any) {
			text, ok := v.(string)
			if !ok || !scanned(path) || !req.inScope(path, false) {
				return
			}
			if len(text) <= MinTextLength || text == narrative.Placeholder {
				return
			}
			if autoCorrect {
				if c, changed := correct(path, text, rules, req.HasDirectEvidence); changed {
					res.AutoCorrections = append(res.AutoCorrections, c)
				}
				return
			}
			res.Issues = append(res.Issues, flag(path, text, tier, rules, req.HasDirectEvidence)...)
		},
	})

	if len(res.AutoCorrections) > 0 {
		res.Document = apply(req.Document, res.AutoCorrections)
	}
	res.Status = StatusVerified
	if len(res.Issues) > 0 {
		res.Status = StatusFlagged
	}
	return res
}

func correct(path, text string, rules []rule, hasDirect bool) (Correction, bool) {
	out := text
	for _, r := range rules {
		out = r.re.ReplaceAllLiteralString(out, r.replacement)
	}
	if !hasDirect && path == narrative.TractionSummaryPath {
		for _, r := range directEvidenceRules {
			out = r.re.ReplaceAllLiteralString(out, r.replacement)
		}
	}
	if out == text {
		return Correction{}, false
	}
	return Correction{Field: path, OldValue: text, NewValue: out}, true
}

func flag(path, text string, tier Tier, rules []rule, hasDirect bool) []Issue {
	var issues []Issue
	for _, r := range rules {
		if !r.re.MatchString(text) {
			continue
		}
		issues = append(issues, Issue{
			Field:             path,
			Phrase:            r.phrase,
			Message:           fmt.Sprintf("%q overstates the evidence for a %s-stage fit score", r.phrase, tier.Name),
			Severity:          SeverityWarning,
			SuggestedLanguage: r.replacement,
			EvidenceNeeded:    fmt.Sprintf("Fit Score ≥%d%% to use stronger claims", percent(unlockScore(r.phrase))),
		})
	}
	if !hasDirect && path == narrative.TractionSummaryPath {
		for _, r := range directEvidenceRules {
			if !r.re.MatchString(text) {
				continue
			}
			issues = append(issues, Issue{
				Field:             path,
				Phrase:            r.phrase,
				Message:           fmt.Sprintf("%q requires DO-direct evidence, and none has been recorded", r.phrase),
				Severity:          SeverityError,
				SuggestedLanguage: r.replacement,
				EvidenceNeeded:    "At least one DO-direct experiment result",
			})
		}
	}
	return issues
}

// apply writes corrections into a clone of tree.
func apply(tree map[string]any, corrections []Correction) map[string]any {
	out := fieldpath.CloneTree(tree)
	for _, c := range corrections {
		// Paths come from walking the same tree, so Set cannot fail here.
		_ = fieldpath.Set(out, c.Field, c.NewValue)
	}
	return out
}

// scanned excludes the version and metadata blocks.
func scanned(path string) bool {
	top := path
	if i := strings.IndexByte(path, '.'); i >= 0 {
		top = path[:i]
	}
	return top != narrative.KeyVersion && top != narrative.KeyMetadata
}

func (r Request) inScope(path string, container bool) bool {
	if r.Mode != ModeEdit {
		return true
	}
	for _, p := range r.Paths {
		if path == p || strings.HasPrefix(path, p+".") {
			return true
		}
		if container && strings.HasPrefix(p, path+".") {
			return true
		}
	}
	return false
}

// Covers reports whether an edit-mode check of paths rescans field.
func Covers(paths []string, field string) bool {
	return Request{Mode: ModeEdit, Paths: paths}.inScope(field, false)
}

// Carry merges the issues of a scoped check with the prior issues it did not rescan.
func Carry(prior []Issue, paths []string, fresh []Issue) []Issue {
	out := make([]Issue, 0, len(prior)+len(fresh))
	for _, is := range prior {
		if !Covers(paths, is.Field) {
			out = append(out, is)
		}
	}
	return append(out, fresh...)
}

func percent(score float64) int { return int(math.Round(score * 100)) }

// Fields lists the distinct field paths named by issues, sorted.
func Fields(issues []Issue) []string {
	seen := map[string]bool{}
	var out []string
	for _, is := range issues {
		if !seen[is.Field] {
			seen[is.Field] = true
			out = append(out, is.Field)
		}
	}
	sort.Strings(out)
	return out
}
