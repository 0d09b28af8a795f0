// Package publish is the state machine guarding the draft to published transition.
package publish

import (
	"sort"
	"strings"
	"time"

	"github.com/startupai/narrative/services/narrative/internal/guardian"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
)

type Staleness string

const (
	StaleNone Staleness = "none"
	StaleSoft Staleness = "soft"
	StaleHard Staleness = "hard"
)

func ParseStaleness(s string) Staleness {
	switch Staleness(strings.ToLower(strings.TrimSpace(s))) {
	case StaleSoft:
		return StaleSoft
	case StaleHard:
		return StaleHard
	default:
		return StaleNone
	}
}

type BlockerCode string

const (
	BlockerEvidenceGap          BlockerCode = "EVIDENCE_GAP"
	BlockerAlignmentFlagged     BlockerCode = "ALIGNMENT_FLAGGED"
	BlockerConfirmationRequired BlockerCode = "HITL_CONFIRMATION_REQUIRED"
	BlockerNarrativeStale       BlockerCode = "NARRATIVE_STALE"
)

type Blocker struct {
	Code    BlockerCode `json:"code"`
	Section string      `json:"section,omitempty"`
	Message string      `json:"message"`
}

// Confirmation is the founder's acknowledgement required on the first publish.
type Confirmation struct {
	ReviewedSlides   bool `json:"reviewed_slides"`
	VerifiedTraction bool `json:"verified_traction"`
	AddedContext     bool `json:"added_context"`
	ConfirmedAsk     bool `json:"confirmed_ask"`
}

// Missing lists the acknowledgements that are not set.
func (c Confirmation) Missing() []string {
	var out []string
	if !c.ReviewedSlides {
		out = append(out, "reviewed_slides")
	}
	if !c.VerifiedTraction {
		out = append(out, "verified_traction")
	}
	if !c.AddedContext {
		out = append(out, "added_context")
	}
	if !c.ConfirmedAsk {
		out = append(out, "confirmed_ask")
	}
	return out
}

func (c Confirmation) Payload() map[string]any {
	return map[string]any{
		"reviewed_slides":   c.ReviewedSlides,
		"verified_traction": c.VerifiedTraction,
		"added_context":     c.AddedContext,
		"confirmed_ask":     c.ConfirmedAsk,
	}
}

// State is what the gate reads about one narrative and its project.
type State struct {
	IsPublished      bool
	PublishedAt      *time.Time
	FirstPublishedAt *time.Time
	AlignmentStatus  guardian.Status
	Metadata         narrative.Metadata
	Staleness        Staleness
}

func (s State) firstPublish() bool { return s.FirstPublishedAt == nil }

// Blockers evaluates every publish check and returns all failures together.
func Blockers(s State, c *Confirmation) []Blocker {
	out := contentBlockers(s)
	if s.firstPublish() {
		switch {
		case c == nil:
			out = append(out, Blocker{
				Code:    BlockerConfirmationRequired,
				Message: "first publish requires founder confirmation",
			})
		case len(c.Missing()) > 0:
			out = append(out, Blocker{
				Code:    BlockerConfirmationRequired,
				Message: "missing confirmation: " + strings.Join(c.Missing(), ", "),
			})
		}
	}
	if s.Staleness == StaleHard {
		out = append(out, Blocker{
			Code:    BlockerNarrativeStale,
			Message: "project evidence changed; regenerate the narrative before publishing",
		})
	}
	return out
}

// ExportBlockers are the content checks an export must pass. Staleness is reported
// separately by the caller.
func ExportBlockers(s State) []Blocker { return contentBlockers(s) }

func contentBlockers(s State) []Blocker {
	var out []Blocker
	gaps := s.Metadata.BlockingGaps()
	sections := make([]string, 0, len(gaps))
	for section := range gaps {
		sections = append(sections, section)
	}
	sort.Strings(sections)
	for _, section := range sections {
		out = append(out, Blocker{
			Code:    BlockerEvidenceGap,
			Section: section,
			Message: gaps[section].Description,
		})
	}
	if s.AlignmentStatus == guardian.StatusFlagged {
		out = append(out, Blocker{
			Code:    BlockerAlignmentFlagged,
			Message: "resolve flagged claim language before publishing",
		})
	}
	return out
}

type Transition struct {
	IsPublished      bool
	PublishedAt      time.Time
	FirstPublishedAt time.Time
	FirstPublish     bool
	// Changed is false when the narrative was already published.
	Changed bool
}

// Publish moves a draft or unpublished narrative to published. It returns the
// blockers instead when any check fails.
func Publish(s State, c *Confirmation, now time.Time) (Transition, []Blocker) {
	if s.IsPublished {
		t := Transition{IsPublished: true}
		if s.PublishedAt != nil {
			t.PublishedAt = *s.PublishedAt
		}
		if s.FirstPublishedAt != nil {
			t.FirstPublishedAt = *s.FirstPublishedAt
		}
		return t, nil
	}
	if blockers := Blockers(s, c); len(blockers) > 0 {
		return Transition{}, blockers
	}
	now = now.UTC()
	t := Transition{
		IsPublished:  true,
		PublishedAt:  now,
		FirstPublish: s.firstPublish(),
		Changed:      true,
	}
	if t.FirstPublish {
		t.FirstPublishedAt = now
	} else {
		t.FirstPublishedAt = *s.FirstPublishedAt
	}
	return t, nil
}

// Unpublish clears is_published and reports whether anything changed.
// first_published_at is kept, so a later publish is not a first publish.
func Unpublish(s State) (State, bool) {
	if !s.IsPublished {
		return s, false
	}
	s.IsPublished = false
	return s, true
}
