package editor

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startupai/narrative/pkg/fieldpath"
)

var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func sample() map[string]any {
	return map[string]any{
		"version": "1.0",
		"cover":   map[string]any{"venture_name": "Acme", "tagline": "Books for bakeries"},
		"problem": map[string]any{"primary_pain": "manual reconciliation", "hypotheses": []any{"h1", "h2"}},
		"metadata": map[string]any{
			"overall_fit_score": 0.4,
			"pivot_count":       1.0,
		},
	}
}

func TestApplyIsPureAndReadable(t *testing.T) {
	doc := sample()
	before := fieldpath.CloneTree(doc)

	a, err := Apply(doc, "cover.tagline", "Close the month in an hour")
	require.NoError(t, err)

	got, ok := fieldpath.Get(a.Document, "cover.tagline")
	require.True(t, ok)
	assert.Equal(t, "Close the month in an hour", got)
	assert.Equal(t, "Books for bakeries", a.OldValue)
	assert.Equal(t, "cover", a.Section)
	assert.Equal(t, "tagline", a.Field)

	if diff := cmp.Diff(before, doc); diff != "" {
		t.Fatalf("input mutated (-want +got):\n%s", diff)
	}
}

func TestApplyCreatesIntermediateObjects(t *testing.T) {
	a, err := Apply(sample(), "solution.how_it_works.summary", "Bank sync")
	require.NoError(t, err)
	assert.Nil(t, a.OldValue)
	assert.Equal(t, "how_it_works.summary", a.Field)
	got, _ := fieldpath.Get(a.Document, "solution.how_it_works.summary")
	assert.Equal(t, "Bank sync", got)
}

func TestApplyArrayElement(t *testing.T) {
	a, err := Apply(sample(), "problem.hypotheses.1", "h2 revised")
	require.NoError(t, err)
	assert.Equal(t, "h2", a.OldValue)
	got, _ := fieldpath.Get(a.Document, "problem.hypotheses.1")
	assert.Equal(t, "h2 revised", got)

	_, err = Apply(sample(), "problem.hypotheses.5", "x")
	assert.True(t, errors.Is(err, ErrInvalidField))
}

func TestApplyRejects(t *testing.T) {
	cases := map[string]error{
		"metadata.pivot_count":       ErrReadOnlyField,
		"metadata.evidence_strength": ErrReadOnlyField,
		"version":                    ErrReadOnlyField,
		"cover":                      ErrInvalidField,
		"slides.title":               ErrInvalidField,
		"cover..tagline":             ErrInvalidField,
		"":                           ErrInvalidField,
	}
	for path, want := range cases {
		_, err := Apply(sample(), path, "x")
		assert.True(t, errors.Is(err, want), "%q: %v", path, err)
	}
	_, err := Apply(sample(), "cover.tagline", nil)
	assert.True(t, errors.Is(err, ErrInvalidField))
}

func TestApplyKeepsFieldKinds(t *testing.T) {
	doc := sample()
	doc["traction"] = map[string]any{"interview_count": 12.0, "do_direct": []any{}}

	cases := []struct {
		path  string
		value any
	}{
		{"traction.interview_count", "many"},
		{"cover.tagline", 42.0},
		{"problem.hypotheses", "one big bet"},
		{"problem.hypotheses.0", map[string]any{"text": "h1"}},
		{"cover.tagline.text", "nested"},
		{"problem.hypotheses", []any{"h1", nil}},
		{"traction.do_direct", []any{map[string]any{"title": nil}}},
	}
	for _, c := range cases {
		_, err := Apply(doc, c.path, c.value)
		assert.True(t, errors.Is(err, ErrInvalidField), "%s=%v: %v", c.path, c.value, err)
	}

	a, err := Apply(doc, "traction.interview_count", 14)
	require.NoError(t, err)
	assert.Equal(t, 12.0, a.OldValue)
}

func TestApplyAllRejectsOffContractTrees(t *testing.T) {
	doc := sample()
	for _, c := range []Change{
		{Field: "traction.interview_count", NewValue: "many"},
		{Field: "traction.interview_count", NewValue: 2.5},
		{Field: "cover.slogan", NewValue: "not a cover field"},
		{Field: "opportunity.tam.value", NewValue: "huge"},
	} {
		_, _, err := ApplyAll(doc, []Change{c}, SourceFounder, t0)
		assert.True(t, errors.Is(err, ErrInvalidField), "%s: %v", c.Field, err)
	}

	out, _, err := ApplyAll(doc, []Change{{Field: "traction.interview_count", NewValue: 9.0}}, SourceFounder, t0)
	require.NoError(t, err)
	v, _ := fieldpath.Get(out, "traction.interview_count")
	assert.Equal(t, 9.0, v)
}

func TestApplyAll(t *testing.T) {
	doc := sample()
	out, entries, err := ApplyAll(doc, []Change{
		{Field: "cover.tagline", NewValue: "v1"},
		{Field: "cover.tagline", NewValue: "v2"},
	}, SourceFounder, t0)
	require.NoError(t, err)
	assert.Equal(t, "v2", out["cover"].(map[string]any)["tagline"])
	require.Len(t, entries, 2)
	assert.Equal(t, "Books for bakeries", entries[0].OldValue)
	assert.Equal(t, "v1", entries[1].OldValue)
	assert.Equal(t, "cover.tagline", entries[1].Path())
	assert.Equal(t, SourceFounder, entries[1].EditSource)

	_, _, err = ApplyAll(doc, []Change{{Field: "cover.tagline", NewValue: "ok"}, {Field: "metadata.x", NewValue: 1}}, SourceFounder, t0)
	assert.True(t, errors.Is(err, ErrReadOnlyField))
	assert.Equal(t, "Books for bakeries", doc["cover"].(map[string]any)["tagline"])

	_, _, err = ApplyAll(doc, nil, SourceFounder, t0)
	assert.Error(t, err)
}

func TestExtractFounderEditsLatestWins(t *testing.T) {
	history := []HistoryEntry{
		{Timestamp: t0.Add(2 * time.Hour), Section: "cover", Field: "tagline", NewValue: "newest", EditSource: SourceFounder},
		{Timestamp: t0, Section: "cover", Field: "tagline", NewValue: "oldest", EditSource: SourceFounder},
		{Timestamp: t0.Add(3 * time.Hour), Section: "cover", Field: "tagline", NewValue: "synthesized", EditSource: SourceRegeneration},
		{Timestamp: t0.Add(time.Hour), Section: "problem", Field: "primary_pain", NewValue: "late invoices", EditSource: SourceFounder},
	}
	fe := ExtractFounderEdits(history)
	assert.Equal(t, []string{"cover", "problem"}, fe.Sections)
	assert.Equal(t, "newest", fe.Fields["cover"]["tagline"])
	assert.Equal(t, "late invoices", fe.Fields["problem"]["primary_pain"])
	assert.Equal(t, []string{"cover", "problem"}, FounderEditedSections(history))

	assert.Empty(t, FounderEditedSections(nil))
}

func TestActiveFounderEditsDropsOverwrittenFields(t *testing.T) {
	history := []HistoryEntry{
		{Timestamp: t0, Section: "cover", Field: "tagline", NewValue: "founder", EditSource: SourceFounder},
		{Timestamp: t0, Section: "problem", Field: "primary_pain", NewValue: "late invoices", EditSource: SourceFounder},
		{Timestamp: t0.Add(time.Hour), Section: "cover", Field: "tagline", NewValue: "synthesized", EditSource: SourceRegeneration},
	}
	fe := ActiveFounderEdits(history)
	assert.Equal(t, []string{"problem"}, fe.Sections)
	assert.NotContains(t, fe.Fields, "cover")

	history = append(history, HistoryEntry{Timestamp: t0.Add(2 * time.Hour), Section: "cover", Field: "tagline", NewValue: "again", EditSource: SourceFounder})
	fe = ActiveFounderEdits(history)
	assert.Equal(t, []string{"cover", "problem"}, fe.Sections)
	assert.Equal(t, "again", fe.Fields["cover"]["tagline"])
}

func TestFounderEditSurvivesRegeneration(t *testing.T) {
	doc := sample()
	edited, entries, err := ApplyAll(doc, []Change{{Field: "cover.tagline", NewValue: "Founder wording"}}, SourceFounder, t0)
	require.NoError(t, err)
	require.NotNil(t, edited)

	fresh := sample()
	fresh["cover"].(map[string]any)["tagline"] = "Freshly synthesized"
	fresh["problem"].(map[string]any)["primary_pain"] = "new pain"

	merged, applied, skipped := Merge(fresh, ExtractFounderEdits(entries))
	assert.Equal(t, []string{"cover.tagline"}, applied)
	assert.Empty(t, skipped)
	assert.Equal(t, "Founder wording", merged["cover"].(map[string]any)["tagline"])
	assert.Equal(t, "new pain", merged["problem"].(map[string]any)["primary_pain"])
	assert.Equal(t, "Freshly synthesized", fresh["cover"].(map[string]any)["tagline"], "fresh tree untouched")
	assert.Contains(t, FounderEditedSections(entries), "cover")
}

func TestMergeSkipsVanishedArrayElements(t *testing.T) {
	fe := FounderEdits{
		Sections: []string{"problem"},
		Fields:   map[string]map[string]any{"problem": {"hypotheses.4": "gone"}},
	}
	_, applied, skipped := Merge(sample(), fe)
	assert.Empty(t, applied)
	assert.Equal(t, []string{"problem.hypotheses.4"}, skipped)
}

func TestDiff(t *testing.T) {
	a := sample()
	b := fieldpath.CloneTree(a)
	b["cover"].(map[string]any)["tagline"] = "changed"
	b["solution"] = map[string]any{"value_proposition": "new"}
	delete(b["problem"].(map[string]any), "primary_pain")

	want := []FieldChange{
		{Field: "cover.tagline", OldValue: "Books for bakeries", NewValue: "changed"},
		{Field: "problem.primary_pain", OldValue: "manual reconciliation", NewValue: nil},
		{Field: "solution.value_proposition", OldValue: nil, NewValue: "new"},
	}
	if diff := cmp.Diff(want, Diff(a, b)); diff != "" {
		t.Fatalf("diff mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, Diff(a, fieldpath.CloneTree(a)))
}

func TestRegenerationEntriesSkipMetadata(t *testing.T) {
	a := sample()
	b := fieldpath.CloneTree(a)
	b["cover"].(map[string]any)["venture_name"] = "Acme Ledger"
	b["metadata"].(map[string]any)["overall_fit_score"] = 0.6

	entries := RegenerationEntries(a, b, t0)
	require.Len(t, entries, 1)
	assert.Equal(t, "cover", entries[0].Section)
	assert.Equal(t, "venture_name", entries[0].Field)
	assert.Equal(t, SourceRegeneration, entries[0].EditSource)
}
