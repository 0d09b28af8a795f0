// Package editor applies founder edits to narrative trees, builds the append-only
// edit history, and carries founder wording across regenerations.
package editor

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/startupai/narrative/pkg/fieldpath"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
)

var (
	ErrInvalidField  = errors.New("invalid field")
	ErrReadOnlyField = errors.New("field is derived and cannot be edited")
)

type Source string

const (
	SourceFounder      Source = "founder"
	SourceRegeneration Source = "regeneration"
)

type Change struct {
	Field    string `json:"field"`
	NewValue any    `json:"new_value"`
}

type Applied struct {
	Document map[string]any
	OldValue any
	Section  string
	// Field is the path below Section.
	Field string
}

// Apply sets path to value on a clone of doc. doc itself is never modified.
func Apply(doc map[string]any, path string, value any) (Applied, error) {
	segs, err := fieldpath.Split(path)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	if segs[0] == narrative.KeyMetadata || segs[0] == narrative.KeyVersion {
		return Applied{}, fmt.Errorf("%w: %s", ErrReadOnlyField, path)
	}
	if !narrative.IsSection(segs[0]) {
		return Applied{}, fmt.Errorf("%w: unknown section %q", ErrInvalidField, segs[0])
	}
	if len(segs) < 2 {
		return Applied{}, fmt.Errorf("%w: %q names a whole section", ErrInvalidField, path)
	}
	if value == nil || containsNull(value) {
		return Applied{}, fmt.Errorf("%w: %s cannot be set to null", ErrInvalidField, path)
	}

	out := fieldpath.CloneTree(doc)
	if out == nil {
		out = map[string]any{}
	}
	for i := 2; i < len(segs); i++ {
		parent := fieldpath.Join(segs[:i]...)
		if v, ok := fieldpath.Get(out, parent); ok && v != nil && !isContainer(v) {
			return Applied{}, fmt.Errorf("%w: %s is a %s, not an object", ErrInvalidField, parent, kindOf(v))
		}
	}
	old, _ := fieldpath.Get(out, path)
	old = fieldpath.Clone(old)
	if old != nil && kindOf(old) != kindOf(value) {
		return Applied{}, fmt.Errorf("%w: %s is a %s, got a %s", ErrInvalidField, path, kindOf(old), kindOf(value))
	}
	if err := fieldpath.Set(out, path, fieldpath.Clone(value)); err != nil {
		return Applied{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return Applied{
		Document: out,
		OldValue: old,
		Section:  segs[0],
		Field:    fieldpath.Join(segs[1:]...),
	}, nil
}

// kindOf names the JSON type of v. Every Go numeric type is a "number".
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func isContainer(v any) bool {
	k := kindOf(v)
	return k == "object" || k == "array"
}

func containsNull(v any) bool {
	switch node := v.(type) {
	case nil:
		return true
	case map[string]any:
		for _, child := range node {
			if containsNull(child) {
				return true
			}
		}
	case []any:
		for _, child := range node {
			if containsNull(child) {
				return true
			}
		}
	}
	return false
}

type HistoryEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Section    string    `json:"section"`
	Field      string    `json:"field"`
	OldValue   any       `json:"old_value"`
	NewValue   any       `json:"new_value"`
	EditSource Source    `json:"edit_source"`
}

// Path is the full dot path of the edited field.
func (h HistoryEntry) Path() string { return fieldpath.Join(h.Section, h.Field) }

func NewEntry(a Applied, newValue any, source Source, at time.Time) HistoryEntry {
	return HistoryEntry{
		Timestamp:  at.UTC(),
		Section:    a.Section,
		Field:      a.Field,
		OldValue:   a.OldValue,
		NewValue:   newValue,
		EditSource: source,
	}
}

// ApplyAll applies changes in order, each to the result of the previous one, and
// returns the final tree with one history entry per change. Any invalid change
// rejects the whole batch.
func ApplyAll(doc map[string]any, changes []Change, source Source, at time.Time) (map[string]any, []HistoryEntry, error) {
	if len(changes) == 0 {
		return nil, nil, fmt.Errorf("%w: no changes", ErrInvalidField)
	}
	cur := doc
	entries := make([]HistoryEntry, 0, len(changes))
	for _, c := range changes {
		a, err := Apply(cur, c.Field, c.NewValue)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, NewEntry(a, c.NewValue, source, at))
		cur = a.Document
	}
	if err := narrative.Validate(cur); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return cur, entries, nil
}

// FounderEdits holds, per section, the latest founder value of every field a founder
// has edited.
type FounderEdits struct {
	Sections []string
	Fields   map[string]map[string]any
}

// ExtractFounderEdits keeps only founder entries; for a field edited more than once
// the later timestamp wins, and among equal timestamps the later entry.
func ExtractFounderEdits(history []HistoryEntry) FounderEdits {
	entries := make([]HistoryEntry, 0, len(history))
	for _, h := range history {
		if h.EditSource == SourceFounder {
			entries = append(entries, h)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })

	fe := FounderEdits{Sections: []string{}, Fields: map[string]map[string]any{}}
	for _, h := range entries {
		if fe.Fields[h.Section] == nil {
			fe.Fields[h.Section] = map[string]any{}
			fe.Sections = append(fe.Sections, h.Section)
		}
		fe.Fields[h.Section][h.Field] = h.NewValue
	}
	sort.Strings(fe.Sections)
	return fe
}

// FounderEditedSections lists the sections a founder has touched, sorted.
func FounderEditedSections(history []HistoryEntry) []string {
	return ExtractFounderEdits(history).Sections
}

// ActiveFounderEdits is ExtractFounderEdits over the founder entries that are still
// the latest change to their path. A regeneration that discarded edits records its
// own entry for every field it overwrote, which retires the founder value.
func ActiveFounderEdits(history []HistoryEntry) FounderEdits {
	sorted := append([]HistoryEntry(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	latest := map[string]Source{}
	for _, h := range sorted {
		latest[h.Path()] = h.EditSource
	}
	active := make([]HistoryEntry, 0, len(sorted))
	for _, h := range sorted {
		if latest[h.Path()] == SourceFounder {
			active = append(active, h)
		}
	}
	return ExtractFounderEdits(active)
}

// Merge re-applies founder edits over a freshly synthesized tree. It returns the
// merged clone, the full paths it re-applied, and the paths that no longer exist in
// the fresh tree (an array element addressed by index that regeneration removed).
func Merge(fresh map[string]any, fe FounderEdits) (merged map[string]any, applied, skipped []string) {
	merged = fieldpath.CloneTree(fresh)
	if merged == nil {
		merged = map[string]any{}
	}
	for _, section := range fe.Sections {
		fields := make([]string, 0, len(fe.Fields[section]))
		for f := range fe.Fields[section] {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			path := fieldpath.Join(section, f)
			if err := fieldpath.Set(merged, path, fieldpath.Clone(fe.Fields[section][f])); err != nil {
				skipped = append(skipped, path)
				continue
			}
			applied = append(applied, path)
		}
	}
	return merged, applied, skipped
}

type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// Diff compares two trees leaf by leaf and returns the changed paths, sorted. A path
// present on one side only has a nil value on the other.
func Diff(a, b map[string]any) []FieldChange {
	fa, fb := fieldpath.Flatten(a), fieldpath.Flatten(b)
	paths := make([]string, 0, len(fa)+len(fb))
	for p := range fa {
		paths = append(paths, p)
	}
	for p := range fb {
		if _, ok := fa[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	out := []FieldChange{}
	for _, p := range paths {
		va, vb := fa[p], fb[p]
		if reflect.DeepEqual(va, vb) {
			continue
		}
		out = append(out, FieldChange{Field: p, OldValue: va, NewValue: vb})
	}
	return out
}

// RegenerationEntries records every content field a regeneration changed.
func RegenerationEntries(before, after map[string]any, at time.Time) []HistoryEntry {
	var out []HistoryEntry
	for _, c := range Diff(before, after) {
		segs, err := fieldpath.Split(c.Field)
		if err != nil || len(segs) < 2 || !narrative.IsSection(segs[0]) {
			continue
		}
		out = append(out, HistoryEntry{
			Timestamp:  at.UTC(),
			Section:    segs[0],
			Field:      fieldpath.Join(segs[1:]...),
			OldValue:   c.OldValue,
			NewValue:   c.NewValue,
			EditSource: SourceRegeneration,
		})
	}
	return out
}
