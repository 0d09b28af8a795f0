package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/startupai/narrative/pkg/authn"
	"github.com/startupai/narrative/pkg/fieldpath"
	"github.com/startupai/narrative/services/narrative/internal/editor"
	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/idempotency"
)

// MemStore is an in-process Store. Records are copied on the way in and out so
// callers never share state with the store.
type MemStore struct {
	mu sync.Mutex

	projects   map[string]evidence.Project
	founders   map[string]evidence.FounderProfile
	items      map[string][]evidence.Item
	hypotheses map[string][]evidence.Hypothesis
	vps        map[string][]evidence.ValueProposition
	states     map[string][]evidence.ValidationState
	approvals  map[string][]evidence.ApprovalRecord
	tokens     map[string]authn.Identity

	narratives map[string]Narrative
	byProject  map[string]string
	edits      map[string][]editor.HistoryEntry
	versions   map[string][]Version
	packages   map[string]EvidencePackage
	exports    map[string]Export
	byToken    map[string]string
	idem       map[string]idempotency.Record
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		projects:   map[string]evidence.Project{},
		founders:   map[string]evidence.FounderProfile{},
		items:      map[string][]evidence.Item{},
		hypotheses: map[string][]evidence.Hypothesis{},
		vps:        map[string][]evidence.ValueProposition{},
		states:     map[string][]evidence.ValidationState{},
		approvals:  map[string][]evidence.ApprovalRecord{},
		tokens:     map[string]authn.Identity{},
		narratives: map[string]Narrative{},
		byProject:  map[string]string{},
		edits:      map[string][]editor.HistoryEntry{},
		versions:   map[string][]Version{},
		packages:   map[string]EvidencePackage{},
		exports:    map[string]Export{},
		byToken:    map[string]string{},
		idem:       map[string]idempotency.Record{},
	}
}

// --- seeding ---

func (s *MemStore) PutProject(p evidence.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.StalenessSeverity == "" {
		p.StalenessSeverity = "none"
	}
	s.projects[p.ID] = p
}

func (s *MemStore) PutFounderProfile(projectID string, f evidence.FounderProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.founders[projectID] = f
}

func (s *MemStore) AddEvidence(items ...evidence.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items[it.ProjectID] = append(s.items[it.ProjectID], it)
	}
}

func (s *MemStore) AddHypotheses(hs ...evidence.Hypothesis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hs {
		s.hypotheses[h.ProjectID] = append(s.hypotheses[h.ProjectID], h)
	}
}

func (s *MemStore) AddValueProposition(vp evidence.ValueProposition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vps[vp.ProjectID] = append(s.vps[vp.ProjectID], vp)
}

func (s *MemStore) AddValidationState(vs evidence.ValidationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[vs.ProjectID] = append(s.states[vs.ProjectID], vs)
}

// PutToken registers a bearer token; only its hash is kept.
func (s *MemStore) PutToken(token string, id authn.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[authn.HashToken(token)] = id
}

// --- collaborator reads ---

func (s *MemStore) GetProject(_ context.Context, projectID string) (evidence.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return evidence.Project{}, ErrNotFound
	}
	return p, nil
}

func (s *MemStore) GetFounderProfile(_ context.Context, projectID string) (evidence.FounderProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.founders[projectID]
	if !ok {
		return evidence.FounderProfile{}, ErrNotFound
	}
	return f, nil
}

func (s *MemStore) ListEvidence(_ context.Context, projectID string) ([]evidence.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]evidence.Item(nil), s.items[projectID]...), nil
}

func (s *MemStore) ListHypotheses(_ context.Context, projectID string) ([]evidence.Hypothesis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]evidence.Hypothesis(nil), s.hypotheses[projectID]...), nil
}

func (s *MemStore) LatestValueProposition(_ context.Context, projectID string) (evidence.ValueProposition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vps := s.vps[projectID]
	if len(vps) == 0 {
		return evidence.ValueProposition{}, ErrNotFound
	}
	return vps[len(vps)-1], nil
}

func (s *MemStore) LatestValidationState(_ context.Context, projectID string) (evidence.ValidationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := s.states[projectID]
	if len(states) == 0 {
		return evidence.ValidationState{}, ErrNotFound
	}
	return states[len(states)-1], nil
}

func (s *MemStore) ListApprovals(_ context.Context, projectID string) ([]evidence.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]evidence.ApprovalRecord(nil), s.approvals[projectID]...), nil
}

func (s *MemStore) InsertApproval(_ context.Context, a evidence.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = "apr_" + uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.approvals[a.ProjectID] = append(s.approvals[a.ProjectID], a)
	return nil
}

func (s *MemStore) SetProjectStaleness(_ context.Context, projectID, severity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	p.StalenessSeverity = severity
	s.projects[projectID] = p
	return nil
}

func (s *MemStore) LookupToken(_ context.Context, tokenHash string) (authn.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[tokenHash]
	if !ok {
		return authn.Identity{}, authn.ErrUnauthorized
	}
	return id, nil
}

// --- narratives ---

func copyNarrative(n Narrative) Narrative {
	n.Document = fieldpath.CloneTree(n.Document)
	n.AlignmentIssues = append(n.AlignmentIssues[:0:0], n.AlignmentIssues...)
	if n.PublishedAt != nil {
		t := *n.PublishedAt
		n.PublishedAt = &t
	}
	if n.FirstPublishedAt != nil {
		t := *n.FirstPublishedAt
		n.FirstPublishedAt = &t
	}
	return n
}

func (s *MemStore) GetNarrative(_ context.Context, id string) (Narrative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.narratives[id]
	if !ok {
		return Narrative{}, ErrNotFound
	}
	return copyNarrative(n), nil
}

func (s *MemStore) GetNarrativeByProject(_ context.Context, projectID string) (Narrative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byProject[projectID]
	if !ok {
		return Narrative{}, ErrNotFound
	}
	return copyNarrative(s.narratives[id]), nil
}

func (s *MemStore) CreateNarrative(_ context.Context, n Narrative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byProject[n.ProjectID]; ok {
		return fmt.Errorf("%w: narrative for project %s", ErrConflict, n.ProjectID)
	}
	if _, ok := s.narratives[n.ID]; ok {
		return fmt.Errorf("%w: narrative %s", ErrConflict, n.ID)
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	s.narratives[n.ID] = copyNarrative(n)
	s.byProject[n.ProjectID] = n.ID
	return nil
}

func (s *MemStore) UpdateNarrative(_ context.Context, n Narrative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.narratives[n.ID]
	if !ok {
		return ErrNotFound
	}
	n.ProjectID = cur.ProjectID
	n.CreatedAt = cur.CreatedAt
	s.narratives[n.ID] = copyNarrative(n)
	return nil
}

// --- edit history ---

func (s *MemStore) AppendEdits(_ context.Context, narrativeID string, entries []editor.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		e.OldValue = fieldpath.Clone(e.OldValue)
		e.NewValue = fieldpath.Clone(e.NewValue)
		s.edits[narrativeID] = append(s.edits[narrativeID], e)
	}
	return nil
}

func (s *MemStore) ListEdits(_ context.Context, narrativeID string) ([]editor.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]editor.HistoryEntry, 0, len(s.edits[narrativeID]))
	for _, e := range s.edits[narrativeID] {
		e.OldValue = fieldpath.Clone(e.OldValue)
		e.NewValue = fieldpath.Clone(e.NewValue)
		out = append(out, e)
	}
	return out, nil
}

// --- versions ---

func (s *MemStore) InsertVersion(_ context.Context, v Version) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == "" {
		v.ID = "ver_" + uuid.NewString()
	}
	v.VersionNumber = len(s.versions[v.NarrativeID]) + 1
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.Document = fieldpath.CloneTree(v.Document)
	s.versions[v.NarrativeID] = append(s.versions[v.NarrativeID], v)
	return v, nil
}

func (s *MemStore) ListVersions(_ context.Context, narrativeID string) ([]Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Version, 0, len(s.versions[narrativeID]))
	for _, v := range s.versions[narrativeID] {
		v.Document = nil
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (s *MemStore) GetVersion(_ context.Context, narrativeID string, number int) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[narrativeID] {
		if v.VersionNumber == number {
			v.Document = fieldpath.CloneTree(v.Document)
			return v, nil
		}
	}
	return Version{}, ErrNotFound
}

// --- evidence packages ---

// copyPackage deep-copies the bundle through JSON, the way a database round trip
// would.
func copyPackage(p EvidencePackage) EvidencePackage {
	b, err := json.Marshal(p.EvidenceData)
	if err == nil {
		var out evidence.Bundle
		if json.Unmarshal(b, &out) == nil {
			p.EvidenceData = out
		}
	}
	return p
}

func (s *MemStore) UpsertPrimaryEvidencePackage(_ context.Context, p EvidencePackage) (EvidencePackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, cur := range s.packages {
		if cur.ProjectID == p.ProjectID && cur.IsPrimary {
			cur.EvidenceData = p.EvidenceData
			cur.IntegrityHash = p.IntegrityHash
			cur.UpdatedAt = now
			s.packages[id] = copyPackage(cur)
			return copyPackage(cur), nil
		}
	}
	if p.ID == "" {
		p.ID = "evp_" + uuid.NewString()
	}
	p.IsPrimary = true
	p.CreatedAt, p.UpdatedAt = now, now
	s.packages[p.ID] = copyPackage(p)
	return copyPackage(p), nil
}

func (s *MemStore) SetFounderConsent(_ context.Context, id string, consent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return ErrNotFound
	}
	p.FounderConsent = consent
	p.UpdatedAt = time.Now().UTC()
	s.packages[id] = p
	return nil
}

func (s *MemStore) GetPrimaryEvidencePackage(_ context.Context, projectID string) (EvidencePackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.packages {
		if p.ProjectID == projectID && p.IsPrimary {
			return copyPackage(p), nil
		}
	}
	return EvidencePackage{}, ErrNotFound
}

func (s *MemStore) GetEvidencePackage(_ context.Context, id string) (EvidencePackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return EvidencePackage{}, ErrNotFound
	}
	return copyPackage(p), nil
}

// --- exports ---

func (s *MemStore) InsertExport(_ context.Context, e Export) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exports[e.ID]; ok {
		return fmt.Errorf("%w: export %s", ErrConflict, e.ID)
	}
	if _, ok := s.byToken[e.TokenHash]; ok {
		return fmt.Errorf("%w: verification token", ErrConflict)
	}
	s.exports[e.ID] = e
	s.byToken[e.TokenHash] = e.ID
	return nil
}

func (s *MemStore) GetExport(_ context.Context, id string) (Export, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exports[id]
	if !ok {
		return Export{}, ErrNotFound
	}
	return e, nil
}

func (s *MemStore) GetExportByTokenHash(_ context.Context, tokenHash string) (Export, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byToken[tokenHash]
	if !ok {
		return Export{}, ErrNotFound
	}
	return s.exports[id], nil
}

// --- idempotency ---

func idemKey(actorID, key, endpoint string) string { return actorID + "\x00" + key + "\x00" + endpoint }

func (s *MemStore) GetIdempotencyRecord(_ context.Context, actorID, key, endpoint string) (idempotency.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idem[idemKey(actorID, key, endpoint)]
	return rec, ok, nil
}

func (s *MemStore) SaveIdempotencyRecord(_ context.Context, actorID, key, endpoint string, rec idempotency.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey(actorID, key, endpoint)
	if _, ok := s.idem[k]; !ok {
		s.idem[k] = idempotency.Record{Status: rec.Status, Body: append([]byte(nil), rec.Body...), RequestHash: rec.RequestHash}
	}
	return nil
}
