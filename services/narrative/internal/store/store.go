// Package store persists narratives, their versions, edit history, exports and
// evidence packages, and reads the collaborator records the Aggregator consumes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/startupai/narrative/pkg/authn"
	"github.com/startupai/narrative/services/narrative/internal/editor"
	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/guardian"
	"github.com/startupai/narrative/services/narrative/internal/idempotency"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation, such as a second narrative for a
	// project.
	ErrConflict = errors.New("conflict")
)

type Narrative struct {
	ID               string           `json:"narrative_id"`
	ProjectID        string           `json:"project_id"`
	Document         map[string]any   `json:"narrative_data"`
	GenerationHash   string           `json:"generation_hash"`
	AlignmentStatus  guardian.Status  `json:"alignment_status"`
	AlignmentIssues  []guardian.Issue `json:"alignment_issues"`
	IsEdited         bool             `json:"is_edited"`
	IsPublished      bool             `json:"is_published"`
	PublishedAt      *time.Time       `json:"published_at,omitempty"`
	FirstPublishedAt *time.Time       `json:"first_published_at,omitempty"`
	GeneratedFrom    string           `json:"generated_from"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type Version struct {
	ID            string         `json:"version_id"`
	NarrativeID   string         `json:"narrative_id"`
	VersionNumber int            `json:"version_number"`
	Document      map[string]any `json:"narrative_data"`
	TriggerReason string         `json:"trigger_reason"`
	FitScore      float64        `json:"fit_score_at_version"`
	CreatedAt     time.Time      `json:"created_at"`
}

type EvidencePackage struct {
	ID             string          `json:"package_id"`
	ProjectID      string          `json:"project_id"`
	EvidenceData   evidence.Bundle `json:"evidence_data"`
	IntegrityHash  string          `json:"integrity_hash"`
	FounderConsent bool            `json:"founder_consent"`
	IsPrimary      bool            `json:"is_primary"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Export is immutable once inserted. Only the hash of the verification token is kept.
type Export struct {
	ID                string    `json:"export_id"`
	NarrativeID       string    `json:"narrative_id"`
	TokenHash         string    `json:"-"`
	GenerationHash    string    `json:"generation_hash"`
	VentureName       string    `json:"venture_name_at_export"`
	ValidationStage   string    `json:"validation_stage_at_export"`
	Format            string    `json:"format"`
	IncludeQRCode     bool      `json:"include_qr_code"`
	IncludeEvidence   bool      `json:"include_evidence"`
	EvidencePackageID string    `json:"evidence_package_id,omitempty"`
	ExportedAt        time.Time `json:"exported_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type Store interface {
	evidence.Source
	authn.TokenStore
	idempotency.Store

	// SetProjectStaleness records the staleness severity of a project's narrative.
	SetProjectStaleness(ctx context.Context, projectID, severity string) error
	InsertApproval(ctx context.Context, a evidence.ApprovalRecord) error

	GetNarrative(ctx context.Context, id string) (Narrative, error)
	GetNarrativeByProject(ctx context.Context, projectID string) (Narrative, error)
	// CreateNarrative fails with ErrConflict when the project already has one.
	CreateNarrative(ctx context.Context, n Narrative) error
	UpdateNarrative(ctx context.Context, n Narrative) error

	AppendEdits(ctx context.Context, narrativeID string, entries []editor.HistoryEntry) error
	ListEdits(ctx context.Context, narrativeID string) ([]editor.HistoryEntry, error)

	// InsertVersion assigns the next version number of the narrative and returns the
	// stored row.
	InsertVersion(ctx context.Context, v Version) (Version, error)
	ListVersions(ctx context.Context, narrativeID string) ([]Version, error)
	GetVersion(ctx context.Context, narrativeID string, number int) (Version, error)

	// UpsertPrimaryEvidencePackage replaces the project's primary package in place,
	// keeping its id and consent flag.
	UpsertPrimaryEvidencePackage(ctx context.Context, p EvidencePackage) (EvidencePackage, error)
	GetPrimaryEvidencePackage(ctx context.Context, projectID string) (EvidencePackage, error)
	GetEvidencePackage(ctx context.Context, id string) (EvidencePackage, error)
	SetFounderConsent(ctx context.Context, packageID string, consent bool) error

	InsertExport(ctx context.Context, e Export) error
	GetExport(ctx context.Context, id string) (Export, error)
	GetExportByTokenHash(ctx context.Context, tokenHash string) (Export, error)
}
