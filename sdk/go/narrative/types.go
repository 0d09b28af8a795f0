package narrative

import "time"

type Verification struct {
	Status          string     `json:"status"`
	VentureName     string     `json:"venture_name,omitempty"`
	ExportedAt      *time.Time `json:"exported_at,omitempty"`
	ValidationStage string     `json:"validation_stage,omitempty"`
	IsEdited        bool       `json:"is_edited"`
	AlignmentStatus string     `json:"alignment_status,omitempty"`
	EvidenceURL     string     `json:"evidence_url,omitempty"`
}

type Issue struct {
	Field             string `json:"field"`
	Phrase            string `json:"phrase"`
	Message           string `json:"message"`
	Severity          string `json:"severity"`
	SuggestedLanguage string `json:"suggested_language"`
	EvidenceNeeded    string `json:"evidence_needed"`
}

type GenerateRequest struct {
	ForceRegenerate bool  `json:"force_regenerate"`
	PreserveEdits   *bool `json:"preserve_edits,omitempty"`
}

type GenerateResult struct {
	NarrativeID     string         `json:"narrative_id"`
	Document        map[string]any `json:"document"`
	IsFresh         bool           `json:"is_fresh"`
	GeneratedFrom   string         `json:"generated_from"`
	AlignmentStatus string         `json:"alignment_status"`
	AlignmentIssues []Issue        `json:"alignment_issues"`
}

type Narrative struct {
	ID                    string         `json:"narrative_id"`
	ProjectID             string         `json:"project_id"`
	Document              map[string]any `json:"narrative_data"`
	GenerationHash        string         `json:"generation_hash"`
	AlignmentStatus       string         `json:"alignment_status"`
	AlignmentIssues       []Issue        `json:"alignment_issues"`
	IsEdited              bool           `json:"is_edited"`
	IsPublished           bool           `json:"is_published"`
	PublishedAt           *time.Time     `json:"published_at,omitempty"`
	FirstPublishedAt      *time.Time     `json:"first_published_at,omitempty"`
	GeneratedFrom         string         `json:"generated_from"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	FounderEditedSections []string       `json:"founder_edited_sections"`
}

type Edit struct {
	Field    string `json:"field"`
	NewValue any    `json:"new_value"`
}

type EditRequest struct {
	Edits        []Edit `json:"edits"`
	RejectOnFlag bool   `json:"reject_on_flag"`
}

type EditResult struct {
	NarrativeID     string  `json:"narrative_id"`
	IsEdited        bool    `json:"is_edited"`
	AlignmentStatus string  `json:"alignment_status"`
	AlignmentIssues []Issue `json:"alignment_issues"`
	GenerationHash  string  `json:"generation_hash"`
}

type Confirmation struct {
	ReviewedSlides   bool `json:"reviewed_slides"`
	VerifiedTraction bool `json:"verified_traction"`
	AddedContext     bool `json:"added_context"`
	ConfirmedAsk     bool `json:"confirmed_ask"`
}

type PublishResult struct {
	NarrativeID  string     `json:"narrative_id"`
	IsPublished  bool       `json:"is_published"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	FirstPublish bool       `json:"first_publish"`
}

type ExportRequest struct {
	Format          string `json:"format"`
	IncludeQRCode   bool   `json:"include_qr_code"`
	IncludeEvidence bool   `json:"include_evidence"`
}

type ExportResult struct {
	ExportID          string    `json:"export_id"`
	VerificationToken string    `json:"verification_token"`
	GenerationHash    string    `json:"generation_hash"`
	VerificationURL   string    `json:"verification_url"`
	DownloadURL       string    `json:"download_url"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type VersionSummary struct {
	VersionNumber int       `json:"version_number"`
	CreatedAt     time.Time `json:"created_at"`
	TriggerReason string    `json:"trigger_reason"`
	FitScore      float64   `json:"fit_score_at_version"`
}

type Change struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}
