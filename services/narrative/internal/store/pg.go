package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/startupai/narrative/pkg/authn"
	"github.com/startupai/narrative/services/narrative/internal/editor"
	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/guardian"
	"github.com/startupai/narrative/services/narrative/internal/idempotency"
)

// PG is the postgres Store.
type PG struct{ DB *pgxpool.Pool }

func NewPG(db *pgxpool.Pool) *PG { return &PG{DB: db} }

var _ Store = (*PG)(nil)

// Migrate applies the schema and records its version.
func (s *PG) Migrate(ctx context.Context) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM narrative_schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO narrative_schema_version(version) VALUES($1)`, schemaVersion); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func conflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func jsonArg(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --- collaborator reads ---

func (s *PG) GetProject(ctx context.Context, projectID string) (evidence.Project, error) {
	var p evidence.Project
	err := s.DB.QueryRow(ctx, `
SELECT project_id,owner_id,name,description,industry,staleness_severity,created_at
FROM projects WHERE project_id=$1
`, projectID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Industry, &p.StalenessSeverity, &p.CreatedAt)
	return p, notFound(err)
}

func (s *PG) GetFounderProfile(ctx context.Context, projectID string) (evidence.FounderProfile, error) {
	var f evidence.FounderProfile
	err := s.DB.QueryRow(ctx, `
SELECT name,email,role,background,linkedin_url,website_url
FROM founder_profiles WHERE project_id=$1
`, projectID).Scan(&f.Name, &f.Email, &f.Role, &f.Background, &f.LinkedIn, &f.Website)
	return f, notFound(err)
}

func (s *PG) ListEvidence(ctx context.Context, projectID string) ([]evidence.Item, error) {
	rows, err := s.DB.Query(ctx, `
SELECT evidence_id,project_id,title,summary,evidence_type,narrative_category,metric,value,created_at
FROM evidence_items WHERE project_id=$1 ORDER BY created_at DESC
`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []evidence.Item
	for rows.Next() {
		var it evidence.Item
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.Title, &it.Summary, &it.EvidenceType, &it.NarrativeCategory, &it.Metric, &it.Value, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PG) ListHypotheses(ctx context.Context, projectID string) ([]evidence.Hypothesis, error) {
	rows, err := s.DB.Query(ctx, `
SELECT hypothesis_id,project_id,statement,kind,status,created_at
FROM hypotheses WHERE project_id=$1 ORDER BY created_at ASC
`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []evidence.Hypothesis
	for rows.Next() {
		var h evidence.Hypothesis
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.Statement, &h.Kind, &h.Status, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PG) LatestValueProposition(ctx context.Context, projectID string) (evidence.ValueProposition, error) {
	var (
		vp   evidence.ValueProposition
		id   string
		data []byte
		at   time.Time
	)
	err := s.DB.QueryRow(ctx, `
SELECT vp_id,data,created_at FROM value_propositions
WHERE project_id=$1 ORDER BY created_at DESC LIMIT 1
`, projectID).Scan(&id, &data, &at)
	if err != nil {
		return vp, notFound(err)
	}
	if err := json.Unmarshal(data, &vp); err != nil {
		return vp, fmt.Errorf("decode value proposition %s: %w", id, err)
	}
	vp.ID, vp.ProjectID, vp.CreatedAt = id, projectID, at
	return vp, nil
}

func (s *PG) LatestValidationState(ctx context.Context, projectID string) (evidence.ValidationState, error) {
	var (
		vs   evidence.ValidationState
		data []byte
		at   time.Time
	)
	err := s.DB.QueryRow(ctx, `
SELECT data,updated_at FROM validation_states
WHERE project_id=$1 ORDER BY updated_at DESC LIMIT 1
`, projectID).Scan(&data, &at)
	if err != nil {
		return vs, notFound(err)
	}
	if err := json.Unmarshal(data, &vs); err != nil {
		return vs, fmt.Errorf("decode validation state for %s: %w", projectID, err)
	}
	vs.ProjectID, vs.UpdatedAt = projectID, at
	return vs, nil
}

func (s *PG) ListApprovals(ctx context.Context, projectID string) ([]evidence.ApprovalRecord, error) {
	rows, err := s.DB.Query(ctx, `
SELECT approval_id,project_id,checkpoint_type,decision,decided_by,payload,created_at
FROM approvals WHERE project_id=$1 ORDER BY created_at ASC
`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []evidence.ApprovalRecord
	for rows.Next() {
		var (
			a       evidence.ApprovalRecord
			payload []byte
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.CheckpointType, &a.Decision, &a.DecidedBy, &payload, &a.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &a.Payload)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PG) InsertApproval(ctx context.Context, a evidence.ApprovalRecord) error {
	if a.ID == "" {
		a.ID = "apr_" + uuid.NewString()
	}
	payload, err := jsonArg(a.Payload)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO approvals(approval_id,project_id,checkpoint_type,decision,decided_by,payload,created_at)
VALUES($1,$2,$3,$4,$5,$6::jsonb,COALESCE($7,now()))
`, a.ID, a.ProjectID, a.CheckpointType, a.Decision, a.DecidedBy, payload, nullTime(a.CreatedAt))
	return err
}

func (s *PG) SetProjectStaleness(ctx context.Context, projectID, severity string) error {
	tag, err := s.DB.Exec(ctx, `UPDATE projects SET staleness_severity=$1 WHERE project_id=$2`, severity, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PG) LookupToken(ctx context.Context, tokenHash string) (authn.Identity, error) {
	var id authn.Identity
	err := s.DB.QueryRow(ctx, `
SELECT user_id,scopes FROM api_tokens WHERE token_hash=$1 AND revoked_at IS NULL
`, tokenHash).Scan(&id.UserID, &id.Scopes)
	if errors.Is(err, pgx.ErrNoRows) {
		return id, authn.ErrUnauthorized
	}
	return id, err
}

// --- narratives ---

const narrativeColumns = `narrative_id,project_id,narrative_data,generation_hash,alignment_status,alignment_issues,
is_edited,is_published,published_at,first_published_at,generated_from,created_at,updated_at`

func scanNarrative(row pgx.Row) (Narrative, error) {
	var (
		n      Narrative
		doc    []byte
		issues []byte
		status string
	)
	err := row.Scan(&n.ID, &n.ProjectID, &doc, &n.GenerationHash, &status, &issues,
		&n.IsEdited, &n.IsPublished, &n.PublishedAt, &n.FirstPublishedAt, &n.GeneratedFrom, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return n, notFound(err)
	}
	n.AlignmentStatus = guardian.Status(status)
	if err := json.Unmarshal(doc, &n.Document); err != nil {
		return n, fmt.Errorf("decode narrative %s: %w", n.ID, err)
	}
	if err := json.Unmarshal(issues, &n.AlignmentIssues); err != nil {
		return n, fmt.Errorf("decode alignment issues %s: %w", n.ID, err)
	}
	return n, nil
}

func (s *PG) GetNarrative(ctx context.Context, id string) (Narrative, error) {
	return scanNarrative(s.DB.QueryRow(ctx, `SELECT `+narrativeColumns+` FROM narratives WHERE narrative_id=$1`, id))
}

func (s *PG) GetNarrativeByProject(ctx context.Context, projectID string) (Narrative, error) {
	return scanNarrative(s.DB.QueryRow(ctx, `SELECT `+narrativeColumns+` FROM narratives WHERE project_id=$1`, projectID))
}

func narrativeArgs(n Narrative) (doc, issues string, err error) {
	if doc, err = jsonArg(n.Document); err != nil {
		return "", "", err
	}
	if n.AlignmentIssues == nil {
		n.AlignmentIssues = []guardian.Issue{}
	}
	if issues, err = jsonArg(n.AlignmentIssues); err != nil {
		return "", "", err
	}
	return doc, issues, nil
}

func (s *PG) CreateNarrative(ctx context.Context, n Narrative) error {
	doc, issues, err := narrativeArgs(n)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO narratives(narrative_id,project_id,narrative_data,generation_hash,alignment_status,alignment_issues,
  is_edited,is_published,published_at,first_published_at,generated_from,created_at,updated_at)
VALUES($1,$2,$3::jsonb,$4,$5,$6::jsonb,$7,$8,$9,$10,$11,$12,$12)
`, n.ID, n.ProjectID, doc, n.GenerationHash, string(n.AlignmentStatus), issues,
		n.IsEdited, n.IsPublished, n.PublishedAt, n.FirstPublishedAt, n.GeneratedFrom, n.CreatedAt)
	return conflict(err)
}

func (s *PG) UpdateNarrative(ctx context.Context, n Narrative) error {
	doc, issues, err := narrativeArgs(n)
	if err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx, `
UPDATE narratives SET
  narrative_data=$2::jsonb,
  generation_hash=$3,
  alignment_status=$4,
  alignment_issues=$5::jsonb,
  is_edited=$6,
  is_published=$7,
  published_at=$8,
  first_published_at=$9,
  generated_from=$10,
  updated_at=$11
WHERE narrative_id=$1
`, n.ID, doc, n.GenerationHash, string(n.AlignmentStatus), issues,
		n.IsEdited, n.IsPublished, n.PublishedAt, n.FirstPublishedAt, n.GeneratedFrom, n.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- edit history ---

func (s *PG) AppendEdits(ctx context.Context, narrativeID string, entries []editor.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		oldV, err := jsonArg(e.OldValue)
		if err != nil {
			return err
		}
		newV, err := jsonArg(e.NewValue)
		if err != nil {
			return err
		}
		batch.Queue(`
INSERT INTO narrative_edits(narrative_id,edited_at,section,field,old_value,new_value,edit_source)
VALUES($1,$2,$3,$4,$5::jsonb,$6::jsonb,$7)
`, narrativeID, e.Timestamp, e.Section, e.Field, oldV, newV, string(e.EditSource))
	}
	return s.DB.SendBatch(ctx, batch).Close()
}

func (s *PG) ListEdits(ctx context.Context, narrativeID string) ([]editor.HistoryEntry, error) {
	rows, err := s.DB.Query(ctx, `
SELECT edited_at,section,field,old_value,new_value,edit_source
FROM narrative_edits WHERE narrative_id=$1 ORDER BY edit_id ASC
`, narrativeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []editor.HistoryEntry
	for rows.Next() {
		var (
			e          editor.HistoryEntry
			oldV, newV []byte
			source     string
		)
		if err := rows.Scan(&e.Timestamp, &e.Section, &e.Field, &oldV, &newV, &source); err != nil {
			return nil, err
		}
		e.EditSource = editor.Source(source)
		if len(oldV) > 0 {
			_ = json.Unmarshal(oldV, &e.OldValue)
		}
		if len(newV) > 0 {
			_ = json.Unmarshal(newV, &e.NewValue)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- versions ---

func (s *PG) InsertVersion(ctx context.Context, v Version) (Version, error) {
	if v.ID == "" {
		v.ID = "ver_" + uuid.NewString()
	}
	doc, err := jsonArg(v.Document)
	if err != nil {
		return v, err
	}
	err = s.DB.QueryRow(ctx, `
INSERT INTO narrative_versions(version_id,narrative_id,version_number,narrative_data,trigger_reason,fit_score)
SELECT $1,$2,COALESCE(MAX(version_number),0)+1,$3::jsonb,$4,$5
FROM narrative_versions WHERE narrative_id=$2
RETURNING version_number,created_at
`, v.ID, v.NarrativeID, doc, v.TriggerReason, v.FitScore).Scan(&v.VersionNumber, &v.CreatedAt)
	return v, conflict(err)
}

func (s *PG) ListVersions(ctx context.Context, narrativeID string) ([]Version, error) {
	rows, err := s.DB.Query(ctx, `
SELECT version_id,narrative_id,version_number,trigger_reason,fit_score,created_at
FROM narrative_versions WHERE narrative_id=$1 ORDER BY version_number ASC
`, narrativeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.NarrativeID, &v.VersionNumber, &v.TriggerReason, &v.FitScore, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PG) GetVersion(ctx context.Context, narrativeID string, number int) (Version, error) {
	var (
		v   Version
		doc []byte
	)
	err := s.DB.QueryRow(ctx, `
SELECT version_id,narrative_id,version_number,narrative_data,trigger_reason,fit_score,created_at
FROM narrative_versions WHERE narrative_id=$1 AND version_number=$2
`, narrativeID, number).Scan(&v.ID, &v.NarrativeID, &v.VersionNumber, &doc, &v.TriggerReason, &v.FitScore, &v.CreatedAt)
	if err != nil {
		return v, notFound(err)
	}
	if err := json.Unmarshal(doc, &v.Document); err != nil {
		return v, fmt.Errorf("decode version %s: %w", v.ID, err)
	}
	return v, nil
}

// --- evidence packages ---

const packageColumns = `package_id,project_id,evidence_data,integrity_hash,founder_consent,is_primary,created_at,updated_at`

func scanPackage(row pgx.Row) (EvidencePackage, error) {
	var (
		p    EvidencePackage
		data []byte
	)
	if err := row.Scan(&p.ID, &p.ProjectID, &data, &p.IntegrityHash, &p.FounderConsent, &p.IsPrimary, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, notFound(err)
	}
	if err := json.Unmarshal(data, &p.EvidenceData); err != nil {
		return p, fmt.Errorf("decode evidence package %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *PG) UpsertPrimaryEvidencePackage(ctx context.Context, p EvidencePackage) (EvidencePackage, error) {
	if p.ID == "" {
		p.ID = "evp_" + uuid.NewString()
	}
	data, err := jsonArg(p.EvidenceData)
	if err != nil {
		return p, err
	}
	return scanPackage(s.DB.QueryRow(ctx, `
INSERT INTO evidence_packages(package_id,project_id,evidence_data,integrity_hash,founder_consent,is_primary)
VALUES($1,$2,$3::jsonb,$4,$5,true)
ON CONFLICT (project_id) WHERE is_primary DO UPDATE SET
  evidence_data=EXCLUDED.evidence_data,
  integrity_hash=EXCLUDED.integrity_hash,
  updated_at=now()
RETURNING `+packageColumns, p.ID, p.ProjectID, data, p.IntegrityHash, p.FounderConsent))
}

func (s *PG) GetPrimaryEvidencePackage(ctx context.Context, projectID string) (EvidencePackage, error) {
	return scanPackage(s.DB.QueryRow(ctx, `SELECT `+packageColumns+` FROM evidence_packages WHERE project_id=$1 AND is_primary`, projectID))
}

func (s *PG) GetEvidencePackage(ctx context.Context, id string) (EvidencePackage, error) {
	return scanPackage(s.DB.QueryRow(ctx, `SELECT `+packageColumns+` FROM evidence_packages WHERE package_id=$1`, id))
}

func (s *PG) SetFounderConsent(ctx context.Context, packageID string, consent bool) error {
	tag, err := s.DB.Exec(ctx, `UPDATE evidence_packages SET founder_consent=$1, updated_at=now() WHERE package_id=$2`, consent, packageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- exports ---

const exportColumns = `export_id,narrative_id,token_hash,generation_hash,venture_name,validation_stage,format,
include_qr_code,include_evidence,evidence_package_id,exported_at,expires_at`

func scanExport(row pgx.Row) (Export, error) {
	var (
		e     Export
		pkgID *string
	)
	err := row.Scan(&e.ID, &e.NarrativeID, &e.TokenHash, &e.GenerationHash, &e.VentureName, &e.ValidationStage, &e.Format,
		&e.IncludeQRCode, &e.IncludeEvidence, &pkgID, &e.ExportedAt, &e.ExpiresAt)
	if err != nil {
		return e, notFound(err)
	}
	if pkgID != nil {
		e.EvidencePackageID = *pkgID
	}
	return e, nil
}

func (s *PG) InsertExport(ctx context.Context, e Export) error {
	var pkgID *string
	if e.EvidencePackageID != "" {
		pkgID = &e.EvidencePackageID
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO narrative_exports(`+exportColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, e.ID, e.NarrativeID, e.TokenHash, e.GenerationHash, e.VentureName, e.ValidationStage, e.Format,
		e.IncludeQRCode, e.IncludeEvidence, pkgID, e.ExportedAt, e.ExpiresAt)
	return conflict(err)
}

func (s *PG) GetExport(ctx context.Context, id string) (Export, error) {
	return scanExport(s.DB.QueryRow(ctx, `SELECT `+exportColumns+` FROM narrative_exports WHERE export_id=$1`, id))
}

func (s *PG) GetExportByTokenHash(ctx context.Context, tokenHash string) (Export, error) {
	return scanExport(s.DB.QueryRow(ctx, `SELECT `+exportColumns+` FROM narrative_exports WHERE token_hash=$1`, tokenHash))
}

// --- idempotency ---

func (s *PG) GetIdempotencyRecord(ctx context.Context, actorID, key, endpoint string) (idempotency.Record, bool, error) {
	var rec idempotency.Record
	err := s.DB.QueryRow(ctx, `
SELECT response_status,response_body,request_hash
FROM narrative_idempotency_records
WHERE actor_id=$1 AND idempotency_key=$2 AND endpoint=$3
`, actorID, key, endpoint).Scan(&rec.Status, &rec.Body, &rec.RequestHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, false, nil
		}
		return rec, false, err
	}
	return rec, true, nil
}

func (s *PG) SaveIdempotencyRecord(ctx context.Context, actorID, key, endpoint string, rec idempotency.Record) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO narrative_idempotency_records(actor_id,idempotency_key,endpoint,request_hash,response_status,response_body)
VALUES($1,$2,$3,$4,$5,$6::jsonb)
ON CONFLICT (actor_id,idempotency_key,endpoint) DO NOTHING
`, actorID, key, endpoint, rec.RequestHash, rec.Status, string(rec.Body))
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
