// Package service implements the narrative operations over the pipeline
// components. Every method that reads or changes a narrative first checks that the
// caller owns its project.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/startupai/narrative/pkg/apierr"
	"github.com/startupai/narrative/pkg/authn"
	"github.com/startupai/narrative/pkg/fieldpath"
	"github.com/startupai/narrative/services/narrative/internal/agent"
	"github.com/startupai/narrative/services/narrative/internal/editor"
	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/guardian"
	"github.com/startupai/narrative/services/narrative/internal/integrity"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
	"github.com/startupai/narrative/services/narrative/internal/publish"
	"github.com/startupai/narrative/services/narrative/internal/render"
	"github.com/startupai/narrative/services/narrative/internal/store"
	"github.com/startupai/narrative/services/narrative/internal/verify"
)

const TriggerRegeneration = "regeneration"

const DefaultExportTTL = 30 * 24 * time.Hour

type Config struct {
	// PublicBaseURL prefixes verification, download and evidence links.
	PublicBaseURL string
	ExportTTL     time.Duration
	Versions      integrity.Versions
}

type Service struct {
	store    store.Store
	agg      *evidence.Aggregator
	gen      *agent.Generator
	verifier *verify.Resolver
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
	newToken func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTokenSource(f func() string) Option {
	return func(s *Service) { s.newToken = f }
}

// New wires the service. gen may be nil, in which case generation always uses the
// deterministic synthesizer.
func New(st store.Store, gen *agent.Generator, cfg Config, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ExportTTL <= 0 {
		cfg.ExportTTL = DefaultExportTTL
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	s := &Service{
		store:    st,
		agg:      evidence.NewAggregator(st, log),
		gen:      gen,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: randomToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.verifier = &verify.Resolver{Store: st, EvidenceURL: s.EvidenceURL}
	return s
}

func randomToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Service) VerificationURL(token string) string {
	return s.cfg.PublicBaseURL + "/verify/" + token
}

func (s *Service) DownloadURL(exportID, token string) string {
	return s.cfg.PublicBaseURL + "/api/exports/" + exportID + "/download?token=" + token
}

func (s *Service) EvidenceURL(packageID string) string {
	return s.cfg.PublicBaseURL + "/api/evidence-packages/" + packageID
}

// --- generate ---

type GenerateRequest struct {
	ProjectID       string `json:"project_id"`
	ForceRegenerate bool   `json:"force_regenerate"`
	// PreserveEdits defaults to true when omitted.
	PreserveEdits *bool `json:"preserve_edits,omitempty"`
}

func (r GenerateRequest) preserveEdits() bool { return r.PreserveEdits == nil || *r.PreserveEdits }

type GenerateResult struct {
	NarrativeID     string           `json:"narrative_id"`
	Document        map[string]any   `json:"document"`
	IsFresh         bool             `json:"is_fresh"`
	GeneratedFrom   string           `json:"generated_from"`
	AlignmentStatus guardian.Status  `json:"alignment_status"`
	AlignmentIssues []guardian.Issue `json:"alignment_issues"`
}

func resultOf(n store.Narrative, fresh bool, source string) GenerateResult {
	issues := n.AlignmentIssues
	if issues == nil {
		issues = []guardian.Issue{}
	}
	return GenerateResult{
		NarrativeID:     n.ID,
		Document:        n.Document,
		IsFresh:         fresh,
		GeneratedFrom:   source,
		AlignmentStatus: n.AlignmentStatus,
		AlignmentIssues: issues,
	}
}

// Generate returns the project's narrative. A stored narrative is returned as is
// unless regeneration is forced or the project's evidence went stale; otherwise the
// evidence is aggregated and a new document synthesized.
func (s *Service) Generate(ctx context.Context, actor string, req GenerateRequest) (GenerateResult, error) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return GenerateResult{}, apierr.New(apierr.CodeValidation, "project_id is required")
	}
	project, err := s.ownedProject(ctx, actor, req.ProjectID)
	if err != nil {
		return GenerateResult{}, err
	}
	existing, err := s.store.GetNarrativeByProject(ctx, project.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return GenerateResult{}, s.internal("load narrative", err)
	}
	staleness := publish.ParseStaleness(project.StalenessSeverity)
	if exists && !req.ForceRegenerate && staleness == publish.StaleNone {
		return resultOf(existing, false, agent.SourceCache), nil
	}

	snap := s.agg.Aggregate(ctx, project.ID)
	if pre := evidence.CheckPrerequisites(snap); !pre.Ready {
		return GenerateResult{}, apierr.WithDetails(apierr.CodeInsufficientEvidence,
			"project does not have enough evidence for a narrative",
			map[string]any{"missing": pre.Missing})
	}

	now := s.now().UTC()
	in := narrative.Input{
		Project:  *snap.Project,
		Bundle:   snap.Bundle,
		Founder:  snap.Founder,
		Evidence: snap.Evidence,
		Now:      now,
	}
	if exists {
		if meta, err := narrative.MetadataOf(existing.Document); err == nil {
			in.PriorPivotCount = meta.PivotCount
		}
	}
	doc, source := s.gen.Generate(ctx, in)
	tree, err := narrative.ToTree(doc)
	if err != nil {
		return GenerateResult{}, s.internal("encode narrative", err)
	}
	tree, err = autoCorrect(tree)
	if err != nil {
		return GenerateResult{}, s.internal("align narrative", err)
	}

	var n store.Narrative
	if exists {
		n, err = s.regenerate(ctx, existing, tree, source, req.preserveEdits(), now)
	} else {
		n, err = s.create(ctx, project.ID, tree, source, now)
	}
	if errors.Is(err, store.ErrConflict) {
		// A concurrent first generation won; serve what it stored.
		winner, lerr := s.store.GetNarrativeByProject(ctx, project.ID)
		if lerr != nil {
			return GenerateResult{}, s.internal("load narrative", lerr)
		}
		return resultOf(winner, false, agent.SourceCache), nil
	}
	if err != nil {
		return GenerateResult{}, err
	}

	if staleness != publish.StaleNone {
		if err := s.store.SetProjectStaleness(ctx, project.ID, string(publish.StaleNone)); err != nil {
			return GenerateResult{}, s.internal("clear staleness", err)
		}
	}
	if err := s.upsertPackage(ctx, project.ID, snap.Bundle); err != nil {
		return GenerateResult{}, err
	}
	s.log.Info("narrative generated",
		zap.String("narrative_id", n.ID),
		zap.String("project_id", project.ID),
		zap.String("generated_from", source),
		zap.Bool("regenerated", exists),
		zap.String("alignment_status", string(n.AlignmentStatus)))
	return resultOf(n, true, source), nil
}

// autoCorrect runs the generation-mode Guardian over freshly synthesized text.
func autoCorrect(tree map[string]any) (map[string]any, error) {
	req, err := guardian.RequestFor(tree, guardian.ModeGenerate)
	if err != nil {
		return nil, err
	}
	return guardian.Check(req).Document, nil
}

func (s *Service) create(ctx context.Context, projectID string, tree map[string]any, source string, now time.Time) (store.Narrative, error) {
	hash, err := integrity.GenerationHash(tree)
	if err != nil {
		return store.Narrative{}, s.internal("hash narrative", err)
	}
	n := store.Narrative{
		ID:              "nar_" + uuid.NewString(),
		ProjectID:       projectID,
		Document:        tree,
		GenerationHash:  hash,
		AlignmentStatus: guardian.StatusVerified,
		AlignmentIssues: []guardian.Issue{},
		GeneratedFrom:   source,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateNarrative(ctx, n); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Narrative{}, err
		}
		return store.Narrative{}, s.internal("create narrative", err)
	}
	return n, nil
}

// regenerate snapshots prev as a version, re-applies the founder edits that are
// still current over fresh, and flags (never rewrites) the merged document.
func (s *Service) regenerate(ctx context.Context, prev store.Narrative, fresh map[string]any, source string, preserve bool, now time.Time) (store.Narrative, error) {
	var fit float64
	if meta, err := narrative.MetadataOf(prev.Document); err == nil {
		fit = meta.OverallFitScore
	}
	if _, err := s.store.InsertVersion(ctx, store.Version{
		NarrativeID:   prev.ID,
		Document:      prev.Document,
		TriggerReason: TriggerRegeneration,
		FitScore:      fit,
		CreatedAt:     now,
	}); err != nil {
		return store.Narrative{}, s.internal("snapshot version", err)
	}

	merged, isEdited := fresh, false
	if preserve {
		history, err := s.store.ListEdits(ctx, prev.ID)
		if err != nil {
			return store.Narrative{}, s.internal("load edit history", err)
		}
		var applied, skipped []string
		merged, applied, skipped = editor.Merge(fresh, editor.ActiveFounderEdits(history))
		if len(skipped) > 0 {
			s.log.Info("founder edits no longer apply after regeneration",
				zap.String("narrative_id", prev.ID),
				zap.Strings("paths", skipped))
		}
		isEdited = len(applied) > 0
	}

	req, err := guardian.RequestFor(merged, guardian.ModeRegenerate)
	if err != nil {
		return store.Narrative{}, s.internal("align narrative", err)
	}
	res := guardian.Check(req)
	hash, err := integrity.GenerationHash(merged)
	if err != nil {
		return store.Narrative{}, s.internal("hash narrative", err)
	}

	n := prev
	n.Document = merged
	n.GenerationHash = hash
	n.AlignmentStatus = res.Status
	n.AlignmentIssues = res.Issues
	n.IsEdited = isEdited
	n.GeneratedFrom = source
	n.UpdatedAt = now
	if err := s.store.UpdateNarrative(ctx, n); err != nil {
		return store.Narrative{}, s.internal("update narrative", err)
	}
	if entries := editor.RegenerationEntries(prev.Document, merged, now); len(entries) > 0 {
		if err := s.store.AppendEdits(ctx, n.ID, entries); err != nil {
			return store.Narrative{}, s.internal("record regeneration", err)
		}
	}
	return n, nil
}

func (s *Service) upsertPackage(ctx context.Context, projectID string, b evidence.Bundle) error {
	hash, err := integrity.PackageHash(b, s.cfg.Versions)
	if err != nil {
		return s.internal("hash evidence package", err)
	}
	if _, err := s.store.UpsertPrimaryEvidencePackage(ctx, store.EvidencePackage{
		ProjectID:     projectID,
		EvidenceData:  b,
		IntegrityHash: hash,
		IsPrimary:     true,
	}); err != nil {
		return s.internal("upsert evidence package", err)
	}
	return nil
}

// --- read ---

type View struct {
	store.Narrative
	FounderEditedSections []string `json:"founder_edited_sections"`
}

func (s *Service) Get(ctx context.Context, actor, narrativeID string) (View, error) {
	n, _, err := s.ownedNarrative(ctx, actor, narrativeID)
	if err != nil {
		return View{}, err
	}
	history, err := s.store.ListEdits(ctx, n.ID)
	if err != nil {
		return View{}, s.internal("load edit history", err)
	}
	if n.AlignmentIssues == nil {
		n.AlignmentIssues = []guardian.Issue{}
	}
	return View{Narrative: n, FounderEditedSections: editor.ActiveFounderEdits(history).Sections}, nil
}

// --- edit ---

type EditRequest struct {
	Edits []editor.Change `json:"edits"`
	// RejectOnFlag refuses the whole edit when the new wording is flagged.
	RejectOnFlag bool `json:"reject_on_flag"`
}

type EditResult struct {
	NarrativeID     string           `json:"narrative_id"`
	IsEdited        bool             `json:"is_edited"`
	AlignmentStatus guardian.Status  `json:"alignment_status"`
	AlignmentIssues []guardian.Issue `json:"alignment_issues"`
	GenerationHash  string           `json:"generation_hash"`
}

// Edit applies founder changes all-or-nothing. The Guardian rescans only the edited
// paths; issues it found earlier elsewhere stay open.
func (s *Service) Edit(ctx context.Context, actor, narrativeID string, req EditRequest) (EditResult, error) {
	if len(req.Edits) == 0 {
		return EditResult{}, apierr.New(apierr.CodeValidation, "at least one edit is required")
	}
	n, _, err := s.ownedNarrative(ctx, actor, narrativeID)
	if err != nil {
		return EditResult{}, err
	}
	now := s.now().UTC()
	tree, entries, err := editor.ApplyAll(n.Document, req.Edits, editor.SourceFounder, now)
	if err != nil {
		return EditResult{}, apierr.New(apierr.CodeValidation, err.Error())
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path())
	}
	greq, err := guardian.RequestFor(tree, guardian.ModeEdit, paths...)
	if err != nil {
		return EditResult{}, s.internal("align edit", err)
	}
	res := guardian.Check(greq)
	if req.RejectOnFlag && res.Status == guardian.StatusFlagged {
		return EditResult{}, apierr.WithDetails(apierr.CodeAlignmentFailed,
			"edited wording overstates the evidence",
			map[string]any{"issues": res.Issues})
	}

	issues := guardian.Carry(n.AlignmentIssues, paths, res.Issues)
	status := guardian.StatusVerified
	if len(issues) > 0 {
		status = guardian.StatusFlagged
	}
	hash, err := integrity.GenerationHash(tree)
	if err != nil {
		return EditResult{}, s.internal("hash narrative", err)
	}

	n.Document = tree
	n.GenerationHash = hash
	n.AlignmentStatus = status
	n.AlignmentIssues = issues
	n.IsEdited = true
	n.UpdatedAt = now
	if err := s.store.UpdateNarrative(ctx, n); err != nil {
		return EditResult{}, s.internal("update narrative", err)
	}
	if err := s.store.AppendEdits(ctx, n.ID, entries); err != nil {
		return EditResult{}, s.internal("record edits", err)
	}
	return EditResult{
		NarrativeID:     n.ID,
		IsEdited:        true,
		AlignmentStatus: status,
		AlignmentIssues: issues,
		GenerationHash:  hash,
	}, nil
}

// --- publish ---

type PublishResult struct {
	NarrativeID  string     `json:"narrative_id"`
	IsPublished  bool       `json:"is_published"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	FirstPublish bool       `json:"first_publish"`
}

func stateOf(n store.Narrative, p evidence.Project) (publish.State, error) {
	meta, err := narrative.MetadataOf(n.Document)
	if err != nil {
		return publish.State{}, err
	}
	return publish.State{
		IsPublished:      n.IsPublished,
		PublishedAt:      n.PublishedAt,
		FirstPublishedAt: n.FirstPublishedAt,
		AlignmentStatus:  n.AlignmentStatus,
		Metadata:         meta,
		Staleness:        publish.ParseStaleness(p.StalenessSeverity),
	}, nil
}

func blocked(blockers []publish.Blocker) error {
	return apierr.WithDetails(apierr.CodePublishBlocked, "narrative cannot be published yet",
		map[string]any{"blockers": blockers})
}

// Publish runs the publication gate. The first publish records the founder's
// confirmation as an approval on the project.
func (s *Service) Publish(ctx context.Context, actor, narrativeID string, c *publish.Confirmation) (PublishResult, error) {
	n, project, err := s.ownedNarrative(ctx, actor, narrativeID)
	if err != nil {
		return PublishResult{}, err
	}
	state, err := stateOf(n, project)
	if err != nil {
		return PublishResult{}, s.internal("read narrative metadata", err)
	}
	tr, blockers := publish.Publish(state, c, s.now())
	if len(blockers) > 0 {
		return PublishResult{}, blocked(blockers)
	}
	out := PublishResult{NarrativeID: n.ID, IsPublished: true, FirstPublish: tr.FirstPublish}
	if !tr.Changed {
		out.PublishedAt = n.PublishedAt
		return out, nil
	}

	if tr.FirstPublish {
		payload := c.Payload()
		payload["narrative_id"] = n.ID
		if err := s.store.InsertApproval(ctx, evidence.ApprovalRecord{
			ID:             "apr_" + uuid.NewString(),
			ProjectID:      project.ID,
			CheckpointType: evidence.CheckpointNarrativePublish,
			Decision:       evidence.DecisionApproved,
			DecidedBy:      actor,
			Payload:        payload,
			CreatedAt:      tr.PublishedAt,
		}); err != nil {
			return PublishResult{}, s.internal("record publish confirmation", err)
		}
	}
	publishedAt, firstPublishedAt := tr.PublishedAt, tr.FirstPublishedAt
	n.IsPublished = true
	n.PublishedAt = &publishedAt
	n.FirstPublishedAt = &firstPublishedAt
	n.UpdatedAt = tr.PublishedAt
	if err := s.store.UpdateNarrative(ctx, n); err != nil {
		return PublishResult{}, s.internal("update narrative", err)
	}
	out.PublishedAt = &publishedAt
	return out, nil
}

type UnpublishResult struct {
	NarrativeID string `json:"narrative_id"`
	IsPublished bool   `json:"is_published"`
}

func (s *Service) Unpublish(ctx context.Context, actor, narrativeID string) (UnpublishResult, error) {
	n, project, err := s.ownedNarrative(ctx, actor, narrativeID)
	if err != nil {
		return UnpublishResult{}, err
	}
	state, err := stateOf(n, project)
	if err != nil {
		return UnpublishResult{}, s.internal("read narrative metadata", err)
	}
	if _, changed := publish.Unpublish(state); changed {
		n.IsPublished = false
		n.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateNarrative(ctx, n); err != nil {
			return UnpublishResult{}, s.internal("update narrative", err)
		}
	}
	return UnpublishResult{NarrativeID: n.ID, IsPublished: false}, nil
}

// --- export ---

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

// Redacted drops the token and every URL that embeds it.
func (r ExportResult) Redacted() ExportResult {
	r.VerificationToken = ""
	r.VerificationURL = ""
	r.DownloadURL = ""
	return r
}

// Export freezes the current document hash into an immutable export record and
// hands out the only copy of its verification token.
func (s *Service) Export(ctx context.Context, actor, narrativeID string, req ExportRequest) (ExportResult, error) {
	format, err := render.ParseFormat(req.Format)
	if err != nil {
		return ExportResult{}, apierr.WithDetails(apierr.CodeFormatNotSupported, err.Error(),
			map[string]any{"supported": []string{render.FormatPDF, render.FormatJSON}})
	}
	n, project, err := s.ownedNarrative(ctx, actor, narrativeID)
	if err != nil {
		return ExportResult{}, err
	}
	state, err := stateOf(n, project)
	if err != nil {
		return ExportResult{}, s.internal("read narrative metadata", err)
	}
	if state.Staleness == publish.StaleHard {
		return ExportResult{}, apierr.New(apierr.CodeNarrativeStale, "evidence changed since generation; regenerate before exporting")
	}
	if blockers := publish.ExportBlockers(state); len(blockers) > 0 {
		return ExportResult{}, blocked(blockers)
	}

	var packageID string
	if req.IncludeEvidence {
		pkg, err := s.store.GetPrimaryEvidencePackage(ctx, project.ID)
		if errors.Is(err, store.ErrNotFound) {
			return ExportResult{}, apierr.New(apierr.CodeEvidencePackageMissing, "no evidence package exists for this project")
		}
		if err != nil {
			return ExportResult{}, s.internal("load evidence package", err)
		}
		packageID = pkg.ID
	}

	hash, err := integrity.GenerationHash(n.Document)
	if err != nil {
		return ExportResult{}, s.internal("hash narrative", err)
	}
	token := s.newToken()
	now := s.now().UTC()
	exp := store.Export{
		ID:                "exp_" + uuid.NewString(),
		NarrativeID:       n.ID,
		TokenHash:         authn.HashToken(token),
		GenerationHash:    hash,
		VentureName:       ventureName(n.Document, project),
		ValidationStage:   state.Metadata.ValidationStage,
		Format:            format,
		IncludeQRCode:     req.IncludeQRCode,
		IncludeEvidence:   req.IncludeEvidence,
		EvidencePackageID: packageID,
		ExportedAt:        now,
		ExpiresAt:         now.Add(s.cfg.ExportTTL),
	}
	if err := s.store.InsertExport(ctx, exp); err != nil {
		return ExportResult{}, s.internal("insert export", err)
	}
	s.log.Info("narrative exported",
		zap.String("narrative_id", n.ID),
		zap.String("export_id", exp.ID),
		zap.String("format", format))
	return ExportResult{
		ExportID:          exp.ID,
		VerificationToken: token,
		GenerationHash:    hash,
		VerificationURL:   s.VerificationURL(token),
		DownloadURL:       s.DownloadURL(exp.ID, token),
		ExpiresAt:         exp.ExpiresAt,
	}, nil
}

func ventureName(doc map[string]any, p evidence.Project) string {
	if v, ok := fieldpath.Get(doc, narrative.SectionCover+".venture_name"); ok {
		if name, ok := v.(string); ok && name != "" && name != narrative.Placeholder {
			return name
		}
	}
	return p.Name
}

// Download builds the render payload of an export. The token from the export
// response must accompany the request; the link stops working at expires_at.
func (s *Service) Download(ctx context.Context, actor, exportID, token string) (render.Payload, error) {
	exp, err := s.store.GetExport(ctx, exportID)
	if err != nil {
		return render.Payload{}, s.lookup("load export", "export", err)
	}
	if token == "" || authn.HashToken(token) != exp.TokenHash {
		return render.Payload{}, apierr.New(apierr.CodeNotFound, "export not found")
	}
	n, _, err := s.ownedNarrative(ctx, actor, exp.NarrativeID)
	if err != nil {
		return render.Payload{}, err
	}
	if !s.now().Before(exp.ExpiresAt) {
		return render.Payload{}, apierr.New(apierr.CodeNotFound, "export link has expired")
	}

	doc, err := narrative.FromTree(n.Document)
	if err != nil {
		return render.Payload{}, s.internal("decode narrative", err)
	}
	hash, err := integrity.GenerationHash(n.Document)
	if err != nil {
		return render.Payload{}, s.internal("hash narrative", err)
	}
	p := render.Payload{
		PayloadVersion:  render.PayloadVersion,
		ExportID:        exp.ID,
		Format:          exp.Format,
		GenerationHash:  exp.GenerationHash,
		ExportedAt:      exp.ExportedAt,
		ExpiresAt:       exp.ExpiresAt,
		IsCurrent:       hash == exp.GenerationHash,
		Document:        doc,
		VerificationURL: s.VerificationURL(token),
	}
	if exp.Format == render.FormatPDF {
		p.Outline = render.Outline(doc)
	}
	if exp.IncludeQRCode {
		p.QRCodeTarget = p.VerificationURL
	}
	if exp.EvidencePackageID != "" {
		pkg, err := s.store.GetEvidencePackage(ctx, exp.EvidencePackageID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return render.Payload{}, s.internal("load evidence package", err)
		}
		if err == nil {
			p.Evidence = pkg
		}
	}
	return p, nil
}

// --- verify ---

// Verify is the anonymous freshness check behind a verification token.
func (s *Service) Verify(ctx context.Context, token string) (verify.Response, error) {
	resp, err := s.verifier.Resolve(ctx, strings.TrimSpace(token))
	if err != nil {
		return verify.Response{}, s.internal("verify token", err)
	}
	return resp, nil
}

// --- evidence packages ---

// SetEvidenceConsent records whether the project's primary evidence package may be
// linked from public verification responses.
func (s *Service) SetEvidenceConsent(ctx context.Context, actor, narrativeID string, consent bool) (store.EvidencePackage, error) {
	_, project, err := s.ownedNarrative(ctx, actor, narrativeID)
	if err != nil {
		return store.EvidencePackage{}, err
	}
	pkg, err := s.store.GetPrimaryEvidencePackage(ctx, project.ID)
	if errors.Is(err, store.ErrNotFound) {
		return store.EvidencePackage{}, apierr.New(apierr.CodeEvidencePackageMissing, "no evidence package exists for this project")
	}
	if err != nil {
		return store.EvidencePackage{}, s.internal("load evidence package", err)
	}
	if err := s.store.SetFounderConsent(ctx, pkg.ID, consent); err != nil {
		return store.EvidencePackage{}, s.internal("update consent", err)
	}
	pkg.FounderConsent = consent
	return pkg, nil
}

// PublicEvidencePackage serves a package anonymously only while its founder has
// consented; otherwise it does not exist.
func (s *Service) PublicEvidencePackage(ctx context.Context, packageID string) (store.EvidencePackage, error) {
	pkg, err := s.store.GetEvidencePackage(ctx, packageID)
	if err != nil {
		return store.EvidencePackage{}, s.lookup("load evidence package", "evidence package", err)
	}
	if !pkg.FounderConsent {
		return store.EvidencePackage{}, apierr.New(apierr.CodeNotFound, "evidence package not found")
	}
	return pkg, nil
}

// --- versions ---

type VersionSummary struct {
	VersionNumber int       `json:"version_number"`
	CreatedAt     time.Time `json:"created_at"`
	TriggerReason string    `json:"trigger_reason"`
	FitScore      float64   `json:"fit_score_at_version"`
}

func (s *Service) ListVersions(ctx context.Context, actor, narrativeID string) ([]VersionSummary, error) {
	n, _, err := s.ownedNarrative(ctx, actor, narrativeID)
	if err != nil {
		return nil, err
	}
	vs, err := s.store.ListVersions(ctx, n.ID)
	if err != nil {
		return nil, s.internal("list versions", err)
	}
	out := make([]VersionSummary, 0, len(vs))
	for _, v := range vs {
		out = append(out, VersionSummary{
			VersionNumber: v.VersionNumber,
			CreatedAt:     v.CreatedAt,
			TriggerReason: v.TriggerReason,
			FitScore:      v.FitScore,
		})
	}
	return out, nil
}

// DiffVersions compares two snapshots field by field. Version 0 names the current
// document.
func (s *Service) DiffVersions(ctx context.Context, actor, narrativeID string, a, b int) ([]editor.FieldChange, error) {
	if a < 0 || b < 0 {
		return nil, apierr.New(apierr.CodeValidation, "version numbers must be positive, or 0 for the current document")
	}
	n, _, err := s.ownedNarrative(ctx, actor, narrativeID)
	if err != nil {
		return nil, err
	}
	load := func(number int) (map[string]any, error) {
		if number == 0 {
			return n.Document, nil
		}
		v, err := s.store.GetVersion(ctx, n.ID, number)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.CodeNotFound, fmt.Sprintf("version %d not found", number))
		}
		if err != nil {
			return nil, s.internal("load version", err)
		}
		return v.Document, nil
	}
	da, err := load(a)
	if err != nil {
		return nil, err
	}
	db, err := load(b)
	if err != nil {
		return nil, err
	}
	return editor.Diff(da, db), nil
}

// --- helpers ---

func (s *Service) ownedProject(ctx context.Context, actor, projectID string) (evidence.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return evidence.Project{}, s.lookup("load project", "project", err)
	}
	if p.OwnerID != actor {
		return evidence.Project{}, apierr.New(apierr.CodeForbidden, "project belongs to another user")
	}
	return p, nil
}

func (s *Service) ownedNarrative(ctx context.Context, actor, narrativeID string) (store.Narrative, evidence.Project, error) {
	n, err := s.store.GetNarrative(ctx, narrativeID)
	if err != nil {
		return store.Narrative{}, evidence.Project{}, s.lookup("load narrative", "narrative", err)
	}
	p, err := s.ownedProject(ctx, actor, n.ProjectID)
	if err != nil {
		return store.Narrative{}, evidence.Project{}, err
	}
	return n, p, nil
}

func (s *Service) lookup(op, what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apierr.New(apierr.CodeNotFound, what+" not found")
	}
	return s.internal(op, err)
}

func (s *Service) internal(op string, err error) error {
	s.log.Error("narrative operation failed", zap.String("op", op), zap.Error(err))
	return apierr.Internal(fmt.Errorf("%s: %w", op, err))
}
