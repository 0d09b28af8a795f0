// Package verify resolves public verification tokens against the current state of
// a narrative.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/startupai/narrative/pkg/authn"
	"github.com/startupai/narrative/services/narrative/internal/integrity"
	"github.com/startupai/narrative/services/narrative/internal/store"
)

type Status string

const (
	StatusVerified Status = "verified"
	StatusOutdated Status = "outdated"
	StatusNotFound Status = "not_found"
)

// Response carries only qualitative fields; scores stay private.
type Response struct {
	Status          Status     `json:"status"`
	VentureName     string     `json:"venture_name,omitempty"`
	ExportedAt      *time.Time `json:"exported_at,omitempty"`
	ValidationStage string     `json:"validation_stage,omitempty"`
	IsEdited        bool       `json:"is_edited"`
	AlignmentStatus string     `json:"alignment_status,omitempty"`
	EvidenceURL     string     `json:"evidence_url,omitempty"`
}

type Store interface {
	GetExportByTokenHash(ctx context.Context, tokenHash string) (store.Export, error)
	GetNarrative(ctx context.Context, id string) (store.Narrative, error)
	GetEvidencePackage(ctx context.Context, id string) (store.EvidencePackage, error)
}

type Resolver struct {
	Store Store
	// EvidenceURL builds the public evidence link for a consented package.
	EvidenceURL func(packageID string) string
}

// Resolve looks token up. A hash mismatch is a valid outdated result, not an error;
// only storage and hashing failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, token string) (Response, error) {
	if token == "" {
		return Response{Status: StatusNotFound}, nil
	}
	exp, err := r.Store.GetExportByTokenHash(ctx, authn.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return Response{Status: StatusNotFound}, nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("lookup export: %w", err)
	}
	n, err := r.Store.GetNarrative(ctx, exp.NarrativeID)
	if errors.Is(err, store.ErrNotFound) {
		return Response{Status: StatusNotFound}, nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("load narrative: %w", err)
	}
	current, err := integrity.GenerationHash(n.Document)
	if err != nil {
		return Response{}, err
	}

	exportedAt := exp.ExportedAt
	resp := Response{
		Status:          StatusOutdated,
		VentureName:     exp.VentureName,
		ExportedAt:      &exportedAt,
		ValidationStage: exp.ValidationStage,
		IsEdited:        n.IsEdited,
		AlignmentStatus: string(n.AlignmentStatus),
	}
	if current == exp.GenerationHash {
		resp.Status = StatusVerified
	}
	if exp.EvidencePackageID != "" && r.EvidenceURL != nil {
		pkg, err := r.Store.GetEvidencePackage(ctx, exp.EvidencePackageID)
		switch {
		case err == nil && pkg.FounderConsent:
			resp.EvidenceURL = r.EvidenceURL(pkg.ID)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return Response{}, fmt.Errorf("load evidence package: %w", err)
		}
	}
	return resp, nil
}
