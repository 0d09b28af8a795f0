// Package integrity computes the tamper-evident hashes stamped on narratives,
// exports and evidence packages.
package integrity

import (
	"fmt"
	"time"

	"github.com/startupai/narrative/pkg/canonhash"
	"github.com/startupai/narrative/services/narrative/internal/evidence"
)

// GenerationHash hashes the canonical form of a narrative tree. Two trees with the
// same content hash equally regardless of key insertion order.
func GenerationHash(tree map[string]any) (string, error) {
	h, _, err := canonhash.SumObject(tree)
	if err != nil {
		return "", fmt.Errorf("hash narrative: %w", err)
	}
	return h, nil
}

// Versions are the fixed generation metadata folded into an evidence package hash.
type Versions struct {
	MethodologyVersion       string            `json:"methodology_version" yaml:"methodology_version"`
	FitScoreAlgorithmVersion string            `json:"fit_score_algorithm_version" yaml:"fit_score_algorithm_version"`
	AgentVersions            map[string]string `json:"agent_versions" yaml:"agent_versions"`
}

type packagePreimage struct {
	EvidenceData             evidence.Bundle   `json:"evidence_data"`
	MethodologyVersion       string            `json:"methodology_version"`
	AgentVersions            map[string]string `json:"agent_versions"`
	LastHITLCheckpointAt     *time.Time        `json:"last_hitl_checkpoint_at"`
	FitScoreAlgorithmVersion string            `json:"fit_score_algorithm_version"`
}

// PackageHash hashes an evidence bundle together with the generation metadata. The
// last HITL checkpoint comes from the bundle itself.
func PackageHash(b evidence.Bundle, v Versions) (string, error) {
	agents := v.AgentVersions
	if agents == nil {
		agents = map[string]string{}
	}
	var last *time.Time
	if b.HITL.LastCheckpointAt != nil {
		t := b.HITL.LastCheckpointAt.UTC()
		last = &t
		b.HITL.LastCheckpointAt = last
	}
	h, _, err := canonhash.SumObject(packagePreimage{
		EvidenceData:             b,
		MethodologyVersion:       v.MethodologyVersion,
		AgentVersions:            agents,
		LastHITLCheckpointAt:     last,
		FitScoreAlgorithmVersion: v.FitScoreAlgorithmVersion,
	})
	if err != nil {
		return "", fmt.Errorf("hash evidence package: %w", err)
	}
	return h, nil
}
