package integrity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startupai/narrative/services/narrative/internal/evidence"
)

func TestGenerationHashIgnoresKeyOrder(t *testing.T) {
	a := map[string]any{}
	a["cover"] = map[string]any{"venture_name": "Acme", "tagline": "Books"}
	a["version"] = "1.0"

	b := map[string]any{}
	b["version"] = "1.0"
	b["cover"] = map[string]any{"tagline": "Books", "venture_name": "Acme"}

	ha, err := GenerationHash(a)
	require.NoError(t, err)
	hb, err := GenerationHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.True(t, strings.HasPrefix(ha, "sha256:"))

	again, err := GenerationHash(a)
	require.NoError(t, err)
	assert.Equal(t, ha, again)
}

func TestGenerationHashChangesOnEdit(t *testing.T) {
	doc := map[string]any{"cover": map[string]any{"venture_name": "Acme"}}
	before, err := GenerationHash(doc)
	require.NoError(t, err)

	doc["cover"].(map[string]any)["venture_name"] = "Acme Ledger"
	after, err := GenerationHash(doc)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestPackageHash(t *testing.T) {
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.FixedZone("x", 3600))
	b := evidence.Bundle{ProjectID: "p1", InterviewCount: 3, HITL: evidence.HITLRecord{Total: 1, LastCheckpointAt: &at}}
	v := Versions{MethodologyVersion: "vpd-1", FitScoreAlgorithmVersion: "mean-1", AgentVersions: map[string]string{"synthesizer": "1"}}

	h1, err := PackageHash(b, v)
	require.NoError(t, err)
	h2, err := PackageHash(b, v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	utc := at.UTC()
	b.HITL.LastCheckpointAt = &utc
	h3, err := PackageHash(b, v)
	require.NoError(t, err)
	assert.Equal(t, h1, h3, "timezone of the checkpoint does not matter")

	v.FitScoreAlgorithmVersion = "mean-2"
	h4, err := PackageHash(b, v)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)

	b.InterviewCount = 4
	h5, err := PackageHash(b, Versions{MethodologyVersion: "vpd-1", FitScoreAlgorithmVersion: "mean-1", AgentVersions: map[string]string{"synthesizer": "1"}})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h5)
}
