package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimits(t *testing.T) {
	limits, err := ParseLimits([]byte(testLimitsYAML))
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", limits.Policy.Version)
	assert.Equal(t, 300, limits.Policy.MaxSlippageBps)
	assert.InDelta(t, 10.0, limits.Policy.ValueCaps.PerTx, 1e-9)
	assert.Contains(t, limits.VersionTag, "sha256:")

	d, err := limits.WindowDuration()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)
}

func TestParseLimitsDefaults(t *testing.T) {
	minimal := `
policy:
  version: "1.0.0"
  allowlist: ["router-a"]
  max_slippage_bps: 300
  value_caps:
    per_tx: 5.0
    window: 20.0
  approval:
    max_amount: 5.0
`
	limits, err := ParseLimits([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, ModeFailFast, limits.Policy.EvaluationMode)
	assert.Equal(t, "24h", limits.Policy.ValueCaps.WindowDuration)
	assert.InDelta(t, 0.5, limits.Classifier.MinScore, 1e-9)
	assert.Equal(t, 500, limits.Classifier.MaxInputChars)
}

func TestParseLimitsRejectsMissingThresholds(t *testing.T) {
	cases := map[string]string{
		"no allowlist": `
policy:
  version: "1.0.0"
  max_slippage_bps: 300
  value_caps: {per_tx: 5.0, window: 20.0}
  approval: {max_amount: 5.0}
`,
		"empty allowlist": `
policy:
  version: "1.0.0"
  allowlist: []
  max_slippage_bps: 300
  value_caps: {per_tx: 5.0, window: 20.0}
  approval: {max_amount: 5.0}
`,
		"no value caps": `
policy:
  version: "1.0.0"
  allowlist: ["router-a"]
  max_slippage_bps: 300
  approval: {max_amount: 5.0}
`,
		"zero per_tx": `
policy:
  version: "1.0.0"
  allowlist: ["router-a"]
  max_slippage_bps: 300
  value_caps: {per_tx: 0, window: 20.0}
  approval: {max_amount: 5.0}
`,
	}

	for name, yml := range cases {
		_, err := ParseLimits([]byte(yml))
		assert.Error(t, err, name)
	}
}

func TestParseLimitsRejectsWindowBelowPerTx(t *testing.T) {
	yml := `
policy:
  version: "1.0.0"
  allowlist: ["router-a"]
  max_slippage_bps: 300
  value_caps: {per_tx: 30.0, window: 20.0}
  approval: {max_amount: 5.0}
`
	_, err := ParseLimits([]byte(yml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value_caps.window")
}

func TestParseLimitsRejectsUnknownKeys(t *testing.T) {
	yml := testLimitsYAML + "\nextra_section: true\n"
	_, err := ParseLimits([]byte(yml))
	assert.Error(t, err)
}

func TestLoadLimitsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guard.policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testLimitsYAML), 0o600))

	limits, err := LoadLimits(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, limits.Policy.Allowlist, 2)
}

func TestLoadLimitsMissingFileIsFatal(t *testing.T) {
	_, err := LoadLimits(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestVersionTagTracksContent(t *testing.T) {
	a, err := ParseLimits([]byte(testLimitsYAML))
	require.NoError(t, err)
	b, err := ParseLimits([]byte(testLimitsYAML))
	require.NoError(t, err)
	assert.Equal(t, a.VersionTag, b.VersionTag)

	changed := []byte(testLimitsYAML)
	c, err := ParseLimits(append(changed, '\n'))
	require.NoError(t, err)
	assert.NotEqual(t, a.VersionTag, c.VersionTag)
}
