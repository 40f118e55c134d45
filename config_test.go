package align

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
)

func TestDecodePipelineConfigOverlaysDefaults(t *testing.T) {
	toml := `
[gap_fill]
use_threshold = 0.75
`
	cfg, err := DecodePipelineConfig(strings.NewReader(toml))
	require.NoError(t, err)

	defaults := domain.DefaultPipelineConfig()
	assert.Equal(t, 0.75, cfg.GapFill.UseThreshold)
	assert.Equal(t, defaults.GapFill.NoConfirmThreshold, cfg.GapFill.NoConfirmThreshold, "unset fields keep their default")
}

func TestDecodePipelineConfigRejectsUnknownKeys(t *testing.T) {
	toml := `
nonexistent_field = true
`
	_, err := DecodePipelineConfig(strings.NewReader(toml))
	assert.Error(t, err)
}

func TestLoadPipelineConfigMissingFile(t *testing.T) {
	_, err := LoadPipelineConfig("/nonexistent/path/does-not-exist.toml")
	assert.Error(t, err)
}
