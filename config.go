package align

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/turnkit/align/domain"
)

// LoadPipelineConfig reads a domain.PipelineConfig from a TOML file on top
// of domain.DefaultPipelineConfig()'s defaults. Unknown keys are rejected
// (spec.md §9 "explicit configuration record in place of the source's
// dynamic dicts") rather than silently ignored, so a typo'd key fails loud
// instead of quietly falling back to a default.
func LoadPipelineConfig(path string) (domain.PipelineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.PipelineConfig{}, fmt.Errorf("align: open pipeline config %s: %w", path, err)
	}
	defer f.Close()
	return DecodePipelineConfig(f)
}

// DecodePipelineConfig reads a domain.PipelineConfig from r, the same
// defaults-then-overlay behavior as LoadPipelineConfig for callers that
// already hold an io.Reader (embedded config, a fetched blob, a test
// fixture).
func DecodePipelineConfig(r io.Reader) (domain.PipelineConfig, error) {
	cfg := domain.DefaultPipelineConfig()
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if _, err := dec.Decode(&cfg); err != nil {
		return domain.PipelineConfig{}, fmt.Errorf("align: decode pipeline config: %w", err)
	}
	return cfg, nil
}
