package memoryingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/llmgw"
)

type scriptedGenerator struct {
	reply string
	err   error
}

func (g scriptedGenerator) Complete(_ context.Context, _ llmgw.Request) (llmgw.Response, error) {
	if g.err != nil {
		return llmgw.Response{}, g.err
	}
	return llmgw.Response{Content: []llmgw.Message{{Role: "assistant", Content: g.reply}}}, nil
}

func (g scriptedGenerator) Stream(_ context.Context, _ llmgw.Request) (llmgw.Streamer, error) {
	return nil, llmgw.ErrStreamingUnsupported
}

func TestExtractJSONObjectStripsProseWrapping(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"a\":1}\n```\nLet me know if you need more."
	assert.Equal(t, `{"a":1}`, extractJSONObject(raw))
}

func TestExtractJSONObjectReturnsInputWhenNoBraces(t *testing.T) {
	assert.Equal(t, "no json here", extractJSONObject("no json here"))
}

func TestParseExtractionDecodesEntitiesAndRelationships(t *testing.T) {
	raw := `{
		"entities": [{"name": "Ada Lovelace", "type": "person", "attributes": {"email": "ada@example.com"}, "confidence": 0.95}],
		"relationships": [{"from_name": "Ada Lovelace", "to_name": "Analytical Engine", "relation_type": "designed", "confidence": 0.8}]
	}`
	out, err := parseExtraction(raw)
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, "Ada Lovelace", out.Entities[0].Name)
	assert.Equal(t, "ada@example.com", out.Entities[0].Attributes["email"])
	require.Len(t, out.Relationships, 1)
	assert.Equal(t, "designed", out.Relationships[0].RelationType)
}

func TestParseExtractionRejectsSchemaViolation(t *testing.T) {
	_, err := parseExtraction(`{"entities": [{"type": "person", "confidence": 0.5}], "relationships": []}`)
	assert.Error(t, err, "missing required \"name\" must fail schema validation")
}

func TestParseExtractionRejectsMalformedJSON(t *testing.T) {
	_, err := parseExtraction(`not json at all`)
	assert.Error(t, err)
}

func TestExtractEntitiesParsesGeneratorReply(t *testing.T) {
	gen := scriptedGenerator{reply: `{"entities": [{"name": "Bob", "type": "person", "confidence": 0.9}], "relationships": []}`}
	out, err := extractEntities(context.Background(), gen, "test-model", "User: I talked to Bob today.")
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, "Bob", out.Entities[0].Name)
}

func TestExtractEntitiesPropagatesGeneratorError(t *testing.T) {
	wantErr := llmgw.ErrStreamingUnsupported
	gen := scriptedGenerator{err: wantErr}
	_, err := extractEntities(context.Background(), gen, "test-model", "content")
	assert.ErrorIs(t, err, wantErr)
}
