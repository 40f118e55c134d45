package memoryingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/turnkit/align/llmgw"
)

// extractionSchema is the structured-output contract for entity extraction
// (spec.md §4.6): {entities:[{name,type,attributes,confidence}],
// relationships:[{from_name,to_name,relation_type,attributes,confidence}]}.
// Compiled once via the same jsonschema/v6 idiom as llmgw/judge.go's
// verdictSchema and pipeline/phase2_sensor.go's snapshotSchema.
var extractionSchema = mustCompileSchema("extraction.json", `{
	"type": "object",
	"required": ["entities", "relationships"],
	"properties": {
		"entities": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "type", "confidence"],
				"properties": {
					"name": {"type": "string"},
					"type": {"type": "string"},
					"attributes": {"type": "object"},
					"confidence": {"type": "number"}
				}
			}
		},
		"relationships": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["from_name", "to_name", "relation_type", "confidence"],
				"properties": {
					"from_name": {"type": "string"},
					"to_name": {"type": "string"},
					"relation_type": {"type": "string"},
					"attributes": {"type": "object"},
					"confidence": {"type": "number"}
				}
			}
		}
	}
}`)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(err)
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(err)
	}
	return s
}

// ExtractedEntity is one entity candidate from an extraction call, before
// dedup and confidence filtering.
type ExtractedEntity struct {
	Name       string
	Type       string
	Attributes map[string]any
	Confidence float64
}

// ExtractedRelationship is one relationship candidate from an extraction
// call, referencing entities by the name they were extracted under.
type ExtractedRelationship struct {
	FromName     string
	ToName       string
	RelationType string
	Attributes   map[string]any
	Confidence   float64
}

type extraction struct {
	Entities      []ExtractedEntity
	Relationships []ExtractedRelationship
}

const extractionSystemPrompt = `Extract named entities and relationships mentioned in the conversation turn below. Respond with JSON only, matching {entities:[{name,type,attributes,confidence}],relationships:[{from_name,to_name,relation_type,attributes,confidence}]}. Confidence is your certainty in [0,1] that the extraction is correct. Omit anything you are not reasonably confident about.`

// extractEntities asks gen for the turn's entities and relationships and
// validates the reply against extractionSchema before returning it.
func extractEntities(ctx context.Context, gen llmgw.Generator, model, episodeContent string) (extraction, error) {
	resp, err := gen.Complete(ctx, llmgw.Request{
		Model:       model,
		Temperature: 0,
		MaxTokens:   1024,
		Messages: []llmgw.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: episodeContent},
		},
	})
	if err != nil {
		return extraction{}, err
	}
	return parseExtraction(concatContent(resp.Content))
}

func concatContent(messages []llmgw.Message) string {
	var out string
	for _, m := range messages {
		out += m.Content
	}
	return out
}

func parseExtraction(raw string) (extraction, error) {
	obj := extractJSONObject(raw)

	var decoded any
	if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
		return extraction{}, fmt.Errorf("memoryingest: unmarshal extraction: %w", err)
	}
	if err := extractionSchema.Validate(decoded); err != nil {
		return extraction{}, fmt.Errorf("memoryingest: schema validation: %w", err)
	}

	var payload struct {
		Entities []struct {
			Name       string         `json:"name"`
			Type       string         `json:"type"`
			Attributes map[string]any `json:"attributes"`
			Confidence float64        `json:"confidence"`
		} `json:"entities"`
		Relationships []struct {
			FromName     string         `json:"from_name"`
			ToName       string         `json:"to_name"`
			RelationType string         `json:"relation_type"`
			Attributes   map[string]any `json:"attributes"`
			Confidence   float64        `json:"confidence"`
		} `json:"relationships"`
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return extraction{}, fmt.Errorf("memoryingest: unmarshal extraction: %w", err)
	}

	out := extraction{}
	for _, e := range payload.Entities {
		out.Entities = append(out.Entities, ExtractedEntity{
			Name: e.Name, Type: e.Type, Attributes: e.Attributes, Confidence: e.Confidence,
		})
	}
	for _, r := range payload.Relationships {
		out.Relationships = append(out.Relationships, ExtractedRelationship{
			FromName: r.FromName, ToName: r.ToName, RelationType: r.RelationType,
			Attributes: r.Attributes, Confidence: r.Confidence,
		})
	}
	return out, nil
}

// extractJSONObject returns s from its first '{' to its last '}', tolerating
// prose or code-fence wrapping around the LLM's JSON reply (the same
// tolerance pipeline/phase2_sensor.go applies to its own structured calls).
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
