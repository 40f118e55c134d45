package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/llmgw"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/telemetry"
)

// Generator is Phase 8: it selects a template by EXCLUSIVE -> SUGGEST ->
// FALLBACK precedence (spec.md §4.1 "Generation, detail") and either
// interpolates it verbatim (EXCLUSIVE) or builds an LLM prompt from the
// glossary, interlocutor schema mask, scenario summary, matched rules, and
// SUGGEST templates. Only the total absence of a usable response (no LLM
// and no template at all) is fatal; an LLM failure with a FALLBACK template
// available degrades to that template instead (spec.md §7).
type Generator struct {
	Config store.ConfigRepository
	Gen    llmgw.Generator
	Model  string
	Log    telemetry.Logger
}

func NewGenerator(cfg store.ConfigRepository, gen llmgw.Generator, model string, log telemetry.Logger) *Generator {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Generator{Config: cfg, Gen: gen, Model: model, Log: log}
}

func (g *Generator) Name() string            { return "response_generation" }
func (g *Generator) FailureMode() FailureMode { return FailFatal }

func (g *Generator) Run(ctx context.Context, ws *TurnWorkingSet) error {
	scopeID := activeScopeID(ws)

	exclusive, err := g.pickTemplate(ctx, ws, domain.TemplateExclusive, scopeID)
	if err == nil {
		ws.UsedTemplate = &exclusive
		ws.CandidateResponse = interpolate(exclusive.Text, resolvedVars(ws))
		return nil
	}

	suggestions, _ := g.Config.ListTemplates(ctx, ws.TenantID, ws.AgentID, domain.TemplateSuggest)
	suggestions = filterByScope(suggestions, scopeID)

	if g.Gen != nil {
		resp, err := g.Gen.Complete(ctx, llmgw.Request{
			Model:       g.Model,
			Temperature: 0.7,
			Messages: []llmgw.Message{
				{Role: "system", Content: buildGenerationSystemPrompt(ws, suggestions)},
				{Role: "user", Content: ws.Message},
			},
		})
		if err == nil {
			ws.CandidateResponse = concatContent(resp.Content)
			ws.TokensUsed += resp.Usage.TotalTokens
			return nil
		}
		g.Log.Warn(ctx, "response_generation: LLM call failed, falling back to template", "error", err)
	}

	fallback, err := g.pickTemplate(ctx, ws, domain.TemplateFallback, scopeID)
	if err != nil {
		return fmt.Errorf("pipeline: response_generation: no LLM and no fallback template available: %w", err)
	}
	ws.UsedTemplate = &fallback
	ws.CandidateResponse = interpolate(fallback.Text, resolvedVars(ws))
	ws.FallbackUsed = true
	return nil
}

// pickTemplate returns the highest-Priority template of mode scoped to
// scopeID (or unscoped), breaking ties the same way rule matching does:
// higher priority wins, then deterministic by name.
func (g *Generator) pickTemplate(ctx context.Context, ws *TurnWorkingSet, mode domain.TemplateMode, scopeID *domain.ID) (domain.Template, error) {
	all, err := g.Config.ListTemplates(ctx, ws.TenantID, ws.AgentID, mode)
	if err != nil {
		return domain.Template{}, err
	}
	candidates := filterByScope(all, scopeID)
	if len(candidates) == 0 {
		return domain.Template{}, fmt.Errorf("no %s template available", mode)
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority > best.Priority || (c.Priority == best.Priority && c.Name < best.Name) {
			best = c
		}
	}
	return best, nil
}

func filterByScope(templates []domain.Template, scopeID *domain.ID) []domain.Template {
	var out []domain.Template
	for _, t := range templates {
		if t.ScopeID == nil || (scopeID != nil && *t.ScopeID == *scopeID) {
			out = append(out, t)
		}
	}
	return out
}

func activeScopeID(ws *TurnWorkingSet) *domain.ID {
	if ws.Session != nil && ws.Session.ActiveStepID != nil {
		return ws.Session.ActiveStepID
	}
	return nil
}

func buildGenerationSystemPrompt(ws *TurnWorkingSet, suggestions []domain.Template) string {
	var b strings.Builder
	b.WriteString("You are a conversational agent. Respond helpfully and concisely.\n")
	if len(ws.Glossary) > 0 {
		b.WriteString("Glossary:\n")
		for _, g := range ws.Glossary {
			fmt.Fprintf(&b, "- %s: %s\n", g.Term, g.Definition)
		}
	}
	if len(ws.FieldSchema) > 0 {
		b.WriteString("Known interlocutor fields (name: type" )
		b.WriteString(", value shown only when marked safe):\n")
		for _, f := range ws.FieldSchema {
			if f.SafeValue {
				if entry, ok := ws.Profile.ActiveField(f.Name); ok {
					fmt.Fprintf(&b, "- %s (%s) = %v\n", f.Name, f.ValueType, entry.Value)
					continue
				}
			}
			fmt.Fprintf(&b, "- %s (%s)\n", f.Name, f.ValueType)
		}
	}
	if ws.ActiveScenario != nil && ws.Session.ActiveStepID != nil {
		fmt.Fprintf(&b, "Current scenario %s, step %s.\n", ws.ActiveScenario.ID, *ws.Session.ActiveStepID)
	}
	if len(ws.MatchedRules) > 0 {
		b.WriteString("Applicable rules:\n")
		for _, r := range ws.matchedRules {
			fmt.Fprintf(&b, "- %s\n", r.ActionText)
		}
	}
	if len(suggestions) > 0 {
		b.WriteString("Suggested phrasing (you may adapt it):\n")
		for _, t := range suggestions {
			fmt.Fprintf(&b, "- %s\n", t.Text)
		}
	}
	return b.String()
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)(?::[^}]+)?\}`)

// interpolate replaces {name[:format_spec]} placeholders with known_vars,
// leaving unresolved names literal so enforcement can detect them (spec.md
// §4.1 "Generation, detail", §4.3).
func interpolate(text string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		name := sub[1]
		if v, ok := vars[name]; ok {
			return fmt.Sprint(v)
		}
		return match
	})
}
