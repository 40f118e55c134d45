package domain

// TemplateMode controls how generation treats a template.
type TemplateMode string

const (
	// TemplateSuggest: the LLM may adapt the template's wording.
	TemplateSuggest TemplateMode = "SUGGEST"
	// TemplateExclusive: bypass the LLM entirely, interpolate verbatim.
	TemplateExclusive TemplateMode = "EXCLUSIVE"
	// TemplateFallback: used only when enforcement exhausts regeneration.
	TemplateFallback TemplateMode = "FALLBACK"
)

// Template is parameterized response text.
type Template struct {
	Timestamps
	TenantScope

	ID       ID
	Name     string
	Mode     TemplateMode
	Text     string
	Priority int // used to break ties among multiple eligible FALLBACK templates
	ScopeID  *ID // optional scenario/step binding
}
