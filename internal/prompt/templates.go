// Package prompt holds the template catalog and the system-prompt builder
// that turns repository context and document content into a single system
// message.
package prompt

import (
	"regexp"
	"sort"
	"strings"

	"github.com/docsage/docsage/pkg/models"
)

// Template is a named prompt with {key} placeholders. Required variables must
// be present in the render bag; optional ones render empty when absent.
type Template struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Text        string   `json:"-"`
	Required    []string `json:"required_variables"`
	Optional    []string `json:"optional_variables"`
}

// Template IDs in the builtin catalog.
const (
	TemplateGeneralAssistant        = "general-assistant"
	TemplateDocumentationSpecialist = "documentation-specialist"
	TemplateFeedbackAnalyst         = "feedback-analyst"
)

var placeholderPattern = regexp.MustCompile(`\{([a-z_][a-z0-9_.]*)\}`)

// Store is the immutable template catalog, built once at startup.
type Store struct {
	templates map[string]Template
}

// NewStore returns a store preloaded with the builtin catalog.
func NewStore() *Store {
	s := &Store{templates: make(map[string]Template)}
	for _, t := range builtinTemplates {
		s.templates[t.ID] = t
	}
	return s
}

// Get returns a template by ID.
func (s *Store) Get(id string) (Template, bool) {
	t, ok := s.templates[id]
	return t, ok
}

// List returns catalog metadata sorted by ID.
func (s *Store) List() []Template {
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultFor picks a template when the caller does not name one. README-like
// paths get the documentation specialist; everything else the general
// assistant.
func (s *Store) DefaultFor(repoCtx *models.RepositoryContext) string {
	if repoCtx != nil {
		base := repoCtx.CurrentPath
		if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
			base = base[idx+1:]
		}
		if name, _, _ := strings.Cut(base, "."); strings.EqualFold(name, "README") {
			return TemplateDocumentationSpecialist
		}
	}
	return TemplateGeneralAssistant
}

// Render substitutes {key} placeholders from vars. A missing required
// variable fails with a template error; missing optional placeholders render
// empty. Rendering is a pure function of (id, vars).
func (s *Store) Render(id string, vars map[string]string) (string, error) {
	t, ok := s.templates[id]
	if !ok {
		return "", models.NewKindError(models.KindTemplateError, "unknown template %q", id)
	}
	for _, key := range t.Required {
		if strings.TrimSpace(vars[key]) == "" {
			return "", models.NewKindError(models.KindTemplateError, "template %q: missing required variable %q", id, key)
		}
	}
	out := placeholderPattern.ReplaceAllStringFunc(t.Text, func(m string) string {
		key := m[1 : len(m)-1]
		return vars[key]
	})
	return strings.TrimSpace(out), nil
}

var builtinTemplates = []Template{
	{
		ID:          TemplateGeneralAssistant,
		Description: "General documentation Q&A assistant",
		Required:    nil,
		Optional:    []string{"repository", "current_path", "document_title", "document_content_section"},
		Text: `You are a documentation assistant. You answer questions about the
repository {repository} accurately and concisely, citing file paths when
relevant.

{document_content_section}

If the user asks you to act on the repository (open issues, raise pull
requests), use the available tools rather than describing the steps.`,
	},
	{
		ID:          TemplateDocumentationSpecialist,
		Description: "Specialist for top-level project documentation such as README files",
		Required:    []string{"repository"},
		Optional:    []string{"current_path", "document_title", "document_type", "document_content_section"},
		Text: `You are a documentation specialist reviewing {current_path} in
{repository}. Focus on structure, completeness, and clarity for newcomers.
Prefer concrete suggestions over generalities.

{document_content_section}

When asked to report problems, open an issue with a descriptive title instead
of only listing them in chat.`,
	},
	{
		ID:          TemplateFeedbackAnalyst,
		Description: "Summarizes and classifies reader feedback on documentation",
		Required:    nil,
		Optional:    []string{"repository", "document_content_section"},
		Text: `You analyze reader feedback about documentation in {repository}.
Summarize recurring themes, gauge overall sentiment, and propose the smallest
set of edits that addresses the most feedback.

{document_content_section}`,
	},
}
