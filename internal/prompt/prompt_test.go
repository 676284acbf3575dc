package prompt

import (
	"strings"
	"testing"

	"github.com/docsage/docsage/pkg/models"
)

func repoCtx(path string) *models.RepositoryContext {
	return &models.RepositoryContext{
		Service:     models.ServiceGitHub,
		Owner:       "acme",
		Repo:        "widgets",
		Ref:         "main",
		CurrentPath: path,
	}
}

func TestRenderSubstitutesAndIsPure(t *testing.T) {
	s := NewStore()
	vars := map[string]string{"repository": "acme/widgets", "current_path": "README.md"}

	first, err := s.Render(TemplateDocumentationSpecialist, vars)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(first, "acme/widgets") || !strings.Contains(first, "README.md") {
		t.Fatalf("placeholders not substituted:\n%s", first)
	}

	second, err := s.Render(TemplateDocumentationSpecialist, vars)
	if err != nil {
		t.Fatalf("render again: %v", err)
	}
	if first != second {
		t.Fatal("render is not pure in (id, vars)")
	}
}

func TestRenderMissingRequired(t *testing.T) {
	s := NewStore()
	_, err := s.Render(TemplateDocumentationSpecialist, nil)
	if models.KindOf(err) != models.KindTemplateError {
		t.Fatalf("kind = %v, want template_error", models.KindOf(err))
	}

	_, err = s.Render("nope", nil)
	if models.KindOf(err) != models.KindTemplateError {
		t.Fatalf("unknown id kind = %v", models.KindOf(err))
	}
}

func TestRenderOptionalRendersEmpty(t *testing.T) {
	s := NewStore()
	out, err := s.Render(TemplateGeneralAssistant, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(out, "{") {
		t.Fatalf("unresolved placeholder left in output:\n%s", out)
	}
}

func TestDefaultForReadme(t *testing.T) {
	s := NewStore()
	cases := map[string]string{
		"README.md":          TemplateDocumentationSpecialist,
		"docs/README.rst":    TemplateDocumentationSpecialist,
		"readme":             TemplateDocumentationSpecialist,
		"docs/guide.md":      TemplateGeneralAssistant,
		"src/main.go":        TemplateGeneralAssistant,
		"READMEISH/notes.md": TemplateGeneralAssistant,
	}
	for path, want := range cases {
		if got := s.DefaultFor(repoCtx(path)); got != want {
			t.Errorf("DefaultFor(%q) = %q, want %q", path, got, want)
		}
	}
	if got := s.DefaultFor(nil); got != TemplateGeneralAssistant {
		t.Errorf("DefaultFor(nil) = %q", got)
	}
}

func TestBuildEmbedsSmallDocument(t *testing.T) {
	b := NewBuilder(NewStore(), 0)
	msg, err := b.Build(BuildInputs{
		RepoCtx:         repoCtx("README.md"),
		DocumentContent: "# Widgets\n\nA library.",
		IncludeContent:  true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg == nil || msg.Role != models.RoleSystem {
		t.Fatalf("msg = %+v", msg)
	}
	if !strings.Contains(msg.Content, "BEGIN DOCUMENT") || !strings.Contains(msg.Content, "# Widgets") {
		t.Fatalf("document not embedded:\n%s", msg.Content)
	}
}

func TestBuildPointsToLargeDocument(t *testing.T) {
	b := NewBuilder(NewStore(), 64)
	msg, err := b.Build(BuildInputs{
		RepoCtx:         repoCtx("docs/guide.md"),
		DocumentContent: strings.Repeat("x", 500),
		IncludeContent:  true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(msg.Content, "BEGIN DOCUMENT") {
		t.Fatal("oversized document was embedded")
	}
	if !strings.Contains(msg.Content, "docs/guide.md") {
		t.Fatalf("pointer should name the path:\n%s", msg.Content)
	}
}

func TestBuildNoInputsNoSystemMessage(t *testing.T) {
	b := NewBuilder(NewStore(), 0)
	msg, err := b.Build(BuildInputs{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected no system message, got %+v", msg)
	}
}

func TestBuildExplicitTemplate(t *testing.T) {
	b := NewBuilder(NewStore(), 0)
	msg, err := b.Build(BuildInputs{
		TemplateID: TemplateFeedbackAnalyst,
		RepoCtx:    repoCtx("README.md"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(msg.Content, "feedback") {
		t.Fatalf("wrong template rendered:\n%s", msg.Content)
	}
}

func TestListSortedCatalog(t *testing.T) {
	s := NewStore()
	list := s.List()
	if len(list) < 3 {
		t.Fatalf("catalog too small: %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Fatalf("catalog not sorted: %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}
