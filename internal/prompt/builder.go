package prompt

import (
	"fmt"
	"strings"

	"github.com/docsage/docsage/pkg/models"
)

// DefaultContentCap bounds how much document text is embedded verbatim in the
// system message. Larger documents are referenced by path instead.
const DefaultContentCap = 16 * 1024

// BuildInputs are the per-turn inputs to the system-prompt builder.
type BuildInputs struct {
	// TemplateID selects a catalog template. Empty picks a default from the
	// repository context.
	TemplateID string

	RepoCtx *models.RepositoryContext
	DocMeta *models.DocumentMetadata

	// DocumentContent is the raw document body, embedded when
	// IncludeContent is set and the body fits under the cap.
	DocumentContent string
	IncludeContent  bool
}

// Builder composes the system message for a turn.
type Builder struct {
	store      *Store
	contentCap int
}

// NewBuilder creates a builder over the given catalog. A non-positive cap
// falls back to DefaultContentCap.
func NewBuilder(store *Store, contentCap int) *Builder {
	if contentCap <= 0 {
		contentCap = DefaultContentCap
	}
	return &Builder{store: store, contentCap: contentCap}
}

// Build renders the system message for a turn. With no template and no
// context at all it returns nil and the conversation proceeds without a
// system message.
func (b *Builder) Build(in BuildInputs) (*models.Message, error) {
	if in.TemplateID == "" && in.RepoCtx == nil && in.DocMeta == nil && in.DocumentContent == "" {
		return nil, nil
	}

	id := in.TemplateID
	if id == "" {
		id = b.store.DefaultFor(in.RepoCtx)
	}

	text, err := b.store.Render(id, b.vars(in))
	if err != nil {
		return nil, err
	}
	msg := models.NewSystemMessage(text)
	return &msg, nil
}

// vars flattens the inputs into the render bag.
func (b *Builder) vars(in BuildInputs) map[string]string {
	vars := map[string]string{}

	if rc := in.RepoCtx; rc != nil {
		vars["service"] = string(rc.Service)
		vars["owner"] = rc.Owner
		vars["repo"] = rc.Repo
		vars["repository"] = rc.Slug()
		vars["ref"] = rc.Ref
		vars["current_path"] = rc.CurrentPath
	}
	if dm := in.DocMeta; dm != nil {
		vars["document_type"] = string(dm.Type)
		vars["document_title"] = dm.Title
		if dm.LastModified != nil {
			vars["document_last_modified"] = dm.LastModified.UTC().Format("2006-01-02")
		}
	}
	vars["document_content_section"] = b.contentSection(in)
	return vars
}

// contentSection embeds the document between delimiters when allowed and
// small enough, and degrades to a pointer line otherwise.
func (b *Builder) contentSection(in BuildInputs) string {
	if in.DocumentContent == "" {
		return ""
	}

	path := "the current document"
	if in.RepoCtx != nil && in.RepoCtx.CurrentPath != "" {
		path = in.RepoCtx.CurrentPath
	}

	if !in.IncludeContent || len(in.DocumentContent) > b.contentCap {
		return fmt.Sprintf("The conversation concerns %s (%d bytes; content not embedded).", path, len(in.DocumentContent))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current document (%s):\n", path)
	sb.WriteString("--- BEGIN DOCUMENT ---\n")
	sb.WriteString(strings.TrimRight(in.DocumentContent, "\n"))
	sb.WriteString("\n--- END DOCUMENT ---")
	return sb.String()
}
