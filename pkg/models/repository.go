package models

import (
	"fmt"
	"time"
)

// GitService identifies a Git hosting backend.
type GitService string

const (
	ServiceGitHub  GitService = "github"
	ServiceForgejo GitService = "forgejo"
	ServiceMock    GitService = "mock"
)

// RepositoryContext identifies what the user is currently looking at.
type RepositoryContext struct {
	Service GitService `json:"service"`
	Owner   string     `json:"owner"`
	Repo    string     `json:"repo"`

	// Ref defaults to the repository's default branch when empty.
	Ref string `json:"ref,omitempty"`

	// CurrentPath is the document path the user is browsing, if any.
	CurrentPath string `json:"current_path,omitempty"`
}

// Validate checks the context references a known service and a repository.
func (rc RepositoryContext) Validate() error {
	switch rc.Service {
	case ServiceGitHub, ServiceForgejo, ServiceMock:
	default:
		return fmt.Errorf("unknown git service %q", rc.Service)
	}
	if rc.Owner == "" || rc.Repo == "" {
		return fmt.Errorf("repository context requires owner and repo")
	}
	return nil
}

// Slug returns the owner/repo form used in prompts and logs.
func (rc RepositoryContext) Slug() string {
	return rc.Owner + "/" + rc.Repo
}

// DocumentType classifies fetched document content.
type DocumentType string

const (
	DocumentMarkdown DocumentType = "markdown"
	DocumentHTML     DocumentType = "html"
	DocumentText     DocumentType = "text"
)

// DocumentMetadata describes the document the user is viewing. Only the
// output shape of the fetching layer matters to the orchestration core.
type DocumentMetadata struct {
	Type         DocumentType   `json:"type"`
	LastModified *time.Time     `json:"last_modified,omitempty"`
	Title        string         `json:"title,omitempty"`
	Frontmatter  map[string]any `json:"frontmatter,omitempty"`
}
