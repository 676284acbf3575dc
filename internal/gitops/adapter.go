// Package gitops provides a backend-neutral adapter for write operations
// against Git hosting services. GitHub and Forgejo share the adapter surface;
// a mock backend serves tests and offline development.
package gitops

import (
	"context"
	"net/http"

	"github.com/docsage/docsage/pkg/models"
)

// IssueRequest creates an issue.
type IssueRequest struct {
	Owner     string   `json:"owner"`
	Repo      string   `json:"repo"`
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// PullRequestRequest creates a pull request from Head into Base.
type PullRequestRequest struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// Result is the normalized success shape shared by all backends.
type Result struct {
	Service models.GitService `json:"service"`
	Owner   string            `json:"owner"`
	Repo    string            `json:"repo"`
	Number  int               `json:"number"`
	URL     string            `json:"url"`
}

// Permissions reports the authenticated identity's access to a repository.
type Permissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}

// PermissionsResult is the normalized permission check outcome.
type PermissionsResult struct {
	Service     models.GitService `json:"service"`
	Owner       string            `json:"owner"`
	Repo        string            `json:"repo"`
	Permissions Permissions       `json:"permissions"`
}

// Adapter is the backend-neutral write surface. Failures carry one of the
// adapter error kinds (auth, not_found, conflict, rate_limited, network,
// unknown) so callers can report them uniformly.
type Adapter interface {
	CreateIssue(ctx context.Context, req IssueRequest) (Result, error)
	CreatePullRequest(ctx context.Context, req PullRequestRequest) (Result, error)
	CheckPermissions(ctx context.Context, owner, repo string) (PermissionsResult, error)
}

// Credentials authenticate adapter calls. Token wins when both token and
// basic-auth fields are set; basic auth is only honored by Forgejo.
type Credentials struct {
	Token    string
	Username string
	Password string
}

// Empty reports whether no credential material is present.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.Username == "" && c.Password == ""
}

// kindFromStatus maps an HTTP response status to an adapter error kind.
func kindFromStatus(status int) models.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.KindAuth
	case status == http.StatusNotFound:
		return models.KindNotFound
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return models.KindConflict
	case status == http.StatusTooManyRequests:
		return models.KindRateLimited
	case status >= 500:
		return models.KindNetwork
	default:
		return models.KindUnknown
	}
}
