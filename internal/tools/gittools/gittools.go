// Package gittools registers the side-effecting Git write tools. Each
// handler resolves its target service and credentials from the call
// arguments first, falling back to the turn's repository context and the
// ambient configuration. Request-supplied credentials always win over
// ambient ones.
package gittools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docsage/docsage/internal/gitops"
	"github.com/docsage/docsage/internal/tools"
	"github.com/docsage/docsage/pkg/models"
)

type repoCtxKey struct{}

// WithRepositoryContext attaches the turn's repository context so handlers
// can default owner, repo, and service from it.
func WithRepositoryContext(ctx context.Context, rc *models.RepositoryContext) context.Context {
	if rc == nil {
		return ctx
	}
	return context.WithValue(ctx, repoCtxKey{}, rc)
}

func repositoryContext(ctx context.Context) *models.RepositoryContext {
	rc, _ := ctx.Value(repoCtxKey{}).(*models.RepositoryContext)
	return rc
}

// AdapterFactory builds a backend for a service with the resolved
// credentials. Tests substitute this to avoid real HTTP.
type AdapterFactory func(service models.GitService, creds gitops.Credentials) (gitops.Adapter, error)

// Options configures the Git tools at registration time.
type Options struct {
	// DefaultService applies when neither the arguments nor the repository
	// context name one.
	DefaultService models.GitService

	// Ambient credentials, used when the call supplies none.
	GitHubToken    string
	ForgejoBaseURL string
	ForgejoCreds   gitops.Credentials

	// NewAdapter overrides backend construction. Nil uses the real
	// HTTP-backed adapters (and the in-memory mock for service "mock").
	NewAdapter AdapterFactory

	mock *gitops.Mock
}

func (o *Options) factory() AdapterFactory {
	if o.NewAdapter != nil {
		return o.NewAdapter
	}
	// One shared mock so numbers increment across calls in a process.
	o.mock = gitops.NewMock()
	return func(service models.GitService, creds gitops.Credentials) (gitops.Adapter, error) {
		switch service {
		case models.ServiceGitHub:
			return gitops.NewGitHub("", creds.Token), nil
		case models.ServiceForgejo:
			if o.ForgejoBaseURL == "" {
				return nil, models.NewKindError(models.KindInvalidArguments, "forgejo base URL is not configured")
			}
			return gitops.NewForgejo(o.ForgejoBaseURL, creds), nil
		case models.ServiceMock:
			return o.mock, nil
		default:
			return nil, models.NewKindError(models.KindInvalidArguments, "unknown git service %q", service)
		}
	}
}

// commonArgs are the fields shared by all three Git tools.
type commonArgs struct {
	ServiceType string `json:"service_type"`
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	Token       string `json:"token"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// resolve fills service, owner, repo, and credentials from arguments, then
// repository context, then ambient configuration.
func (o *Options) resolve(ctx context.Context, args commonArgs) (models.GitService, string, string, gitops.Credentials, error) {
	rc := repositoryContext(ctx)

	service := models.GitService(args.ServiceType)
	if service == "" && rc != nil {
		service = rc.Service
	}
	if service == "" {
		service = o.DefaultService
	}
	switch service {
	case models.ServiceGitHub, models.ServiceForgejo, models.ServiceMock:
	default:
		return "", "", "", gitops.Credentials{}, models.NewKindError(models.KindInvalidArguments, "unknown git service %q", service)
	}

	owner, repo := args.Owner, args.Repo
	if rc != nil {
		if owner == "" {
			owner = rc.Owner
		}
		if repo == "" {
			repo = rc.Repo
		}
	}
	if owner == "" || repo == "" {
		return "", "", "", gitops.Credentials{}, models.NewKindError(models.KindInvalidArguments, "owner and repo are required (from arguments or repository context)")
	}

	creds := gitops.Credentials{Token: args.Token, Username: args.Username, Password: args.Password}
	if creds.Empty() {
		switch service {
		case models.ServiceGitHub:
			creds.Token = o.GitHubToken
		case models.ServiceForgejo:
			creds = o.ForgejoCreds
		}
	}
	return service, owner, repo, creds, nil
}

// available reports whether the tools stand a chance of authenticating
// with the ambient configuration alone. With nothing configured the tools
// stay out of the model's toolset; per-request tokens in arguments can't
// help a model that was never offered the tool.
func (o Options) available() bool {
	if o.NewAdapter != nil || o.DefaultService == models.ServiceMock {
		return true
	}
	return o.GitHubToken != "" || !o.ForgejoCreds.Empty()
}

// Register adds the Git write tools to the registry. All three are marked
// side-effecting so the orchestrator disables caching for turns that can
// reach them.
func Register(reg *tools.Registry, opts Options) error {
	factory := opts.factory()
	available := func() bool { return opts.available() }

	credentialProps := `
		"service_type": {"type": "string", "enum": ["github", "forgejo", "mock"]},
		"owner": {"type": "string"},
		"repo": {"type": "string"},
		"token": {"type": "string", "description": "Overrides the configured token"},
		"username": {"type": "string"},
		"password": {"type": "string"}`

	defs := []tools.FunctionDefinition{
		{
			Name:          "create_git_issue",
			Description:   "Opens an issue on the repository. Owner and repo default to the current repository context.",
			SideEffecting: true,
			Available:     available,
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"body": {"type": "string"},
					"labels": {"type": "array", "items": {"type": "string"}},
					"assignees": {"type": "array", "items": {"type": "string"}},` + credentialProps + `
				},
				"required": ["title"]
			}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					commonArgs
					Title     string   `json:"title"`
					Body      string   `json:"body"`
					Labels    []string `json:"labels"`
					Assignees []string `json:"assignees"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				service, owner, repo, creds, err := opts.resolve(ctx, args.commonArgs)
				if err != nil {
					return nil, err
				}
				adapter, err := factory(service, creds)
				if err != nil {
					return nil, err
				}
				res, err := adapter.CreateIssue(ctx, gitops.IssueRequest{
					Owner: owner, Repo: repo,
					Title: args.Title, Body: args.Body,
					Labels: args.Labels, Assignees: args.Assignees,
				})
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
		{
			Name:          "create_git_pull_request",
			Description:   "Opens a pull request from head into base on the repository.",
			SideEffecting: true,
			Available:     available,
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"body": {"type": "string"},
					"head": {"type": "string", "minLength": 1},
					"base": {"type": "string"},` + credentialProps + `
				},
				"required": ["title", "head"]
			}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args struct {
					commonArgs
					Title string `json:"title"`
					Body  string `json:"body"`
					Head  string `json:"head"`
					Base  string `json:"base"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				service, owner, repo, creds, err := opts.resolve(ctx, args.commonArgs)
				if err != nil {
					return nil, err
				}
				base := args.Base
				if base == "" {
					if rc := repositoryContext(ctx); rc != nil && rc.Ref != "" {
						base = rc.Ref
					} else {
						base = "main"
					}
				}
				adapter, err := factory(service, creds)
				if err != nil {
					return nil, err
				}
				res, err := adapter.CreatePullRequest(ctx, gitops.PullRequestRequest{
					Owner: owner, Repo: repo,
					Title: args.Title, Body: args.Body,
					Head: args.Head, Base: base,
				})
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
		{
			Name:          "check_git_repository_permissions",
			Description:   "Reports the authenticated identity's admin/push/pull access to the repository.",
			SideEffecting: true,
			Available:     available,
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {` + credentialProps + `
				}
			}`),
			Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args commonArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				service, owner, repo, creds, err := opts.resolve(ctx, args)
				if err != nil {
					return nil, err
				}
				adapter, err := factory(service, creds)
				if err != nil {
					return nil, err
				}
				res, err := adapter.CheckPermissions(ctx, owner, repo)
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("git tools: %w", err)
		}
	}
	return nil
}
