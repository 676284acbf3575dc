package gitops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/docsage/docsage/pkg/models"
)

const githubDefaultBaseURL = "https://api.github.com"

// GitHub implements Adapter over the GitHub REST v3 API. The base URL is
// configurable for GitHub Enterprise hosts.
type GitHub struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewGitHub creates a GitHub adapter. An empty baseURL targets github.com.
func NewGitHub(baseURL, token string) *GitHub {
	if baseURL == "" {
		baseURL = githubDefaultBaseURL
	}
	return &GitHub{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *GitHub) CreateIssue(ctx context.Context, req IssueRequest) (Result, error) {
	payload := map[string]any{"title": req.Title}
	if req.Body != "" {
		payload["body"] = req.Body
	}
	if len(req.Labels) > 0 {
		payload["labels"] = req.Labels
	}
	if len(req.Assignees) > 0 {
		payload["assignees"] = req.Assignees
	}

	var resp struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	p := fmt.Sprintf("/repos/%s/%s/issues", req.Owner, req.Repo)
	if err := g.doRequest(ctx, http.MethodPost, p, payload, &resp); err != nil {
		return Result{}, err
	}
	return Result{
		Service: models.ServiceGitHub,
		Owner:   req.Owner,
		Repo:    req.Repo,
		Number:  resp.Number,
		URL:     resp.HTMLURL,
	}, nil
}

func (g *GitHub) CreatePullRequest(ctx context.Context, req PullRequestRequest) (Result, error) {
	payload := map[string]any{
		"title": req.Title,
		"head":  req.Head,
		"base":  req.Base,
	}
	if req.Body != "" {
		payload["body"] = req.Body
	}

	var resp struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	p := fmt.Sprintf("/repos/%s/%s/pulls", req.Owner, req.Repo)
	if err := g.doRequest(ctx, http.MethodPost, p, payload, &resp); err != nil {
		return Result{}, err
	}
	return Result{
		Service: models.ServiceGitHub,
		Owner:   req.Owner,
		Repo:    req.Repo,
		Number:  resp.Number,
		URL:     resp.HTMLURL,
	}, nil
}

func (g *GitHub) CheckPermissions(ctx context.Context, owner, repo string) (PermissionsResult, error) {
	var resp struct {
		Permissions Permissions `json:"permissions"`
	}
	p := fmt.Sprintf("/repos/%s/%s", owner, repo)
	if err := g.doRequest(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return PermissionsResult{}, err
	}
	return PermissionsResult{
		Service:     models.ServiceGitHub,
		Owner:       owner,
		Repo:        repo,
		Permissions: resp.Permissions,
	}, nil
}

func (g *GitHub) doRequest(ctx context.Context, method, requestPath string, payload, out any) error {
	base, err := url.Parse(g.baseURL)
	if err != nil {
		return models.WrapKind(models.KindUnknown, err)
	}
	base.Path = path.Join(base.Path, requestPath)

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return models.WrapKind(models.KindUnknown, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, base.String(), body)
	if err != nil {
		return models.WrapKind(models.KindUnknown, err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return models.WrapKind(models.KindNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.NewKindError(kindFromStatus(resp.StatusCode),
			"github api %s %s: status %d: %s", method, requestPath, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.WrapKind(models.KindUnknown, err)
	}
	return nil
}
