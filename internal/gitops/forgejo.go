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

// Forgejo implements Adapter over the Gitea-compatible REST API that Forgejo
// serves under /api/v1. Request and response shapes match GitHub closely
// enough that only paths and auth differ at this layer.
type Forgejo struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
}

// NewForgejo creates a Forgejo adapter. baseURL is the instance root, without
// the /api/v1 suffix.
func NewForgejo(baseURL string, creds Credentials) *Forgejo {
	return &Forgejo{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *Forgejo) CreateIssue(ctx context.Context, req IssueRequest) (Result, error) {
	payload := map[string]any{"title": req.Title}
	if req.Body != "" {
		payload["body"] = req.Body
	}
	if len(req.Assignees) > 0 {
		payload["assignees"] = req.Assignees
	}
	// Forgejo wants label IDs on create; label names are applied by a
	// follow-up call which this adapter does not attempt.

	var resp struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	p := fmt.Sprintf("/api/v1/repos/%s/%s/issues", req.Owner, req.Repo)
	if err := f.doRequest(ctx, http.MethodPost, p, payload, &resp); err != nil {
		return Result{}, err
	}
	return Result{
		Service: models.ServiceForgejo,
		Owner:   req.Owner,
		Repo:    req.Repo,
		Number:  resp.Number,
		URL:     resp.HTMLURL,
	}, nil
}

func (f *Forgejo) CreatePullRequest(ctx context.Context, req PullRequestRequest) (Result, error) {
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
	p := fmt.Sprintf("/api/v1/repos/%s/%s/pulls", req.Owner, req.Repo)
	if err := f.doRequest(ctx, http.MethodPost, p, payload, &resp); err != nil {
		return Result{}, err
	}
	return Result{
		Service: models.ServiceForgejo,
		Owner:   req.Owner,
		Repo:    req.Repo,
		Number:  resp.Number,
		URL:     resp.HTMLURL,
	}, nil
}

func (f *Forgejo) CheckPermissions(ctx context.Context, owner, repo string) (PermissionsResult, error) {
	var resp struct {
		Permissions Permissions `json:"permissions"`
	}
	p := fmt.Sprintf("/api/v1/repos/%s/%s", owner, repo)
	if err := f.doRequest(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return PermissionsResult{}, err
	}
	return PermissionsResult{
		Service:     models.ServiceForgejo,
		Owner:       owner,
		Repo:        repo,
		Permissions: resp.Permissions,
	}, nil
}

func (f *Forgejo) doRequest(ctx context.Context, method, requestPath string, payload, out any) error {
	base, err := url.Parse(f.baseURL)
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
	switch {
	case f.creds.Token != "":
		req.Header.Set("Authorization", "token "+f.creds.Token)
	case f.creds.Username != "":
		req.SetBasicAuth(f.creds.Username, f.creds.Password)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return models.WrapKind(models.KindNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.NewKindError(kindFromStatus(resp.StatusCode),
			"forgejo api %s %s: status %d: %s", method, requestPath, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.WrapKind(models.KindUnknown, err)
	}
	return nil
}
