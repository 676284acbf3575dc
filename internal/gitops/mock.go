package gitops

import (
	"context"
	"fmt"
	"sync"

	"github.com/docsage/docsage/pkg/models"
)

// Mock is the in-memory backend used when DEFAULT_GIT_SERVICE=mock and in
// tests. Numbers increment per repository across issues and pull requests,
// like a real forge.
type Mock struct {
	mu      sync.Mutex
	counter map[string]int
	Issues  []IssueRequest
	Pulls   []PullRequestRequest

	// FailWith, when set, makes every call fail with this error.
	FailWith error
}

// NewMock creates an empty mock backend.
func NewMock() *Mock {
	return &Mock{counter: make(map[string]int)}
}

func (m *Mock) next(owner, repo string) int {
	key := owner + "/" + repo
	m.counter[key]++
	return m.counter[key]
}

func (m *Mock) CreateIssue(ctx context.Context, req IssueRequest) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Result{}, m.FailWith
	}
	n := m.next(req.Owner, req.Repo)
	m.Issues = append(m.Issues, req)
	return Result{
		Service: models.ServiceMock,
		Owner:   req.Owner,
		Repo:    req.Repo,
		Number:  n,
		URL:     fmt.Sprintf("mock://%s/%s/issues/%d", req.Owner, req.Repo, n),
	}, nil
}

func (m *Mock) CreatePullRequest(ctx context.Context, req PullRequestRequest) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Result{}, m.FailWith
	}
	n := m.next(req.Owner, req.Repo)
	m.Pulls = append(m.Pulls, req)
	return Result{
		Service: models.ServiceMock,
		Owner:   req.Owner,
		Repo:    req.Repo,
		Number:  n,
		URL:     fmt.Sprintf("mock://%s/%s/pulls/%d", req.Owner, req.Repo, n),
	}, nil
}

func (m *Mock) CheckPermissions(ctx context.Context, owner, repo string) (PermissionsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return PermissionsResult{}, m.FailWith
	}
	return PermissionsResult{
		Service:     models.ServiceMock,
		Owner:       owner,
		Repo:        repo,
		Permissions: Permissions{Admin: true, Push: true, Pull: true},
	}, nil
}
