package llm

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docsage/docsage/pkg/models"
)

// DefaultCacheEntries bounds the cache when no capacity is configured.
const DefaultCacheEntries = 1024

// ResponseCache memoizes finalized LLM responses by input fingerprint.
// Entries expire after a TTL and are evicted LRU beyond capacity. Expired
// entries are dropped lazily on access and by Sweep.
//
// The cache must not be consulted for streaming turns or turns whose
// selected toolset contains side-effecting handlers; that policy lives in
// the orchestrator.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	ttl     time.Duration
	maxSize int

	now func() time.Time
}

type cacheEntry struct {
	fingerprint string
	response    models.LLMResponse
	expiresAt   time.Time
}

// NewResponseCache creates a cache with the given TTL and capacity.
// Non-positive capacity falls back to DefaultCacheEntries; a non-positive
// TTL disables expiry.
func NewResponseCache(ttl time.Duration, maxSize int) *ResponseCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheEntries
	}
	return &ResponseCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the cached response for a fingerprint, if present and fresh.
func (c *ResponseCache) Get(fingerprint string) (models.LLMResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		return models.LLMResponse{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.removeLocked(elem)
		return models.LLMResponse{}, false
	}
	c.order.MoveToFront(elem)
	return entry.response, true
}

// Put stores a response. A later writer never overwrites a fresher entry:
// if the existing entry expires after the incoming one would, it is kept.
func (c *ResponseCache) Put(fingerprint string, resp models.LLMResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if elem, ok := c.entries[fingerprint]; ok {
		entry := elem.Value.(*cacheEntry)
		if entry.expiresAt.After(expiresAt) {
			return
		}
		entry.response = resp
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{
		fingerprint: fingerprint,
		response:    resp,
		expiresAt:   expiresAt,
	})
	c.entries[fingerprint] = elem

	for len(c.entries) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *ResponseCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl <= 0 {
		return 0
	}
	now := c.now()
	dropped := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*cacheEntry).expiresAt) {
			c.removeLocked(elem)
			dropped++
		}
		elem = prev
	}
	return dropped
}

// Len returns the current entry count.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResponseCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.fingerprint)
	c.order.Remove(elem)
}

// fingerprintPayload is the canonical input set that determines a response.
// Field order is fixed; messages are normalized before hashing.
type fingerprintPayload struct {
	Provider string              `json:"provider"`
	Model    string              `json:"model"`
	Messages []normalizedMessage `json:"messages"`
	Options  QueryOptions        `json:"options"`
	Tools    string              `json:"tools"`
}

type normalizedMessage struct {
	Role       string   `json:"role"`
	Content    string   `json:"content"`
	ToolCallID string   `json:"tool_call_id,omitempty"`
	ToolCalls  []string `json:"tool_calls,omitempty"`
}

// Fingerprint computes the stable cache key for a request. Message content
// is whitespace-collapsed and the payload is serialized as canonical JSON so
// the key survives process restarts.
func Fingerprint(provider, model string, messages []models.Message, opts QueryOptions, toolsHash string) string {
	payload := fingerprintPayload{
		Provider: provider,
		Model:    model,
		Messages: make([]normalizedMessage, 0, len(messages)),
		Options:  opts,
		Tools:    toolsHash,
	}
	for _, msg := range messages {
		nm := normalizedMessage{
			Role:       string(msg.Role),
			Content:    collapseWhitespace(msg.Content),
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			nm.ToolCalls = append(nm.ToolCalls, call.ID+":"+call.Name+":"+collapseWhitespace(string(call.Arguments)))
		}
		payload.Messages = append(payload.Messages, nm)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal of plain structs cannot fail; guard anyway.
		data = []byte(provider + model)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ToolsHash derives a stable hash over tool schemas, independent of
// registration order.
func ToolsHash(tools []ToolSpec) string {
	if len(tools) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tools))
	for _, t := range tools {
		parts = append(parts, t.Name+"\x00"+collapseWhitespace(string(t.Parameters)))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x01")))
	return hex.EncodeToString(sum[:])
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
