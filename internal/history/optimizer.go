// Package history trims conversation histories to a token budget while
// preserving role semantics.
package history

import (
	"github.com/docsage/docsage/pkg/models"
)

// DefaultPreserveRecent is how many trailing messages survive trimming when
// the caller does not say otherwise.
const DefaultPreserveRecent = 4

// Estimator supplies token estimates. Only monotonicity is required.
type Estimator interface {
	CountMessage(msg models.Message) int
	CountMessages(messages []models.Message) int
}

// Optimizer trims message lists oldest-first under a token budget.
type Optimizer struct {
	estimator      Estimator
	preserveRecent int
}

// NewOptimizer creates an optimizer. A non-positive preserveRecent falls back
// to DefaultPreserveRecent.
func NewOptimizer(estimator Estimator, preserveRecent int) *Optimizer {
	if preserveRecent <= 0 {
		preserveRecent = DefaultPreserveRecent
	}
	return &Optimizer{estimator: estimator, preserveRecent: preserveRecent}
}

// unit is an atomic run of messages that is dropped or kept as a whole. An
// assistant message carrying tool calls and its following tool results form
// one unit so trimming never orphans a tool message.
type unit struct {
	start, end int // half-open index range into the message list
	protected  bool
	dropped    bool
	tokens     int
}

// Optimize returns a trimmed copy of messages whose estimate fits maxTokens,
// plus a summary of what happened. The input is never mutated. Policy:
//
//  1. The first system message is always kept.
//  2. The trailing preserveRecent messages are always kept.
//  3. Everything else is dropped oldest-first until the estimate fits.
//  4. Tool-call pairs are dropped or kept whole.
//  5. If the minimal set still exceeds the budget, it is returned as-is with
//     WasOptimized set; the caller decides whether that is fatal.
//
// Optimize is idempotent: re-optimizing its output under the same budget
// returns the same list.
func (o *Optimizer) Optimize(messages []models.Message, maxTokens int) ([]models.Message, models.HistoryOptimizationInfo) {
	info := models.HistoryOptimizationInfo{
		OriginalCount:  len(messages),
		OptimizedCount: len(messages),
	}
	if len(messages) == 0 {
		return nil, info
	}

	total := o.estimator.CountMessages(messages)
	if maxTokens <= 0 || total <= maxTokens {
		out := make([]models.Message, len(messages))
		copy(out, messages)
		return out, info
	}

	units := o.segment(messages)

	for i := range units {
		if total <= maxTokens {
			break
		}
		if units[i].protected {
			continue
		}
		units[i].dropped = true
		total -= units[i].tokens
	}

	out := make([]models.Message, 0, len(messages))
	for _, u := range units {
		if !u.dropped {
			out = append(out, messages[u.start:u.end]...)
		}
	}

	info.WasOptimized = len(out) < len(messages) || total > maxTokens
	info.OptimizedCount = len(out)
	return out, info
}

// segment splits messages into atomic units and marks the protected ones.
func (o *Optimizer) segment(messages []models.Message) []unit {
	var units []unit
	for i := 0; i < len(messages); {
		end := i + 1
		if messages[i].Role == models.RoleAssistant && len(messages[i].ToolCalls) > 0 {
			for end < len(messages) && messages[end].Role == models.RoleTool {
				end++
			}
		}
		tokens := 0
		for j := i; j < end; j++ {
			tokens += o.estimator.CountMessage(messages[j])
		}
		units = append(units, unit{start: i, end: end, tokens: tokens})
		i = end
	}

	// Protect the first system message.
	for i := range units {
		if messages[units[i].start].Role == models.RoleSystem {
			units[i].protected = true
			break
		}
	}
	// Protect any unit overlapping the trailing window. A unit straddling
	// the window boundary is protected whole so pairs stay intact.
	cutoff := len(messages) - o.preserveRecent
	for i := range units {
		if units[i].end > cutoff {
			units[i].protected = true
		}
	}
	return units
}
