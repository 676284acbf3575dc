// Package doctools registers the pure document-analysis tools: quality
// scoring, topic extraction, and completeness checks. All handlers are
// deterministic functions of their arguments with no side effects.
package doctools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/docsage/docsage/internal/tools"
)

// Register adds the document-analysis tools to the registry.
func Register(reg *tools.Registry) error {
	defs := []tools.FunctionDefinition{
		{
			Name:        "analyze_document_quality",
			Description: "Scores a document on readability, structure, and link density, returning per-metric values and an overall grade.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string", "description": "Full document text"},
					"metrics": {
						"type": "array",
						"items": {"type": "string", "enum": ["readability", "structure", "links", "length"]},
						"description": "Restrict output to these metrics"
					}
				},
				"required": ["content"]
			}`),
			Handler: analyzeQuality,
		},
		{
			Name:        "extract_document_topics",
			Description: "Extracts the main topics of a document from its headings and most frequent terms.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string"},
					"max_topics": {"type": "integer", "minimum": 1, "maximum": 25}
				},
				"required": ["content"]
			}`),
			Handler: extractTopics,
		},
		{
			Name:        "check_document_completeness",
			Description: "Checks a document against the expected sections for its type (readme, guide, api) and reports what is missing.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string"},
					"template_type": {"type": "string", "enum": ["readme", "guide", "api"]}
				},
				"required": ["content"]
			}`),
			Handler: checkCompleteness,
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

var (
	headingPattern   = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	codeFencePattern = regexp.MustCompile("(?m)^```")
	linkPattern      = regexp.MustCompile(`\[[^\]]*\]\([^)]+\)`)
	sentenceSplit    = regexp.MustCompile(`[.!?]+\s`)
	wordPattern      = regexp.MustCompile(`[A-Za-z][A-Za-z0-9'-]*`)
)

type qualityArgs struct {
	Content string   `json:"content"`
	Metrics []string `json:"metrics"`
}

func analyzeQuality(ctx context.Context, raw json.RawMessage) (any, error) {
	var args qualityArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	words := wordPattern.FindAllString(args.Content, -1)
	sentences := sentenceSplit.Split(strings.TrimSpace(args.Content), -1)
	headings := headingPattern.FindAllString(args.Content, -1)
	fences := len(codeFencePattern.FindAllString(args.Content, -1)) / 2
	links := len(linkPattern.FindAllString(args.Content, -1))

	avgSentence := 0.0
	if n := nonEmptyCount(sentences); n > 0 {
		avgSentence = float64(len(words)) / float64(n)
	}

	all := map[string]any{
		"readability": map[string]any{
			"avg_sentence_length": round1(avgSentence),
			// Long sentences read worse; 20 words is the comfortable ceiling.
			"score": round1(clamp(100-4*(avgSentence-20), 0, 100)),
		},
		"structure": map[string]any{
			"headings":    len(headings),
			"code_blocks": fences,
			"score":       round1(clamp(float64(len(headings))*15+float64(fences)*10, 0, 100)),
		},
		"links": map[string]any{
			"count": links,
			"score": round1(clamp(float64(links)*20, 0, 100)),
		},
		"length": map[string]any{
			"words": len(words),
			"score": round1(clamp(float64(len(words))/3, 0, 100)),
		},
	}

	selected := all
	if len(args.Metrics) > 0 {
		selected = map[string]any{}
		for _, m := range args.Metrics {
			if v, ok := all[m]; ok {
				selected[m] = v
			}
		}
	}

	total, n := 0.0, 0
	for _, v := range selected {
		if m, ok := v.(map[string]any); ok {
			if s, ok := m["score"].(float64); ok {
				total += s
				n++
			}
		}
	}
	overall := 0.0
	if n > 0 {
		overall = total / float64(n)
	}

	return map[string]any{
		"metrics": selected,
		"overall": round1(overall),
		"grade":   grade(overall),
	}, nil
}

func grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

type topicsArgs struct {
	Content   string `json:"content"`
	MaxTopics int    `json:"max_topics"`
}

func extractTopics(ctx context.Context, raw json.RawMessage) (any, error) {
	var args topicsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	limit := args.MaxTopics
	if limit <= 0 {
		limit = 5
	}

	seen := map[string]bool{}
	var topics []string
	add := func(topic string) {
		topic = strings.TrimSpace(topic)
		key := strings.ToLower(topic)
		if topic != "" && !seen[key] && len(topics) < limit {
			seen[key] = true
			topics = append(topics, topic)
		}
	}

	// Headings first: authors already named their topics there.
	for _, m := range headingPattern.FindAllStringSubmatch(args.Content, -1) {
		add(m[1])
	}

	// Then frequent terms from the body.
	freq := map[string]int{}
	for _, w := range wordPattern.FindAllString(args.Content, -1) {
		w = strings.ToLower(w)
		if len(w) < 4 || stopwords[w] {
			continue
		}
		freq[w]++
	}
	terms := make([]string, 0, len(freq))
	for w := range freq {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	for _, w := range terms {
		if freq[w] < 2 {
			break
		}
		add(w)
	}

	return map[string]any{"topics": topics, "count": len(topics)}, nil
}

type completenessArgs struct {
	Content      string `json:"content"`
	TemplateType string `json:"template_type"`
}

// expectedSections lists the section names a complete document of each type
// should mention in a heading.
var expectedSections = map[string][]string{
	"readme": {"installation", "usage", "contributing", "license"},
	"guide":  {"overview", "prerequisites", "steps", "troubleshooting"},
	"api":    {"authentication", "endpoints", "errors", "examples"},
}

func checkCompleteness(ctx context.Context, raw json.RawMessage) (any, error) {
	var args completenessArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	templateType := args.TemplateType
	if templateType == "" {
		templateType = "readme"
	}
	expected := expectedSections[templateType]

	var headings []string
	for _, m := range headingPattern.FindAllStringSubmatch(args.Content, -1) {
		headings = append(headings, strings.ToLower(m[1]))
	}

	var present, missing []string
	for _, want := range expected {
		found := false
		for _, h := range headings {
			if strings.Contains(h, want) {
				found = true
				break
			}
		}
		if found {
			present = append(present, want)
		} else {
			missing = append(missing, want)
		}
	}

	hasTitle := len(headings) > 0 && strings.HasPrefix(strings.TrimSpace(args.Content), "#")
	score := 0.0
	if len(expected) > 0 {
		score = float64(len(present)) / float64(len(expected)) * 100
	}

	return map[string]any{
		"template_type":    templateType,
		"has_title":        hasTitle,
		"present_sections": present,
		"missing_sections": missing,
		"completeness":     round1(score),
		"summary":          fmt.Sprintf("%d of %d expected sections present", len(present), len(expected)),
	}, nil
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "your": true, "when": true, "then": true, "them": true,
	"they": true, "there": true, "their": true, "about": true, "which": true,
	"been": true, "these": true, "those": true, "into": true, "more": true,
	"some": true, "such": true, "only": true, "also": true, "each": true,
}

func nonEmptyCount(parts []string) int {
	n := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
