// Package feedbacktools registers the pure conversation and feedback
// analysis tools: summary, sentiment snapshot, and improvement suggestions.
package feedbacktools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/docsage/docsage/internal/tools"
)

// Register adds the feedback-analysis tools to the registry.
func Register(reg *tools.Registry) error {
	defs := []tools.FunctionDefinition{
		{
			Name:        "summarize_conversation",
			Description: "Produces a compact summary of a conversation: participant turns, questions raised, and the most recent exchange.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"messages": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"role": {"type": "string"},
								"content": {"type": "string"}
							},
							"required": ["role", "content"]
						}
					},
					"max_sentences": {"type": "integer", "minimum": 1, "maximum": 10}
				},
				"required": ["messages"]
			}`),
			Handler: summarizeConversation,
		},
		{
			Name:        "analyze_feedback_sentiment",
			Description: "Classifies a piece of feedback as positive, negative, or neutral with a confidence estimate.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"text": {"type": "string"}
				},
				"required": ["text"]
			}`),
			Handler: analyzeSentiment,
		},
		{
			Name:        "suggest_documentation_improvements",
			Description: "Derives concrete documentation improvement suggestions from feedback text and optional document content.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"feedback": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["feedback"]
			}`),
			Handler: suggestImprovements,
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

type conversationArgs struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxSentences int `json:"max_sentences"`
}

func summarizeConversation(ctx context.Context, raw json.RawMessage) (any, error) {
	var args conversationArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	byRole := map[string]int{}
	var questions []string
	for _, m := range args.Messages {
		byRole[m.Role]++
		if m.Role == "user" && strings.Contains(m.Content, "?") {
			q := m.Content
			if idx := strings.Index(q, "?"); idx >= 0 {
				q = q[:idx+1]
			}
			questions = append(questions, strings.TrimSpace(q))
		}
	}

	lastExchange := ""
	if n := len(args.Messages); n > 0 {
		last := args.Messages[n-1]
		lastExchange = fmt.Sprintf("%s: %s", last.Role, truncate(last.Content, 200))
	}

	return map[string]any{
		"message_count":  len(args.Messages),
		"turns_by_role":  byRole,
		"open_questions": questions,
		"last_exchange":  lastExchange,
	}, nil
}

var positiveWords = map[string]bool{
	"good": true, "great": true, "helpful": true, "clear": true, "excellent": true,
	"useful": true, "love": true, "easy": true, "thanks": true, "perfect": true,
	"nice": true, "works": true,
}

var negativeWords = map[string]bool{
	"bad": true, "confusing": true, "unclear": true, "wrong": true, "broken": true,
	"missing": true, "outdated": true, "hard": true, "difficult": true, "error": true,
	"useless": true, "frustrating": true, "incomplete": true,
}

var tokenPattern = regexp.MustCompile(`[A-Za-z']+`)

type sentimentArgs struct {
	Text string `json:"text"`
}

func analyzeSentiment(ctx context.Context, raw json.RawMessage) (any, error) {
	var args sentimentArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	pos, neg, total := 0, 0, 0
	for _, w := range tokenPattern.FindAllString(strings.ToLower(args.Text), -1) {
		total++
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}

	sentiment := "neutral"
	if pos > neg {
		sentiment = "positive"
	} else if neg > pos {
		sentiment = "negative"
	}

	confidence := 0.0
	if total > 0 {
		diff := pos - neg
		if diff < 0 {
			diff = -diff
		}
		confidence = float64(diff) / float64(total)
		if confidence > 1 {
			confidence = 1
		}
	}

	return map[string]any{
		"sentiment":      sentiment,
		"positive_hits":  pos,
		"negative_hits":  neg,
		"confidence":     confidence,
		"words_analyzed": total,
	}, nil
}

type improvementsArgs struct {
	Feedback string `json:"feedback"`
	Content  string `json:"content"`
}

// improvementRules maps feedback symptoms to concrete suggestions.
var improvementRules = []struct {
	symptoms   []string
	suggestion string
}{
	{[]string{"example", "examples", "sample"}, "Add worked examples with expected output."},
	{[]string{"confusing", "unclear", "hard to follow"}, "Restructure the section with numbered steps and shorter sentences."},
	{[]string{"outdated", "old", "deprecated"}, "Review the section against the current release and update version references."},
	{[]string{"missing", "incomplete", "lacks"}, "Audit the document against its template's expected sections and fill the gaps."},
	{[]string{"install", "setup", "getting started"}, "Verify the installation steps on a clean environment and note prerequisites."},
	{[]string{"typo", "spelling", "grammar"}, "Run a spelling and grammar pass over the document."},
}

func suggestImprovements(ctx context.Context, raw json.RawMessage) (any, error) {
	var args improvementsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	lower := strings.ToLower(args.Feedback)

	var suggestions []string
	for _, rule := range improvementRules {
		for _, symptom := range rule.symptoms {
			if strings.Contains(lower, symptom) {
				suggestions = append(suggestions, rule.suggestion)
				break
			}
		}
	}

	if args.Content != "" && !strings.Contains(args.Content, "```") {
		suggestions = append(suggestions, "Include code blocks for commands and configuration snippets.")
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, "No specific pattern matched; review the feedback manually.")
	}

	return map[string]any{
		"suggestions": suggestions,
		"count":       len(suggestions),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
