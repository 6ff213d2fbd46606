package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"newscast/internal/model"
)

// TextGenerator is the narrow text-generation contract the ranker needs.
type TextGenerator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMRanker asks the text-generation provider to pick the articles most
// relevant to an interest prompt, with a one-line justification each.
type LLMRanker struct {
	gen TextGenerator
}

// NewLLMRanker creates an LLMRanker.
func NewLLMRanker(gen TextGenerator) *LLMRanker {
	return &LLMRanker{gen: gen}
}

// summaryMaxLen caps each article summary embedded in the ranking prompt.
const summaryMaxLen = 400

const rankerSystemPrompt = `You are a content curator. Given a numbered list of articles and a description of the reader's interests, pick the most relevant articles.
Respond with a JSON array only, no prose: [{"url": "...", "reason": "one line why this fits"}].
Use only URLs that appear in the list. Pick at most the requested number.`

// Rank returns the provider's selection. URLs are passed through as-is;
// validation against the surviving set is the caller's job.
func (r *LLMRanker) Rank(ctx context.Context, articles []model.Article, interestPrompt string, max int) ([]model.Selection, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Reader interests: %s\n\nPick at most %d articles from this list:\n\n", interestPrompt, max)
	for i, a := range articles {
		fmt.Fprintf(&b, "%d. %s\nURL: %s\nSummary: %s\n\n", i+1, a.Title, a.URL, truncate(a.Content, summaryMaxLen))
	}

	raw, err := r.gen.Complete(ctx, rankerSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var selections []model.Selection
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &selections); err != nil {
		return nil, fmt.Errorf("parse ranker response: %w", err)
	}
	return selections, nil
}

// stripCodeFences removes a surrounding markdown code fence, if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// truncate shortens s to at most max runes, never splitting a multibyte
// character.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
