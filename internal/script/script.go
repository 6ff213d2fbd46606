// Package script turns selected articles into a validated two-host dialogue
// via the text-generation provider.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"newscast/internal/model"
	"newscast/internal/provider/llm"
)

const (
	// turnsPerMinute and wordsPerMinute size the requested dialogue.
	turnsPerMinute = 4
	wordsPerMinute = 150

	// perArticleContentCap bounds prompt size per article.
	perArticleContentCap = 4000

	// parseRetries is how many extra provider calls a malformed response earns.
	parseRetries = 2

	defaultTargetMinutes = 5
)

// TextGenerator is the narrow text-generation contract the aggregator needs.
type TextGenerator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Aggregator builds prompts and validates the structured dialogue.
type Aggregator struct {
	gen TextGenerator
	log *slog.Logger
}

// New creates an Aggregator.
func New(gen TextGenerator, log *slog.Logger) *Aggregator {
	return &Aggregator{gen: gen, log: log}
}

var styleInstructions = map[model.DialogueStyle]string{
	model.StyleNewsBrief:    "Keep it tight and informative, like a professional news brief. Host A anchors, host B adds context.",
	model.StyleCasual:       "Keep it light and conversational, like two friends catching up on the news over coffee.",
	model.StyleDeepAnalysis: "Go deep: host A summarizes, host B digs into implications, trade-offs, and second-order effects.",
	model.StyleTalkShow:     "Make it lively, like a talk show: playful banter, rhetorical questions, quick back-and-forth.",
}

// Generate produces the episode title and dialogue for the given articles.
// Malformed provider responses and provider timeouts are retried up to
// parseRetries times; rate-limit errors surface immediately and other
// provider errors are wrapped without retry.
func (a *Aggregator) Generate(ctx context.Context, articles []model.Article, gen model.GenerationSpec) (model.Script, error) {
	if len(articles) == 0 {
		return model.Script{}, fmt.Errorf("no articles to script")
	}

	system := a.systemPrompt(gen)
	user := a.userPrompt(articles, gen)

	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		raw, err := a.gen.Complete(ctx, system, user)
		if err != nil {
			if errors.Is(err, llm.ErrRateLimited) {
				return model.Script{}, err
			}
			if errors.Is(err, llm.ErrTimeout) {
				lastErr = err
				a.log.Warn("provider timed out", "attempt", attempt+1, "error", err)
				continue
			}
			return model.Script{}, fmt.Errorf("generate script: %w", err)
		}

		script, err := parseScript(raw)
		if err != nil {
			lastErr = err
			a.log.Warn("invalid script response", "attempt", attempt+1, "error", err)
			continue
		}
		return script, nil
	}
	return model.Script{}, fmt.Errorf("script generation failed after %d attempts: %w", parseRetries+1, lastErr)
}

func (a *Aggregator) systemPrompt(gen model.GenerationSpec) string {
	style, ok := styleInstructions[gen.Style]
	if !ok {
		style = styleInstructions[model.StyleNewsBrief]
	}

	language := `Detect the dominant language of the source articles and write the dialogue in that language.`
	if gen.Language != "" {
		language = fmt.Sprintf("Write the dialogue in %s.", gen.Language)
	}

	return fmt.Sprintf(`You write dialogue scripts for a two-host podcast. The hosts are called A and B.
%s
%s
Respond with JSON only, no prose and no markdown: {"title": "episode title", "dialogue": [{"speaker": "A", "text": "..."}, ...]}.
Speakers must alternate naturally and every line must be at most %d characters.`, style, language, model.MaxLineLength)
}

func (a *Aggregator) userPrompt(articles []model.Article, gen model.GenerationSpec) string {
	minutes := gen.TargetMinutes
	if minutes <= 0 {
		minutes = defaultTargetMinutes
	}
	turns := minutes * turnsPerMinute
	words := minutes * wordsPerMinute

	var b strings.Builder
	fmt.Fprintf(&b, "Write a dialogue of about %d turns (roughly %d words total, %d spoken words per minute) covering these articles:\n\n", turns, words, wordsPerMinute)
	for i, art := range articles {
		fmt.Fprintf(&b, "Article %d: %s\n%s\n\n", i+1, art.Title, truncate(art.Content, perArticleContentCap))
	}
	return b.String()
}

// parseScript accepts either a {title, dialogue} object or a bare dialogue
// array (the older response shape), with an optional markdown fence around
// the JSON, and validates every line.
func parseScript(raw string) (model.Script, error) {
	cleaned := stripCodeFences(raw)

	var script model.Script
	if err := json.Unmarshal([]byte(cleaned), &script); err != nil || len(script.Lines) == 0 {
		var lines []model.ScriptLine
		if err := json.Unmarshal([]byte(cleaned), &lines); err != nil {
			return model.Script{}, fmt.Errorf("response is neither a script object nor a dialogue array: %w", err)
		}
		script = model.Script{Lines: lines}
	}

	if len(script.Lines) == 0 {
		return model.Script{}, fmt.Errorf("dialogue is empty")
	}
	for i, line := range script.Lines {
		if line.Speaker != model.SpeakerA && line.Speaker != model.SpeakerB {
			return model.Script{}, fmt.Errorf("line %d: unknown speaker %q", i, line.Speaker)
		}
		if strings.TrimSpace(line.Text) == "" {
			return model.Script{}, fmt.Errorf("line %d: empty text", i)
		}
		// The cap is characters, not bytes; multibyte scripts must not
		// trip it early.
		if utf8.RuneCountInString(line.Text) > model.MaxLineLength {
			return model.Script{}, fmt.Errorf("line %d: text exceeds %d characters", i, model.MaxLineLength)
		}
	}
	return script, nil
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
