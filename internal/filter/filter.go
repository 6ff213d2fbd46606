// Package filter implements the article selection pipeline: keyword matching,
// persistent deduplication, and optional interest-based ranking.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"newscast/internal/model"
)

// keywordReason is the justification recorded when no ranker runs.
const keywordReason = "passed keyword filter"

// Ledger answers which article URLs a job has already incorporated.
type Ledger interface {
	RecordedURLs(ctx context.Context, jobID int64, urls []string) (map[string]bool, error)
}

// Ranker selects the most relevant articles for an interest prompt. nil
// disables ranking.
type Ranker interface {
	Rank(ctx context.Context, articles []model.Article, interestPrompt string, max int) ([]model.Selection, error)
}

// Pipeline runs the filter stages in their fixed order.
type Pipeline struct {
	ledger Ledger
	ranker Ranker
	log    *slog.Logger
}

// New creates a Pipeline. ranker may be nil.
func New(ledger Ledger, ranker Ranker, log *slog.Logger) *Pipeline {
	return &Pipeline{ledger: ledger, ranker: ranker, log: log}
}

// Select filters articles for a job and returns the chosen subset together
// with per-article justifications. Stage order is fixed: include keywords,
// exclude keywords, ledger dedup, then ranking (or recency-ordered first-N).
// The ledger is only read here; writes happen after a successful run.
func (p *Pipeline) Select(ctx context.Context, articles []model.Article, spec model.FilterSpec, jobID int64, maxArticles int) ([]model.Article, []model.Selection, error) {
	survivors := articles

	if len(spec.IncludeKeywords) > 0 {
		survivors = keep(survivors, func(a model.Article) bool {
			return matchesAny(a, spec.IncludeKeywords)
		})
	}
	if len(spec.ExcludeKeywords) > 0 {
		survivors = keep(survivors, func(a model.Article) bool {
			return !matchesAny(a, spec.ExcludeKeywords)
		})
	}

	survivors, err := p.dropRecorded(ctx, jobID, survivors)
	if err != nil {
		return nil, nil, err
	}
	if len(survivors) == 0 {
		return nil, nil, nil
	}

	if spec.InterestPrompt != "" && p.ranker != nil {
		return p.rank(ctx, survivors, spec.InterestPrompt, maxArticles)
	}

	if len(survivors) > maxArticles {
		survivors = survivors[:maxArticles]
	}
	meta := make([]model.Selection, len(survivors))
	for i, a := range survivors {
		meta[i] = model.Selection{Title: a.Title, URL: a.URL, Reason: keywordReason}
	}
	return survivors, meta, nil
}

// dropRecorded removes articles whose URL is already in the job's ledger.
func (p *Pipeline) dropRecorded(ctx context.Context, jobID int64, articles []model.Article) ([]model.Article, error) {
	if len(articles) == 0 {
		return nil, nil
	}
	urls := make([]string, len(articles))
	for i, a := range articles {
		urls[i] = a.URL
	}
	recorded, err := p.ledger.RecordedURLs(ctx, jobID, urls)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	return keep(articles, func(a model.Article) bool {
		return !recorded[a.URL]
	}), nil
}

// rank delegates selection to the ranker and validates its answer: only URLs
// from the surviving set are accepted, capped at maxArticles.
func (p *Pipeline) rank(ctx context.Context, survivors []model.Article, prompt string, maxArticles int) ([]model.Article, []model.Selection, error) {
	ranked, err := p.ranker.Rank(ctx, survivors, prompt, maxArticles)
	if err != nil {
		return nil, nil, fmt.Errorf("rank articles: %w", err)
	}

	byURL := make(map[string]model.Article, len(survivors))
	for _, a := range survivors {
		byURL[a.URL] = a
	}

	var selected []model.Article
	var meta []model.Selection
	for _, sel := range ranked {
		a, ok := byURL[sel.URL]
		if !ok {
			p.log.Warn("ranker returned unknown url", "url", sel.URL)
			continue
		}
		if sel.Title == "" {
			sel.Title = a.Title
		}
		selected = append(selected, a)
		meta = append(meta, sel)
		if len(selected) >= maxArticles {
			break
		}
	}
	return selected, meta, nil
}

func matchesAny(a model.Article, keywords []string) bool {
	haystack := strings.ToLower(a.Title + " " + a.Content)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func keep(articles []model.Article, pred func(model.Article) bool) []model.Article {
	var out []model.Article
	for _, a := range articles {
		if pred(a) {
			out = append(out, a)
		}
	}
	return out
}
