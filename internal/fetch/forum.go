package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"newscast/internal/model"
)

const forumBaseURL = "https://www.reddit.com"

type forumListing struct {
	Data struct {
		Children []struct {
			Data forumPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type forumPost struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	SelfText   string  `json:"selftext"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
	Stickied   bool    `json:"stickied"`
}

type forumCommentListing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data struct {
				Body string `json:"body"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// fetchForum pulls a ranked community listing, optionally appending top
// comments to each post's content.
func (f *Fetcher) fetchForum(ctx context.Context, src model.Source) ([]model.Article, error) {
	community, err := resolveCommunity(src.Community)
	if err != nil {
		return nil, err
	}

	listURL, err := forumListingURL(community, src.Sort, f.maxForumPosts)
	if err != nil {
		return nil, err
	}

	body, err := f.get(ctx, listURL)
	if err != nil {
		return nil, err
	}

	var listing forumListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("parse forum listing: %w", err)
	}

	var articles []model.Article
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied || post.Title == "" {
			continue
		}

		content := post.SelfText
		if content == "" {
			content = post.Title
		}

		if src.IncludeComments && post.Permalink != "" {
			comments, err := f.fetchTopComments(ctx, post.Permalink)
			if err != nil {
				f.log.Debug("fetch comments", "permalink", post.Permalink, "error", err)
			} else if len(comments) > 0 {
				content += "\n\nTop comments:\n" + strings.Join(comments, "\n")
			}
		}

		link := post.URL
		if link == "" {
			link = forumBaseURL + post.Permalink
		}

		published := time.Unix(int64(post.CreatedUTC), 0).UTC()
		articles = append(articles, model.Article{
			Title:       post.Title,
			URL:         NormalizeURL(link),
			Content:     content,
			PublishedAt: &published,
		})
	}
	return articles, nil
}

// fetchTopComments returns up to maxComments top-level comments, each
// truncated to commentMaxLen.
func (f *Fetcher) fetchTopComments(ctx context.Context, permalink string) ([]string, error) {
	commentURL := fmt.Sprintf("%s%s.json?limit=%d&sort=top", forumBaseURL, strings.TrimSuffix(permalink, "/"), f.maxComments)
	body, err := f.get(ctx, commentURL)
	if err != nil {
		return nil, err
	}

	// The comments endpoint returns [postListing, commentListing].
	var pages []json.RawMessage
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, fmt.Errorf("parse comment pages: %w", err)
	}
	if len(pages) < 2 {
		return nil, nil
	}

	var listing forumCommentListing
	if err := json.Unmarshal(pages[1], &listing); err != nil {
		return nil, fmt.Errorf("parse comment listing: %w", err)
	}

	var comments []string
	for _, child := range listing.Data.Children {
		if child.Kind != "t1" || child.Data.Body == "" {
			continue
		}
		comments = append(comments, "- "+truncateRunes(child.Data.Body, f.commentMaxLen))
		if len(comments) >= f.maxComments {
			break
		}
	}
	return comments, nil
}

// truncateRunes shortens s to at most max runes, never splitting a
// multibyte character.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

// resolveCommunity accepts a bare name, an "r/name" form, or a full URL and
// returns the bare community name.
func resolveCommunity(raw string) (string, error) {
	name := strings.TrimSpace(raw)

	if strings.Contains(name, "://") {
		u, err := url.Parse(name)
		if err != nil {
			return "", fmt.Errorf("parse community url: %w", err)
		}
		name = u.Path
	}

	name = strings.Trim(name, "/")
	name = strings.TrimPrefix(name, "r/")
	name = strings.Trim(name, "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}

	if name == "" {
		return "", fmt.Errorf("empty community name in %q", raw)
	}
	return name, nil
}

// forumListingURL maps a sort order to the community's JSON listing endpoint.
func forumListingURL(community string, sort model.ForumSort, limit int) (string, error) {
	var listing, period string
	switch sort {
	case model.ForumHot, "":
		listing = "hot"
	case model.ForumNew:
		listing = "new"
	case model.ForumTopDay:
		listing, period = "top", "day"
	case model.ForumTopWeek:
		listing, period = "top", "week"
	case model.ForumTopMonth:
		listing, period = "top", "month"
	default:
		return "", fmt.Errorf("unknown forum sort %q", sort)
	}

	u := fmt.Sprintf("%s/r/%s/%s.json?limit=%d", forumBaseURL, community, listing, limit)
	if period != "" {
		u += "&t=" + period
	}
	return u, nil
}
