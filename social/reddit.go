// Package social fetches community posts used as supplemental sentiment
// input for the analyst.
package social

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kenyonj/auto-investor/models"
)

const userAgent = "auto-investor/1.0 (RSS reader)"

// RedditClient fetches recent posts from trading/investing subreddits via
// their Atom feeds. No API key required.
type RedditClient struct {
	client     *resty.Client
	subreddits []string
}

// NewRedditClient creates a reddit feed client for the given subreddits.
func NewRedditClient(subreddits []string) *RedditClient {
	client := resty.New().
		SetBaseURL("https://www.reddit.com").
		SetTimeout(10*time.Second).
		SetHeader("User-Agent", userAgent)

	return &RedditClient{
		client:     client,
		subreddits: subreddits,
	}
}

// atomFeed is the subset of the Atom schema the feeds actually use.
type atomFeed struct {
	Entries []struct {
		Title   string `xml:"title"`
		Updated string `xml:"updated"`
		Content string `xml:"content"`
	} `xml:"entry"`
}

// GetPosts fetches recent posts from all configured subreddits, newest
// first. A failing subreddit is skipped; only when every feed fails does
// the call return an error.
func (c *RedditClient) GetPosts(ctx context.Context, limit int) ([]models.NewsArticle, error) {
	var articles []models.NewsArticle
	failed := 0
	for _, sub := range c.subreddits {
		posts, err := c.fetchSubreddit(ctx, sub, limit)
		if err != nil {
			log.Printf("⚠️ Failed to fetch r/%s: %v", sub, err)
			failed++
			continue
		}
		articles = append(articles, posts...)
	}
	if failed > 0 && failed == len(c.subreddits) {
		return nil, fmt.Errorf("all %d subreddit feeds failed", failed)
	}

	sort.Slice(articles, func(i, j int) bool {
		return articles[i].CreatedAt.After(articles[j].CreatedAt)
	})
	return articles, nil
}

func (c *RedditClient) fetchSubreddit(ctx context.Context, subreddit string, limit int) ([]models.NewsArticle, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/r/%s/.rss", subreddit))
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("feed error %d", resp.StatusCode())
	}

	return parseFeed(resp.Body(), subreddit, limit)
}

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// parseFeed converts an Atom feed into articles. Entries without a title
// are dropped; unparseable timestamps fall back to now.
func parseFeed(body []byte, subreddit string, limit int) ([]models.NewsArticle, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	entries := feed.Entries
	if len(entries) > limit {
		entries = entries[:limit]
	}

	articles := make([]models.NewsArticle, 0, len(entries))
	for _, entry := range entries {
		if entry.Title == "" {
			continue
		}

		created, err := time.Parse(time.RFC3339, entry.Updated)
		if err != nil {
			created = time.Now()
		}

		summary := htmlTagRe.ReplaceAllString(entry.Content, " ")
		summary = strings.TrimSpace(whitespaceRe.ReplaceAllString(summary, " "))
		if runes := []rune(summary); len(runes) > 300 {
			summary = string(runes[:300])
		}

		articles = append(articles, models.NewsArticle{
			Headline:  entry.Title,
			Summary:   summary,
			Source:    "r/" + subreddit,
			CreatedAt: created,
		})
	}
	return articles, nil
}
