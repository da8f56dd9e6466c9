package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const ytBaseURL = "https://www.googleapis.com/youtube/v3"

// DefaultYouTubeQueries are searched when the config lists none.
var DefaultYouTubeQueries = []string{"AI tools", "crypto trading bot", "vibe coding", "make money with AI"}

// ErrMissingAPIKey is returned by adapters that cannot run without a key.
var ErrMissingAPIKey = errors.New("api key required")

// YouTube collects the most viewed recent videos for a set of queries.
type YouTube struct {
	client  *resty.Client
	baseURL string
	apiKey  string
	queries []string
	limit   int
}

// NewYouTube creates a new YouTube collector.
func NewYouTube(apiKey string, queries []string, limit int) *YouTube {
	if len(queries) == 0 {
		queries = DefaultYouTubeQueries
	}
	if limit <= 0 {
		limit = 20
	}
	return &YouTube{
		client:  newClient(),
		baseURL: ytBaseURL,
		apiKey:  apiKey,
		queries: queries,
		limit:   limit,
	}
}

func (y *YouTube) Name() SourceType { return SourceYouTube }

func (y *YouTube) Collect(ctx context.Context) ([]TrendItem, error) {
	if y.apiKey == "" {
		return nil, fmt.Errorf("youtube: %w (set YOUTUBE_API_KEY)", ErrMissingAPIKey)
	}

	items, err := y.search(ctx, strings.Join(y.queries, "|"))
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		if err := y.enrichWithStats(ctx, items); err != nil {
			return items, err
		}
	}
	return items, nil
}

func (y *YouTube) search(ctx context.Context, query string) ([]TrendItem, error) {
	var result ytSearchResult
	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"part":           "snippet",
			"q":              query,
			"type":           "video",
			"order":          "viewCount",
			"publishedAfter": time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339),
			"maxResults":     fmt.Sprintf("%d", y.limit),
			"key":            y.apiKey,
		}).
		SetResult(&result).
		ForceContentType("application/json").
		Get(y.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("fetch youtube search: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("youtube search status %d", resp.StatusCode())
	}

	var items []TrendItem
	for _, item := range result.Items {
		videoID := item.ID.VideoID
		if videoID == "" {
			continue
		}

		items = append(items, TrendItem{
			ID:         "yt-" + videoID,
			Source:     SourceYouTube,
			Title:      item.Snippet.Title,
			URL:        "https://www.youtube.com/watch?v=" + videoID,
			CapturedAt: item.Snippet.PublishedAt.Unix(),
			Author:     item.Snippet.ChannelTitle,
			Extra: map[string]any{
				"description": truncate(item.Snippet.Description, 500),
			},
		})
	}
	return items, nil
}

// enrichWithStats fills view and comment counts, which search does not return.
func (y *YouTube) enrichWithStats(ctx context.Context, items []TrendItem) error {
	idx := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for i, item := range items {
		id := strings.TrimPrefix(item.ID, "yt-")
		idx[id] = i
		ids = append(ids, id)
	}

	var errs []error
	for start := 0; start < len(ids); start += 50 {
		end := min(start+50, len(ids))

		var result ytVideoResult
		resp, err := y.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"part": "statistics",
				"id":   strings.Join(ids[start:end], ","),
				"key":  y.apiKey,
			}).
			SetResult(&result).
			ForceContentType("application/json").
			Get(y.baseURL + "/videos")
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch youtube stats: %w", err))
			continue
		}
		if resp.StatusCode() != 200 {
			errs = append(errs, fmt.Errorf("youtube stats status %d", resp.StatusCode()))
			continue
		}

		for _, video := range result.Items {
			if i, ok := idx[video.ID]; ok {
				items[i].Engagement = video.Statistics.ViewCount
				items[i].Comments = video.Statistics.CommentCount
			}
		}
	}
	return errors.Join(errs...)
}

type ytSearchResult struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet ytSnippet `json:"snippet"`
	} `json:"items"`
}

type ytSnippet struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChannelTitle string    `json:"channelTitle"`
	PublishedAt  time.Time `json:"publishedAt"`
}

type ytVideoResult struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount    int `json:"viewCount,string"`
			CommentCount int `json:"commentCount,string"`
		} `json:"statistics"`
	} `json:"items"`
}
