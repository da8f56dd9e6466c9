package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-resty/resty/v2"
)

const hnBaseURL = "https://hacker-news.firebaseio.com/v0"

// HackerNews collects top stories from Hacker News.
type HackerNews struct {
	client  *resty.Client
	baseURL string
	limit   int
}

// NewHackerNews creates a new HN collector.
func NewHackerNews(limit int) *HackerNews {
	if limit <= 0 {
		limit = 30
	}
	return &HackerNews{
		client:  newClient(),
		baseURL: hnBaseURL,
		limit:   limit,
	}
}

func (h *HackerNews) Name() SourceType { return SourceHackerNews }

func (h *HackerNews) Collect(ctx context.Context) ([]TrendItem, error) {
	ids, err := h.fetchTopStories(ctx)
	if err != nil {
		return nil, err
	}

	if len(ids) > h.limit {
		ids = ids[:h.limit]
	}

	// Results are written by index so output follows the top-stories order.
	stories := make([]*hnStory, len(ids))
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, 10) // concurrency limit
	)

	for i, id := range ids {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			story, err := h.fetchItem(ctx, id)
			if err != nil || story == nil {
				return
			}
			stories[i] = story
		}(i, id)
	}
	wg.Wait()

	var items []TrendItem
	for _, story := range stories {
		if story == nil {
			continue
		}
		item := TrendItem{
			ID:         fmt.Sprintf("hn-%d", story.ID),
			Source:     SourceHackerNews,
			Title:      story.Title,
			URL:        story.URL,
			Engagement: max(story.Score, 0),
			Comments:   max(story.Descendants, 0),
			CapturedAt: story.Time,
			Author:     story.By,
		}
		if item.URL == "" {
			item.URL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", story.ID)
		}
		items = append(items, item)
	}
	return items, nil
}

type hnStory struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Descendants int    `json:"descendants"`
	Type        string `json:"type"`
}

func (h *HackerNews) fetchTopStories(ctx context.Context) ([]int, error) {
	var ids []int
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&ids).
		ForceContentType("application/json").
		Get(h.baseURL + "/topstories.json")
	if err != nil {
		return nil, fmt.Errorf("fetch hn top stories: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("hn top stories status %d", resp.StatusCode())
	}
	return ids, nil
}

func (h *HackerNews) fetchItem(ctx context.Context, id int) (*hnStory, error) {
	var story hnStory
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&story).
		ForceContentType("application/json").
		Get(fmt.Sprintf("%s/item/%d.json", h.baseURL, id))
	if err != nil {
		return nil, fmt.Errorf("fetch hn item %d: %w", id, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("hn item %d status %d", id, resp.StatusCode())
	}

	if story.Type != "story" {
		return nil, nil
	}
	return &story, nil
}
