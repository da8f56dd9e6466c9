package source

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"
)

const productHuntFeedURL = "https://www.producthunt.com/feed"

// ProductHunt collects the day's launches from the public Product Hunt feed.
// The feed carries no vote counts, so engagement stays zero.
type ProductHunt struct {
	client  *resty.Client
	parser  *gofeed.Parser
	feedURL string
	limit   int
}

// NewProductHunt creates a new Product Hunt collector.
func NewProductHunt(limit int) *ProductHunt {
	if limit <= 0 {
		limit = 15
	}
	return &ProductHunt{
		client:  newClient(),
		parser:  gofeed.NewParser(),
		feedURL: productHuntFeedURL,
		limit:   limit,
	}
}

func (p *ProductHunt) Name() SourceType { return SourceProductHunt }

func (p *ProductHunt) Collect(ctx context.Context) ([]TrendItem, error) {
	resp, err := p.client.R().SetContext(ctx).Get(p.feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch producthunt feed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("producthunt status %d", resp.StatusCode())
	}

	feed, err := p.parser.ParseString(resp.String())
	if err != nil {
		return nil, fmt.Errorf("parse producthunt feed: %w", err)
	}

	var items []TrendItem
	for _, entry := range feed.Items {
		if len(items) >= p.limit {
			break
		}
		if entry.Title == "" {
			continue
		}

		published := firstTime(entry.PublishedParsed, entry.UpdatedParsed, feed.PublishedParsed, feed.UpdatedParsed)
		if published == nil {
			continue
		}

		author := "Product Hunt"
		if entry.Author != nil && entry.Author.Name != "" {
			author = entry.Author.Name
		}

		items = append(items, TrendItem{
			ID:         "ph-" + slugify(entry.Title, 80),
			Source:     SourceProductHunt,
			Title:      entry.Title,
			URL:        entry.Link,
			CapturedAt: published.Unix(),
			Author:     author,
			Extra: map[string]any{
				"categories":  entry.Categories,
				"description": truncate(entry.Description, 300),
			},
		})
	}
	return items, nil
}

// firstTime returns the first non-nil time.
func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil {
			return t
		}
	}
	return nil
}
