package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"
)

// Twitter collects recent posts for a set of accounts via Nitter RSS.
type Twitter struct {
	client    *resty.Client
	parser    *gofeed.Parser
	nitterURL string
	accounts  []string
}

// NewTwitter creates a new Twitter/X collector using Nitter RSS.
func NewTwitter(nitterURL string, accounts []string) *Twitter {
	if nitterURL == "" {
		nitterURL = "https://nitter.net"
	}
	return &Twitter{
		client:    newClient(),
		parser:    gofeed.NewParser(),
		nitterURL: strings.TrimRight(nitterURL, "/"),
		accounts:  accounts,
	}
}

func (t *Twitter) Name() SourceType { return SourceTwitter }

func (t *Twitter) Collect(ctx context.Context) ([]TrendItem, error) {
	var (
		items []TrendItem
		errs  []error
	)
	for _, account := range t.accounts {
		got, err := t.collectAccount(ctx, account)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, got...)
	}
	return items, errors.Join(errs...)
}

func (t *Twitter) collectAccount(ctx context.Context, account string) ([]TrendItem, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s/%s/rss", t.nitterURL, account))
	if err != nil {
		return nil, fmt.Errorf("fetch twitter @%s: %w", account, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("twitter @%s status %d", account, resp.StatusCode())
	}

	feed, err := t.parser.ParseString(resp.String())
	if err != nil {
		return nil, fmt.Errorf("parse twitter @%s: %w", account, err)
	}

	var items []TrendItem
	cutoff := time.Now().Add(-24 * time.Hour)

	for _, entry := range feed.Items {
		if entry.PublishedParsed == nil || entry.PublishedParsed.Before(cutoff) {
			continue
		}

		guid := entry.GUID
		if guid == "" {
			guid = entry.Link
		}
		sum := sha1.Sum([]byte(guid))

		items = append(items, TrendItem{
			ID:         "twitter-" + hex.EncodeToString(sum[:8]),
			Source:     SourceTwitter,
			Title:      truncate(entry.Title, 280),
			URL:        strings.Replace(entry.Link, t.nitterURL, "https://x.com", 1),
			CapturedAt: entry.PublishedParsed.Unix(),
			Author:     account,
			Extra: map[string]any{
				"account": account,
			},
		})
	}
	return items, nil
}
