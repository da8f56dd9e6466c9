package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// SourceType identifies which platform an item came from.
type SourceType string

const (
	SourceReddit      SourceType = "reddit"
	SourceHackerNews  SourceType = "hackernews"
	SourceYouTube     SourceType = "youtube"
	SourceProductHunt SourceType = "producthunt"
	SourceTwitter     SourceType = "twitter"
	SourcePolymarket  SourceType = "polymarket"
)

const userAgent = "trendscore/1.0"

// TrendItem is the normalized shape every adapter produces.
//
// ID is prefixed by source and derived only from the underlying item, so
// fetching the same item twice yields the same ID. CapturedAt is the
// platform's own creation time in unix seconds, not the fetch time.
type TrendItem struct {
	ID         string         `json:"id" db:"id"`
	Source     SourceType     `json:"source" db:"source"`
	Title      string         `json:"title" db:"title"`
	URL        string         `json:"url" db:"url"`
	Engagement int            `json:"engagement_score" db:"engagement"`
	Comments   int            `json:"comment_count" db:"comments"`
	CapturedAt int64          `json:"captured_at" db:"captured_at"`
	Author     string         `json:"author" db:"author"`
	Subreddit  string         `json:"subreddit,omitempty" db:"subreddit"`
	Extra      map[string]any `json:"extra,omitempty" db:"-"`
	ExtraJSON  string         `json:"-" db:"extra"`
}

// Captured returns CapturedAt as a time.
func (t TrendItem) Captured() time.Time {
	return time.Unix(t.CapturedAt, 0).UTC()
}

// Source is the interface every adapter must implement.
//
// Collect may return partial results together with an error; callers keep
// whatever items came back.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context) ([]TrendItem, error)
}

// AllSourceTypes returns all known source types in display order.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceReddit,
		SourceHackerNews,
		SourceYouTube,
		SourceProductHunt,
		SourceTwitter,
		SourcePolymarket,
	}
}

// ParseSourceTypes parses a comma separated list of source names. Short
// aliases (hn, yt, ph, x) are accepted. An empty list means all sources.
func ParseSourceTypes(csv string) ([]SourceType, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return AllSourceTypes(), nil
	}

	seen := make(map[SourceType]bool)
	var out []SourceType
	for _, part := range strings.Split(csv, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		st, ok := aliases[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", part)
		}
		if !seen[st] {
			seen[st] = true
			out = append(out, st)
		}
	}
	return out, nil
}

var aliases = map[string]SourceType{
	"reddit":      SourceReddit,
	"hackernews":  SourceHackerNews,
	"hn":          SourceHackerNews,
	"youtube":     SourceYouTube,
	"yt":          SourceYouTube,
	"producthunt": SourceProductHunt,
	"ph":          SourceProductHunt,
	"twitter":     SourceTwitter,
	"x":           SourceTwitter,
	"polymarket":  SourcePolymarket,
}

func newClient() *resty.Client {
	return resty.New().
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", userAgent)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases s and collapses every non-alphanumeric run into a dash.
func slugify(s string, max int) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if max > 0 && len(slug) > max {
		slug = strings.Trim(slug[:max], "-")
	}
	return slug
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
