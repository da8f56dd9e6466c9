// Package store persists trend items, snapshots, judgments, cross-platform
// groupings, bookmarks and LLM usage.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/elonfeng/trendscore/pkg/score"
	"github.com/elonfeng/trendscore/pkg/source"
)

// ErrNotFound is returned when a trend id is unknown.
var ErrNotFound = errors.New("not found")

// DefaultCacheTTL is how long a cached fetch is considered fresh.
const DefaultCacheTTL = time.Hour

// TrendCache holds the last successful fetch of every source.
type TrendCache interface {
	CacheTrends(ctx context.Context, items []source.TrendItem, fetchedAt time.Time) error
	// CachedTrends returns items fetched within maxAge, by engagement
	// descending. An empty sources slice means all sources; a zero maxAge
	// means no age limit.
	CachedTrends(ctx context.Context, sources []source.SourceType, maxAge time.Duration) ([]source.TrendItem, error)
}

// SnapshotStore is an append-only log of engagement snapshots.
type SnapshotStore interface {
	AppendSnapshots(ctx context.Context, items []source.TrendItem, at time.Time) error
	// LatestSnapshots returns the two most recent snapshots per trend. Trends
	// with fewer than two snapshots are absent from the map.
	LatestSnapshots(ctx context.Context, ids []string) (map[string]score.SnapshotPair, error)
}

// JudgmentStore keeps one judgment per trend per analysis run.
type JudgmentStore interface {
	SaveJudgments(ctx context.Context, runID string, judgments map[string]score.Judgment, at time.Time) error
	// LatestJudgments returns the most recent judgment per trend.
	LatestJudgments(ctx context.Context, ids []string) (map[string]score.Judgment, error)
}

// CrossPlatformStore keeps the result of the latest cross-platform detection.
type CrossPlatformStore interface {
	// SaveCrossPlatform replaces every stored grouping with index.
	SaveCrossPlatform(ctx context.Context, runID string, index map[string]score.CrossPlatform, at time.Time) error
	LatestCrossPlatform(ctx context.Context, ids []string) (map[string]score.CrossPlatform, error)
}

// BookmarkStore tracks user-saved trends.
type BookmarkStore interface {
	// SetSaved returns ErrNotFound if the trend was never cached.
	SetSaved(ctx context.Context, id string, saved bool) error
	SavedSet(ctx context.Context, ids []string) (map[string]bool, error)
}

// UsageStore records LLM calls for cost tracking.
type UsageStore interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
	UsageSummary(ctx context.Context, now time.Time) (UsageSummary, error)
}

// Store is the full persistence interface.
type Store interface {
	TrendCache
	SnapshotStore
	JudgmentStore
	CrossPlatformStore
	BookmarkStore
	UsageStore

	Close() error
}

// UsageRecord is one call to the judgment service.
type UsageRecord struct {
	Provider     string    `db:"provider" json:"provider"`
	Model        string    `db:"model" json:"model"`
	Operation    string    `db:"operation" json:"operation"`
	InputTokens  int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens int       `db:"output_tokens" json:"output_tokens"`
	CostUSD      float64   `db:"cost_usd" json:"cost_usd"`
	At           time.Time `db:"-" json:"at"`
}

// UsageTotals aggregates usage over a period.
type UsageTotals struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (t *UsageTotals) add(r UsageRecord) {
	t.Calls++
	t.InputTokens += r.InputTokens
	t.OutputTokens += r.OutputTokens
	t.CostUSD += r.CostUSD
}

// UsageSummary is the usage of the current day, the last seven days and the
// current month. ByModel covers the month.
type UsageSummary struct {
	Today   UsageTotals            `json:"today"`
	Week    UsageTotals            `json:"week"`
	Month   UsageTotals            `json:"month"`
	ByModel map[string]UsageTotals `json:"by_model"`
}

// usagePeriods returns the start of today, of the rolling week and of the
// month containing now, in now's location.
func usagePeriods(now time.Time) (day, week, month time.Time) {
	y, m, d := now.Date()
	day = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	week = now.Add(-7 * 24 * time.Hour)
	month = time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return day, week, month
}

func summarize(records []UsageRecord, now time.Time) UsageSummary {
	day, week, month := usagePeriods(now)
	sum := UsageSummary{ByModel: make(map[string]UsageTotals)}
	for _, r := range records {
		if !r.At.Before(day) {
			sum.Today.add(r)
		}
		if !r.At.Before(week) {
			sum.Week.add(r)
		}
		if !r.At.Before(month) {
			sum.Month.add(r)
			t := sum.ByModel[r.Model]
			t.add(r)
			sum.ByModel[r.Model] = t
		}
	}
	return sum
}

// earliest is the lower bound a summary has to read from.
func earliest(now time.Time) time.Time {
	_, week, month := usagePeriods(now)
	if week.Before(month) {
		return week
	}
	return month
}
