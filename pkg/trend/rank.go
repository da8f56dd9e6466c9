package trend

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/elonfeng/trendscore/internal/observability"
	"github.com/elonfeng/trendscore/pkg/score"
	"github.com/elonfeng/trendscore/pkg/source"
)

// Time windows accepted by ParseWindow.
var windows = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

// DefaultWindow is used when no window is given.
const DefaultWindow = 24 * time.Hour

// ParseWindow parses 1h, 6h, 24h or 7d. "all" disables the age filter.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return DefaultWindow, nil
	case "all":
		return 0, nil
	}
	if d, ok := windows[s]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown time window %q", s)
}

// Query selects and orders a ranking pass.
type Query struct {
	Sources []source.SourceType
	// Window drops items older than this, measured from their own
	// capture time. Zero keeps everything.
	Window       time.Duration
	HideRejected bool
	SortBy       score.SortKey
	UseCache     bool
	// Analyze judges items that have no judgment yet before scoring.
	Analyze             bool
	DetectCrossPlatform bool
}

// Result is a ranked list and how it was produced.
type Result struct {
	Trends             []score.ScoredTrend          `json:"trends"`
	Total              int                          `json:"total"`
	CrossPlatformCount int                          `json:"cross_platform_count"`
	Cached             bool                         `json:"cached,omitempty"`
	Degraded           bool                         `json:"degraded,omitempty"`
	Errors             map[source.SourceType]string `json:"errors,omitempty"`
	Analysis           *AnalyzeResult               `json:"analysis,omitempty"`
}

// Rank refreshes, optionally analyzes, scores, filters and sorts trends.
// It only fails when nothing at all can be returned; every other failure
// degrades the result instead.
func (e *Engine) Rank(ctx context.Context, q Query) (Result, error) {
	start := time.Now()
	defer func() { observability.RankDuration.Observe(time.Since(start).Seconds()) }()

	refresh, err := e.Refresh(ctx, q.Sources, q.UseCache)
	if err != nil {
		return Result{}, err
	}

	res := Result{Cached: refresh.Cached, Degraded: refresh.Degraded}
	for src, ferr := range refresh.Errors {
		if res.Errors == nil {
			res.Errors = make(map[source.SourceType]string)
		}
		res.Errors[src] = ferr.Error()
	}

	items := refresh.Items
	var scored []score.ScoredTrend

	if refresh.Degraded {
		scored = e.scoreBasic(items)
	} else {
		if q.Analyze && e.judge != nil {
			ar, err := e.Analyze(ctx, items, AnalyzeOptions{DetectCrossPlatform: q.DetectCrossPlatform, OnlyUnjudged: true})
			if err != nil {
				e.logger.Warn().Err(err).Msg("analysis failed, ranking with existing judgments")
			}
			res.Analysis = &ar
		}

		scored, err = e.scoreFull(ctx, items)
		if err != nil {
			e.logger.Warn().Err(err).Msg("load scoring inputs, falling back to basic scores")
			scored = e.scoreBasic(items)
			res.Degraded = true
		}
	}
	if res.Degraded {
		observability.RankDegraded.Inc()
	}

	scored = filter(scored, q, e.now())
	res.Trends = score.SortBySignal(scored, q.SortBy)
	res.Total = len(res.Trends)
	for _, t := range res.Trends {
		if t.CrossPlatform != nil && len(t.CrossPlatform.Platforms) >= 2 {
			res.CrossPlatformCount++
		}
	}
	recordTiers(res.Trends)
	return res, nil
}

func (e *Engine) scoreBasic(items []source.TrendItem) []score.ScoredTrend {
	return e.scorer.ScoreAll(items, func(string) score.Inputs { return score.Inputs{} })
}

func (e *Engine) scoreFull(ctx context.Context, items []source.TrendItem) ([]score.ScoredTrend, error) {
	ids := trendIDs(items)

	judgments, err := e.store.LatestJudgments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load judgments: %w", err)
	}
	snapshots, err := e.store.LatestSnapshots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	cross, err := e.store.LatestCrossPlatform(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load cross platform: %w", err)
	}
	saved, err := e.store.SavedSet(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load saved: %w", err)
	}

	return e.scorer.ScoreAll(items, func(id string) score.Inputs {
		var in score.Inputs
		if j, ok := judgments[id]; ok {
			in.Judgment = &j
		}
		if p, ok := snapshots[id]; ok {
			in.Snapshots = &p
		}
		if cp, ok := cross[id]; ok {
			in.CrossPlatform = &cp
		}
		in.Saved = saved[id]
		return in
	}), nil
}

func filter(list []score.ScoredTrend, q Query, now time.Time) []score.ScoredTrend {
	out := make([]score.ScoredTrend, 0, len(list))
	for _, t := range list {
		if len(q.Sources) > 0 && !slices.Contains(q.Sources, t.Source) {
			continue
		}
		if q.Window > 0 && now.Sub(t.Captured()) > q.Window {
			continue
		}
		if q.HideRejected && t.Rejected() {
			continue
		}
		out = append(out, t)
	}
	return out
}

func recordTiers(list []score.ScoredTrend) {
	counts := map[score.ValueTier]int{score.TierHigh: 0, score.TierMaybe: 0, score.TierSkip: 0, "": 0}
	for _, t := range list {
		counts[t.ValueTier]++
	}
	for tier, n := range counts {
		label := string(tier)
		if label == "" {
			label = "unscored"
		}
		observability.RankedTrends.WithLabelValues(label).Set(float64(n))
	}
}
