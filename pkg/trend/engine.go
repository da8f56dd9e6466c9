// Package trend runs the refresh, analysis and ranking pipeline on top of
// the pure scoring in package score.
package trend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elonfeng/trendscore/internal/observability"
	"github.com/elonfeng/trendscore/internal/store"
	"github.com/elonfeng/trendscore/pkg/score"
	"github.com/elonfeng/trendscore/pkg/source"
)

// CrossPlatformMinItems is the number of items a cycle must exceed before
// cross-platform detection is attempted.
const CrossPlatformMinItems = 10

// EngineConfig tunes the pipeline.
type EngineConfig struct {
	CacheTTL  time.Duration
	BatchSize int
}

// Engine ties sources, storage, the judge and the scorer together.
type Engine struct {
	store   store.Store
	sources []source.Source
	judge   Judge // optional, nil = basic scoring only
	scorer  *score.Scorer
	logger  *zerolog.Logger

	cacheTTL  time.Duration
	batchSize int

	now   func() time.Time
	runID func() string
}

// NewEngine creates a pipeline. judge may be nil.
func NewEngine(cfg EngineConfig, st store.Store, sources []source.Source, judge Judge, scorer *score.Scorer, logger *zerolog.Logger) *Engine {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = store.DefaultCacheTTL
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if scorer == nil {
		scorer = score.NewScorer()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{
		store:     st,
		sources:   sources,
		judge:     judge,
		scorer:    scorer,
		logger:    logger,
		cacheTTL:  cfg.CacheTTL,
		batchSize: cfg.BatchSize,
		now:       time.Now,
		runID:     func() string { return uuid.NewString() },
	}
}

// SetClock overrides the clock used for snapshots, scoring and windows.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.scorer.Now = now
}

// HasJudge reports whether analysis is available.
func (e *Engine) HasJudge() bool { return e.judge != nil }

// Sources returns the names of the configured sources.
func (e *Engine) Sources() []source.SourceType {
	out := make([]source.SourceType, 0, len(e.sources))
	for _, s := range e.sources {
		out = append(out, s.Name())
	}
	return out
}

// RefreshResult is the outcome of one aggregation cycle.
type RefreshResult struct {
	Items []source.TrendItem
	// Cached is set when Items came from the trend cache.
	Cached bool
	// Degraded is set when live fetching produced nothing and Items is the
	// last known cached set regardless of age.
	Degraded bool
	Errors   map[source.SourceType]error
}

// Refresh runs one aggregation cycle for the given sources (all when empty).
// With useCache a fresh cached set is returned without fetching. Every
// cycle appends one snapshot per item.
func (e *Engine) Refresh(ctx context.Context, types []source.SourceType, useCache bool) (RefreshResult, error) {
	res := RefreshResult{Errors: make(map[source.SourceType]error)}

	if useCache {
		cached, err := e.store.CachedTrends(ctx, types, e.cacheTTL)
		if err != nil {
			e.logger.Warn().Err(err).Msg("read trend cache")
		}
		if len(cached) > 0 {
			observability.CacheHits.Inc()
			res.Items = cached
			res.Cached = true
			e.appendSnapshots(ctx, res.Items)
			return res, nil
		}
	}

	selected := e.selectSources(types)
	fetch := source.Aggregate(ctx, selected)
	for _, src := range selected {
		name := src.Name()
		status := "ok"
		if err := fetch.Errors[name]; err != nil {
			status = "error"
			res.Errors[name] = err
			e.logger.Warn().Err(err).Str("source", string(name)).Msg("source fetch failed")
		}
		observability.SourceFetches.WithLabelValues(string(name), status).Inc()
		observability.SourceItems.WithLabelValues(string(name)).Set(float64(fetch.Counts[name]))
		observability.SourceFetchDuration.WithLabelValues(string(name)).Observe(fetch.Duration[name].Seconds())
	}

	if fetch.Failed() {
		res.Cached = true
		res.Degraded = true
		cached, err := e.store.CachedTrends(ctx, types, 0)
		if err != nil {
			e.logger.Warn().Err(err).Msg("all sources failed and cache unavailable")
			return res, nil
		}
		res.Items = cached
		return res, nil
	}

	res.Items = fetch.Items
	now := e.now()
	if err := e.store.CacheTrends(ctx, res.Items, now); err != nil {
		e.logger.Warn().Err(err).Msg("write trend cache")
	}
	e.appendSnapshots(ctx, res.Items)

	e.logger.Info().Int("items", len(res.Items)).Int("failed_sources", len(res.Errors)).Msg("refresh complete")
	return res, nil
}

func (e *Engine) appendSnapshots(ctx context.Context, items []source.TrendItem) {
	if err := e.store.AppendSnapshots(ctx, items, e.now()); err != nil {
		e.logger.Warn().Err(err).Msg("append snapshots")
	}
}

func (e *Engine) selectSources(types []source.SourceType) []source.Source {
	if len(types) == 0 {
		return e.sources
	}
	var out []source.Source
	for _, s := range e.sources {
		if slices.Contains(types, s.Name()) {
			out = append(out, s)
		}
	}
	return out
}

// AnalyzeOptions controls one analysis run.
type AnalyzeOptions struct {
	DetectCrossPlatform bool
	// OnlyUnjudged skips items that already have a judgment.
	OnlyUnjudged bool
}

// AnalyzeResult summarizes an analysis run.
type AnalyzeResult struct {
	RunID         string  `json:"run_id"`
	Analyzed      int     `json:"analyzed"`
	Batches       int     `json:"batches"`
	FailedBatches int     `json:"failed_batches"`
	CrossPlatform int     `json:"cross_platform_groups"`
	CostUSD       float64 `json:"cost_usd"`
	Errors        []error `json:"-"`
}

// Analyze judges items in batches, unjudged items first, and persists the
// results under one run id. A failed batch only loses its own judgments.
// Cross-platform detection runs once over all items when requested and
// there are more than CrossPlatformMinItems; its failure is not an error.
func (e *Engine) Analyze(ctx context.Context, items []source.TrendItem, opts AnalyzeOptions) (AnalyzeResult, error) {
	if e.judge == nil {
		return AnalyzeResult{}, ErrNoJudge
	}
	res := AnalyzeResult{RunID: e.runID()}
	if len(items) == 0 {
		return res, nil
	}

	existing, err := e.store.LatestJudgments(ctx, trendIDs(items))
	if err != nil {
		return res, fmt.Errorf("load judgments: %w", err)
	}
	queue := unjudgedFirst(items, existing, opts.OnlyUnjudged)

	for start := 0; start < len(queue); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err)
			break
		}
		batch := queue[start:min(start+e.batchSize, len(queue))]
		res.Batches++

		n, err := e.judgeBatch(ctx, res.RunID, batch, &res)
		if err != nil {
			res.FailedBatches++
			res.Errors = append(res.Errors, err)
			observability.JudgeBatches.WithLabelValues("error").Inc()
			e.logger.Warn().Err(err).Int("batch", res.Batches).Int("size", len(batch)).Msg("judgment batch failed")
			continue
		}
		observability.JudgeBatches.WithLabelValues("ok").Inc()
		res.Analyzed += n
	}

	if opts.DetectCrossPlatform && len(items) > CrossPlatformMinItems {
		groups, err := e.detectCrossPlatform(ctx, res.RunID, items, &res)
		if err != nil {
			observability.CrossPlatformDetections.WithLabelValues("error").Inc()
			e.logger.Warn().Err(err).Msg("cross-platform detection failed")
		} else {
			observability.CrossPlatformDetections.WithLabelValues("ok").Inc()
			res.CrossPlatform = groups
		}
	}

	e.logger.Info().Str("run_id", res.RunID).Int("analyzed", res.Analyzed).
		Int("failed_batches", res.FailedBatches).Float64("cost_usd", res.CostUSD).Msg("analysis complete")

	if res.Batches > 0 && res.FailedBatches == res.Batches {
		return res, fmt.Errorf("all %d judgment batches failed: %w", res.Batches, errors.Join(res.Errors...))
	}
	return res, nil
}

// AnalyzeCached analyzes items from the cache regardless of age. With no
// ids every cached item is analyzed; otherwise unknown ids are ignored and
// store.ErrNotFound is returned when none of them are cached.
func (e *Engine) AnalyzeCached(ctx context.Context, ids []string, opts AnalyzeOptions) (AnalyzeResult, error) {
	if e.judge == nil {
		return AnalyzeResult{}, ErrNoJudge
	}
	items, err := e.store.CachedTrends(ctx, nil, 0)
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("load cache: %w", err)
	}
	if len(ids) > 0 {
		items = slices.DeleteFunc(items, func(it source.TrendItem) bool {
			return !slices.Contains(ids, it.ID)
		})
		if len(items) == 0 {
			return AnalyzeResult{}, store.ErrNotFound
		}
	}
	return e.Analyze(ctx, items, opts)
}

func (e *Engine) judgeBatch(ctx context.Context, runID string, batch []source.TrendItem, res *AnalyzeResult) (int, error) {
	raws, usage, err := e.judge.Judge(ctx, batch)
	e.recordUsage(ctx, usage, res)
	if err != nil {
		return 0, err
	}

	judgments := matchJudgments(batch, raws)
	if err := e.store.SaveJudgments(ctx, runID, judgments, e.now()); err != nil {
		return 0, fmt.Errorf("save judgments: %w", err)
	}
	return len(judgments), nil
}

func (e *Engine) detectCrossPlatform(ctx context.Context, runID string, items []source.TrendItem, res *AnalyzeResult) (int, error) {
	groups, usage, err := e.judge.DetectCrossPlatform(ctx, items)
	e.recordUsage(ctx, usage, res)
	if err != nil {
		return 0, err
	}

	index := score.BuildCrossPlatformIndex(groups)
	if err := e.store.SaveCrossPlatform(ctx, runID, index, e.now()); err != nil {
		return 0, fmt.Errorf("save cross platform: %w", err)
	}
	return len(score.FilterGroups(groups)), nil
}

func (e *Engine) recordUsage(ctx context.Context, u Usage, res *AnalyzeResult) {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return
	}
	res.CostUSD += u.CostUSD
	observability.LLMCostUSD.WithLabelValues(u.Model).Add(u.CostUSD)

	err := e.store.RecordUsage(ctx, store.UsageRecord{
		Provider:     u.Provider,
		Model:        u.Model,
		Operation:    u.Operation,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      u.CostUSD,
		At:           e.now(),
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("record usage")
	}
}

// matchJudgments pairs raw judgments with batch items by id. A judgment
// without an id falls back to its position in the response.
func matchJudgments(batch []source.TrendItem, raws []score.RawJudgment) map[string]score.Judgment {
	byID := make(map[string]score.RawJudgment, len(raws))
	for _, r := range raws {
		if id := strings.TrimSpace(r.ID); id != "" {
			byID[id] = r
		}
	}

	out := make(map[string]score.Judgment, len(batch))
	for i, it := range batch {
		raw, ok := byID[it.ID]
		if !ok && i < len(raws) && strings.TrimSpace(raws[i].ID) == "" {
			raw, ok = raws[i], true
		}
		if ok {
			out[it.ID] = score.NewJudgment(raw, it.Source)
		}
	}
	return out
}

func unjudgedFirst(items []source.TrendItem, existing map[string]score.Judgment, onlyUnjudged bool) []source.TrendItem {
	var fresh, judged []source.TrendItem
	for _, it := range items {
		if _, ok := existing[it.ID]; ok {
			judged = append(judged, it)
		} else {
			fresh = append(fresh, it)
		}
	}
	if onlyUnjudged {
		return fresh
	}
	return append(fresh, judged...)
}

func trendIDs(items []source.TrendItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
