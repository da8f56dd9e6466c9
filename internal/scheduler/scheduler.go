package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/elonfeng/trendscore/internal/store"
	"github.com/elonfeng/trendscore/pkg/score"
	"github.com/elonfeng/trendscore/pkg/trend"
)

// DefaultSpec matches the dashboard refresh interval.
const DefaultSpec = "@every 30m"

// Ranker runs one ranking cycle.
type Ranker interface {
	Rank(ctx context.Context, q trend.Query) (trend.Result, error)
}

// Alerter announces high-tier trends.
type Alerter interface {
	NotifyHighTier(ctx context.Context, trends []score.ScoredTrend) (int, error)
}

// Config controls what each cycle does.
type Config struct {
	Spec          string
	Query         trend.Query
	MonthlyBudget float64
}

// Scheduler polls the engine on a cron schedule and alerts on new high-tier trends.
type Scheduler struct {
	cfg     Config
	ranker  Ranker
	alerter Alerter
	usage   store.UsageStore
	logger  *zerolog.Logger
	now     func() time.Time
}

// New creates a new scheduler. alerter and usage may be nil.
func New(cfg Config, ranker Ranker, alerter Alerter, usage store.UsageStore, logger *zerolog.Logger) *Scheduler {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	return &Scheduler{
		cfg:     cfg,
		ranker:  ranker,
		alerter: alerter,
		usage:   usage,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes one cycle immediately, then one per tick. Blocks until ctx is
// cancelled and any running cycle has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.Spec, func() { s.cycle(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.cfg.Spec, err)
	}

	s.cycle(ctx)

	c.Start()
	s.logger.Info().Str("schedule", s.cfg.Spec).Msg("scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) cycle(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled cycle failed")
	}
}

// RunOnce performs a single ranking cycle and returns the number of trends
// announced.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	q := s.cfg.Query
	if q.Analyze && s.overBudget(ctx) {
		q.Analyze = false
		q.DetectCrossPlatform = false
	}

	start := s.now()
	res, err := s.ranker.Rank(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("rank: %w", err)
	}

	ev := s.logger.Info().
		Int("trends", res.Total).
		Int("cross_platform", res.CrossPlatformCount).
		Bool("cached", res.Cached).
		Bool("degraded", res.Degraded).
		Dur("took", s.now().Sub(start))
	if res.Analysis != nil {
		ev = ev.Int("analyzed", res.Analysis.Analyzed).Float64("cost_usd", res.Analysis.CostUSD)
	}
	ev.Msg("cycle complete")

	for src, msg := range res.Errors {
		s.logger.Warn().Str("source", string(src)).Str("error", msg).Msg("source failed")
	}

	if s.alerter == nil {
		return 0, nil
	}
	n, err := s.alerter.NotifyHighTier(ctx, res.Trends)
	if err != nil {
		return n, fmt.Errorf("alert: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("alerted high-tier trends")
	}
	return n, nil
}

// overBudget reports whether this month's LLM spend reached the budget.
// Lookup failures never block analysis.
func (s *Scheduler) overBudget(ctx context.Context) bool {
	if s.usage == nil || s.cfg.MonthlyBudget <= 0 {
		return false
	}
	sum, err := s.usage.UsageSummary(ctx, s.now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("usage lookup failed")
		return false
	}
	if sum.Month.CostUSD >= s.cfg.MonthlyBudget {
		s.logger.Warn().
			Float64("spent_usd", sum.Month.CostUSD).
			Float64("budget_usd", s.cfg.MonthlyBudget).
			Msg("monthly LLM budget reached, skipping analysis")
		return true
	}
	return false
}
