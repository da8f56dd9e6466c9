package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/trendscore/internal/config"
	"github.com/elonfeng/trendscore/internal/scheduler"
	"github.com/elonfeng/trendscore/internal/store"
	"github.com/elonfeng/trendscore/pkg/alert"
	"github.com/elonfeng/trendscore/pkg/score"
	"github.com/elonfeng/trendscore/pkg/server"
	"github.com/elonfeng/trendscore/pkg/source"
	"github.com/elonfeng/trendscore/pkg/trend"
)

// app holds what every command needs.
type app struct {
	cfg    *config.Config
	logger *zerolog.Logger
	store  store.Store
	engine *trend.Engine
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *zerolog.Logger {
	var logger zerolog.Logger
	if cfg.AppEnv == "local" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		logger = logger.Level(lvl)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
	return &logger
}

func setup() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	var st store.Store
	if useMemory {
		st = store.NewMemory()
	} else {
		db, err := store.New(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		st = db
	}

	judge, err := buildJudge(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	engine := trend.NewEngine(
		trend.EngineConfig{CacheTTL: cfg.Scoring.ParseCacheTTL(), BatchSize: cfg.Scoring.BatchSize},
		st,
		buildSources(cfg),
		judge,
		cfg.Scoring.Scorer(),
		logger,
	)
	return &app{cfg: cfg, logger: logger, store: st, engine: engine}, nil
}

func buildJudge(cfg *config.Config, logger *zerolog.Logger) (trend.Judge, error) {
	if !cfg.LLM.Enabled || cfg.LLM.APIKey == "" {
		logger.Info().Msg("llm judge disabled, trends get basic scores only")
		return nil, nil
	}
	judge, err := trend.NewLLMJudge(trend.LLMConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		RPS:      cfg.LLM.RPS,
		Timeout:  cfg.LLM.ParseTimeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build judge: %w", err)
	}
	logger.Info().Str("provider", cfg.LLM.Provider).Str("model", cfg.LLM.Model).Msg("llm judge enabled")
	return judge, nil
}

func buildSources(cfg *config.Config) []source.Source {
	var sources []source.Source
	sc := cfg.Sources

	if sc.Reddit.Enabled {
		sources = append(sources, source.NewReddit(sc.Reddit.ClientID, sc.Reddit.ClientSecret, sc.Reddit.Subreddits, sc.Reddit.Limit))
	}
	if sc.HackerNews.Enabled {
		sources = append(sources, source.NewHackerNews(sc.HackerNews.Limit))
	}
	if sc.YouTube.Enabled && sc.YouTube.APIKey != "" {
		sources = append(sources, source.NewYouTube(sc.YouTube.APIKey, sc.YouTube.Queries, sc.YouTube.Limit))
	}
	if sc.ProductHunt.Enabled {
		sources = append(sources, source.NewProductHunt(sc.ProductHunt.Limit))
	}
	if sc.Twitter.Enabled && len(sc.Twitter.Accounts) > 0 {
		sources = append(sources, source.NewTwitter(sc.Twitter.NitterURL, sc.Twitter.Accounts))
	}
	if sc.Polymarket.Enabled {
		sources = append(sources, source.NewPolymarket(sc.Polymarket.Limit))
	}

	return sources
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runCollect(ctx context.Context, sources string, useCache bool) error {
	types, err := source.ParseSourceTypes(sources)
	if err != nil {
		return err
	}
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.store.Close()

	res, err := a.engine.Refresh(ctx, types, useCache)
	if err != nil {
		return err
	}

	counts := make(map[source.SourceType]int)
	for _, it := range res.Items {
		counts[it.Source]++
	}
	for _, st := range types {
		if ferr, ok := res.Errors[st]; ok {
			fmt.Fprintf(os.Stderr, "  %s: error: %v\n", st, ferr)
			continue
		}
		fmt.Fprintf(os.Stderr, "  %s: %d items\n", st, counts[st])
	}

	note := ""
	switch {
	case res.Degraded:
		note = " (all sources failed, showing last cache)"
	case res.Cached:
		note = " (from cache)"
	}
	fmt.Fprintf(os.Stderr, "\ntotal: %d items%s\n", len(res.Items), note)
	return nil
}

func runAnalyze(ctx context.Context, ids []string, crossPlatform bool) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.store.Close()

	res, err := a.engine.AnalyzeCached(ctx, ids, trend.AnalyzeOptions{DetectCrossPlatform: crossPlatform})
	if errors.Is(err, trend.ErrNoJudge) {
		return errors.New("llm judge is not configured (set llm.enabled and an api key)")
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("none of %s are cached (run trendscore collect first)", strings.Join(ids, ", "))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "run %s: analyzed %d trends in %d batches (%d failed), %d cross-platform groups, $%.4f\n",
		res.RunID, res.Analyzed, res.Batches, res.FailedBatches, res.CrossPlatform, res.CostUSD)
	return nil
}

func runTrends(ctx context.Context, opts trendsOptions) error {
	q := trend.Query{
		HideRejected:        !opts.showRejected,
		UseCache:            opts.useCache,
		Analyze:             opts.analyze,
		DetectCrossPlatform: opts.crossPlatform,
	}
	var err error
	if q.Sources, err = source.ParseSourceTypes(opts.sources); err != nil {
		return err
	}
	if q.Window, err = trend.ParseWindow(opts.window); err != nil {
		return err
	}
	if q.SortBy, err = score.ParseSortKey(opts.sort); err != nil {
		return err
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.store.Close()

	res, err := a.engine.Rank(ctx, q)
	if err != nil {
		return fmt.Errorf("rank trends: %w", err)
	}
	if opts.limit > 0 && len(res.Trends) > opts.limit {
		res.Trends = res.Trends[:opts.limit]
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if len(res.Trends) == 0 {
		fmt.Println("no trends found (try a wider --window or trendscore collect)")
		return nil
	}
	if res.Degraded {
		fmt.Fprintln(os.Stderr, "warning: showing cached trends with basic scores")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tTIER\tVELOCITY\tSOURCE\tID\tTITLE")
	for _, t := range res.Trends {
		tier := string(t.ValueTier)
		if tier == "" {
			tier = "-"
		}
		if t.Saved {
			tier += "*"
		}
		vel := string(t.VelocityTier)
		if vel == "" {
			vel = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.CombinedScore, tier, vel, t.Source, t.ID, truncate(t.Title, 70))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\n%d trends, %d cross-platform\n", res.Total, res.CrossPlatformCount)
	return nil
}

func runSave(ctx context.Context, id string, saved bool) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.store.Close()

	if err := a.store.SetSaved(ctx, id, saved); err != nil {
		return err
	}
	if saved {
		fmt.Fprintf(os.Stderr, "saved %s\n", id)
	} else {
		fmt.Fprintf(os.Stderr, "unsaved %s\n", id)
	}
	return nil
}

func runUsage(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.store.Close()

	sum, err := a.store.UsageSummary(ctx, time.Now())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PERIOD\tCALLS\tINPUT\tOUTPUT\tCOST")
	for _, row := range []struct {
		name string
		t    store.UsageTotals
	}{{"today", sum.Today}, {"week", sum.Week}, {"month", sum.Month}} {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\n", row.name, row.t.Calls, row.t.InputTokens, row.t.OutputTokens, row.t.CostUSD)
	}
	for model, t := range sum.ByModel {
		fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t$%.4f\n", model, t.Calls, t.InputTokens, t.OutputTokens, t.CostUSD)
	}
	if b := a.cfg.LLM.MonthlyBudget; b > 0 {
		fmt.Fprintf(w, "budget\t\t\t\t$%.2f left of $%.2f\n", max(b-sum.Month.CostUSD, 0), b)
	}
	return w.Flush()
}

func runServe(ctx context.Context, port int) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.store.Close()

	return serve(ctx, a, port, nil)
}

func runDaemon(ctx context.Context, port int) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.store.Close()

	alerts := buildAlertManager(a.cfg)
	var alerter scheduler.Alerter
	if alerts.HasNotifiers() {
		alerter = alerts
	}

	sched := scheduler.New(scheduler.Config{
		Spec: a.cfg.Schedule.Cron,
		Query: trend.Query{
			Window:              trend.DefaultWindow,
			HideRejected:        true,
			Analyze:             a.cfg.Schedule.Analyze,
			DetectCrossPlatform: a.cfg.Schedule.CrossPlatform,
		},
		MonthlyBudget: a.cfg.LLM.MonthlyBudget,
	}, a.engine, alerter, a.store, a.logger)

	return serve(ctx, a, port, sched)
}

// serve runs the API server, and the scheduler when given, until ctx is
// cancelled or one of them fails.
func serve(ctx context.Context, a *app, port int, sched *scheduler.Scheduler) error {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	srv := server.New(a.engine, a.store, port, a.cfg.LLM.MonthlyBudget, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if sched != nil {
		g.Go(func() error {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
