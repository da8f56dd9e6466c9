package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	useMemory bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trendscore",
		Short:         "Rank trending topics across platforms by content value",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVar(&useMemory, "memory", false, "use in-memory storage instead of sqlite")

	root.AddCommand(collectCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(trendsCmd())
	root.AddCommand(saveCmd())
	root.AddCommand(usageCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func collectCmd() *cobra.Command {
	var (
		sources  string
		useCache bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch all sources, cache the items and record snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), sources, useCache)
		},
	}

	cmd.Flags().StringVar(&sources, "source", "", "comma separated sources (e.g., reddit,hn,polymarket)")
	cmd.Flags().BoolVar(&useCache, "cache", false, "serve from cache when fresh")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var (
		ids           []string
		crossPlatform bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Judge cached trends with the LLM",
		Long:  "Judge cached trends with the LLM. Without --id every cached trend is analyzed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), ids, crossPlatform)
		},
	}

	cmd.Flags().StringSliceVar(&ids, "id", nil, "trend ids to analyze")
	cmd.Flags().BoolVar(&crossPlatform, "cross-platform", false, "also detect cross-platform topics")
	return cmd
}

type trendsOptions struct {
	sources       string
	window        string
	sort          string
	showRejected  bool
	useCache      bool
	analyze       bool
	crossPlatform bool
	jsonOutput    bool
	limit         int
}

func trendsCmd() *cobra.Command {
	var opts trendsOptions

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Show ranked trends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrends(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.sources, "source", "", "comma separated sources")
	cmd.Flags().StringVar(&opts.window, "window", "24h", "age window: 1h, 6h, 24h, 7d or all")
	cmd.Flags().StringVar(&opts.sort, "sort", "combined", "sort by combined, velocity, cross_platform or freshness")
	cmd.Flags().BoolVar(&opts.showRejected, "show-rejected", false, "include rejected trends")
	cmd.Flags().BoolVar(&opts.useCache, "cache", false, "serve from cache when fresh")
	cmd.Flags().BoolVar(&opts.analyze, "analyze", false, "judge unjudged trends before ranking")
	cmd.Flags().BoolVar(&opts.crossPlatform, "cross-platform", false, "detect cross-platform topics while analyzing")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "max trends to show")
	return cmd
}

func saveCmd() *cobra.Command {
	var unsave bool

	cmd := &cobra.Command{
		Use:   "save <trend-id>",
		Short: "Bookmark a cached trend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(cmd.Context(), args[0], !unsave)
		},
	}

	cmd.Flags().BoolVar(&unsave, "unsave", false, "remove the bookmark")
	return cmd
}

func usageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show LLM token usage and cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd.Context())
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
