package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mphagenaars/focusferry/internal/collect"
	"github.com/mphagenaars/focusferry/internal/config"
	"github.com/mphagenaars/focusferry/internal/enrich"
	"github.com/mphagenaars/focusferry/internal/ledger"
	"github.com/mphagenaars/focusferry/internal/pipeline"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfig  string
	flagDataDir string
	flagFeed    string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "focusferry",
	Short: "Tech-news aggregation and enrichment pipeline",
	Long: `focusferry collects articles and videos from configured RSS feeds and
YouTube channels, skips everything it has seen before, enriches new items
with AI translations and summaries, and writes the unified feed consumed by
the site build.`,
	RunE:          runPipeline,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for the ledger and feed artifact")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	rootCmd.Flags().StringVar(&flagFeed, "feed", "", "path for the unified feed artifact")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(statsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("focusferry %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func runPipeline(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		// The single fatal condition: no valid config, no network activity.
		return fmt.Errorf("loading config: %w", err)
	}

	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	feedPath := flagFeed
	if feedPath == "" {
		feedPath = filepath.Join(dataDir, "content_feed.json")
	}

	led, err := ledger.Open(filepath.Join(dataDir, "ledger.db"))
	if err != nil {
		log.WithError(err).Error("opening ledger")
		return nil
	}
	defer led.Close()

	reg := collect.Registry{config.KindRSS: collect.NewRSSCollector()}
	if key := os.Getenv("YOUTUBE_API_KEY"); key != "" {
		reg[config.KindYouTube] = collect.NewYouTubeCollector(key)
	} else {
		log.Warn("YOUTUBE_API_KEY not set, youtube sources will be skipped")
	}

	var stage *enrich.Stage
	switch {
	case !cfg.SummarizationEnabled():
		log.Info("summarization disabled in config")
	case os.Getenv("OPENROUTER_API_KEY") == "":
		log.Warn("OPENROUTER_API_KEY not set, items will keep their original text")
	default:
		backend := enrich.NewOpenRouter(os.Getenv("OPENROUTER_API_KEY"), cfg.SummaryModel())
		stage = enrich.New(backend, cfg.TargetLanguage(), cfg.SummaryMaxChars(),
			enrich.WithConcurrency(cfg.EnrichConcurrency()),
			enrich.WithLogger(log))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &pipeline.Pipeline{
		Config:     cfg,
		Collectors: reg,
		Ledger:     led,
		Stage:      stage,
		FeedPath:   feedPath,
		LockPath:   filepath.Join(dataDir, ".run.lock"),
		Log:        log,
	}

	summary, err := p.Run(ctx)
	if err != nil {
		log.WithError(err).Error("run aborted, previous feed left in place")
	}
	printSummary(summary)
	return nil
}

func printSummary(s *pipeline.Summary) {
	fmt.Println("Run summary")
	fmt.Printf("  sources:   %d/%d succeeded\n", s.SourcesSucceeded, s.SourcesAttempted)
	fmt.Printf("  collected: %d items (%d new)\n", s.ItemsCollected, s.ItemsNew)
	fmt.Printf("  enriched:  %d ok, %d failed\n", s.ItemsEnriched, s.ItemsFailedEnrichment)
	fmt.Printf("  duration:  %s\n", s.Duration.Round(time.Millisecond))
	for _, se := range s.SourceErrors {
		fmt.Printf("  [failed] %s: %v\n", se.Source, se.Err)
	}
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flagVerbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
