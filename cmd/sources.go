package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mphagenaars/focusferry/internal/config"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured content sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println("RSS feeds:")
		for _, f := range cfg.ContentSources.RSSFeeds {
			fmt.Printf("  %s %s  %s (max %d)\n", mark(f.Enabled), f.Name, f.URL, maxOrDefault(f.MaxArticles))
		}

		fmt.Println("YouTube channels:")
		for _, ch := range cfg.ContentSources.YouTubeChannels {
			fmt.Printf("  %s %s  %s (max %d)\n", mark(ch.Enabled), ch.Name, ch.Identifier, maxOrDefault(ch.MaxVideos))
		}

		fmt.Printf("\n%d source(s) enabled\n", len(cfg.Sources()))
		return nil
	},
}

func mark(enabled bool) string {
	if enabled {
		return "[on] "
	}
	return "[off]"
}

func maxOrDefault(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}
