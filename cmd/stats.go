package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mphagenaars/focusferry/internal/assemble"
	"github.com/mphagenaars/focusferry/internal/config"
	"github.com/mphagenaars/focusferry/internal/ledger"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger and feed statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir := flagDataDir
		if dataDir == "" {
			dataDir = config.DefaultDataDir()
		}
		dbPath := filepath.Join(dataDir, "ledger.db")

		led, err := ledger.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer led.Close()

		count, size, err := led.Stats(dbPath)
		if err != nil {
			return fmt.Errorf("reading stats: %w", err)
		}

		fmt.Printf("Ledger: %s\n", dbPath)
		fmt.Printf("Items seen: %d\n", count)
		fmt.Printf("Size: %s\n", formatBytes(size))
		if last := led.LastRun(); !last.IsZero() {
			fmt.Printf("Last run: %s\n", last.Format("2006-01-02 15:04:05"))
		}

		feedPath := filepath.Join(dataDir, "content_feed.json")
		if feed, err := assemble.ReadFile(feedPath); err == nil {
			fmt.Printf("Feed: %s (%d items, generated %s)\n",
				feedPath, feed.TotalItems, feed.GeneratedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
