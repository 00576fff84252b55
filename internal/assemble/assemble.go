// Package assemble merges known and newly enriched items into the unified
// feed artifact consumed by the site renderer.
package assemble

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mphagenaars/focusferry/internal/content"
)

// Feed is the fully materialized artifact. It is derived state: rebuilt on
// every run from the ledger's known set plus the run's new items.
type Feed struct {
	GeneratedAt time.Time          `json:"generated_at"`
	TotalItems  int                `json:"total_items"`
	Items       []content.FeedItem `json:"items"`
}

// Assemble deduplicates by id (the first occurrence wins, so callers pass
// already-persisted items before this run's), sorts by publish time
// descending with earlier collection winning ties, and caps each source's
// contribution. A zero or missing cap means unlimited.
func Assemble(items []content.FeedItem, caps map[string]int) *Feed {
	seen := make(map[string]bool, len(items))
	merged := make([]content.FeedItem, 0, len(items))
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		merged = append(merged, it)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.Published.Equal(b.Published) {
			return a.Published.After(b.Published)
		}
		return a.CollectedAt.Before(b.CollectedAt)
	})

	perSource := make(map[string]int)
	capped := merged[:0]
	for _, it := range merged {
		max, ok := caps[it.Source]
		if ok && max > 0 && perSource[it.Source] >= max {
			continue
		}
		perSource[it.Source]++
		capped = append(capped, it)
	}

	return &Feed{
		GeneratedAt: time.Now(),
		TotalItems:  len(capped),
		Items:       capped,
	}
}

// WriteFile persists the feed atomically (temp file + rename) so the
// renderer never observes a partially written artifact.
func (f *Feed) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating feed dir: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding feed: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".feed-*.json")
	if err != nil {
		return fmt.Errorf("creating temp feed: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing feed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing feed: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing feed: %w", err)
	}
	return nil
}

// ReadFile loads a previously written feed artifact.
func ReadFile(path string) (*Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}
	var f Feed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", path, err)
	}
	return &f, nil
}
