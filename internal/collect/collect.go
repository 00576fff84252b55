package collect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mphagenaars/focusferry/internal/config"
	"github.com/mphagenaars/focusferry/internal/content"
)

// Collector fetches raw items from one source and normalizes them.
type Collector interface {
	Fetch(ctx context.Context, src config.Source) ([]content.Item, error)
}

// Registry dispatches sources to the collector for their kind.
type Registry map[config.SourceKind]Collector

// SourceError records a per-source collection failure. Collection errors
// never abort the run; the orchestrator aggregates them into the summary.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("collecting %s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error { return e.Err }

// Result holds everything collection produced across sources.
type Result struct {
	Items     []content.Item
	Errors    []SourceError
	Attempted int
	Succeeded int
}

// All fetches every source concurrently. Sources with no registered
// collector (for example YouTube without an API key) are skipped with a
// per-source error. Items keep their relative order within a source; the
// slice is grouped by source in configuration order so later merge
// tie-breaks stay stable.
func All(ctx context.Context, reg Registry, sources []config.Source) Result {
	type sourceResult struct {
		items []content.Item
		err   error
	}

	results := make([]sourceResult, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		c, ok := reg[src.Kind]
		if !ok {
			results[i].err = fmt.Errorf("no collector for kind %q", src.Kind)
			continue
		}
		wg.Add(1)
		go func(i int, c Collector, src config.Source) {
			defer wg.Done()
			items, err := c.Fetch(ctx, src)
			results[i] = sourceResult{items: items, err: err}
		}(i, c, src)
	}
	wg.Wait()

	var out Result
	out.Attempted = len(sources)
	for i, src := range sources {
		if results[i].err != nil {
			out.Errors = append(out.Errors, SourceError{Source: src.Name, Err: results[i].err})
			continue
		}
		out.Succeeded++
		out.Items = append(out.Items, results[i].items...)
	}
	return out
}

// capNewest keeps the max most recently published items, preserving the
// newest-first order.
func capNewest(items []content.Item, max int) []content.Item {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	return items
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
