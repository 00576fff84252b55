// Package pipeline sequences one batch pass: collect from every enabled
// source, filter against the dedup ledger, enrich what is new, and emit the
// unified feed artifact. Per-source and per-item failures are recorded in
// the run summary instead of propagating; only configuration load (handled
// by the caller) and persistence failures are fatal.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mphagenaars/focusferry/internal/assemble"
	"github.com/mphagenaars/focusferry/internal/collect"
	"github.com/mphagenaars/focusferry/internal/config"
	"github.com/mphagenaars/focusferry/internal/content"
	"github.com/mphagenaars/focusferry/internal/enrich"
	"github.com/mphagenaars/focusferry/internal/ledger"
)

// Phase names the orchestrator's states.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseCollecting Phase = "collecting"
	PhaseDeduping   Phase = "deduping"
	PhaseEnriching  Phase = "enriching"
	PhaseAssembling Phase = "assembling"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Summary reports one run's outcome.
type Summary struct {
	RunID                 string
	SourcesAttempted      int
	SourcesSucceeded      int
	ItemsCollected        int
	ItemsNew              int
	ItemsEnriched         int
	ItemsFailedEnrichment int
	Duration              time.Duration
	SourceErrors          []collect.SourceError
}

// Succeeded reports whether the run counts as successful: at least one
// source delivered, or there was nothing to attempt.
func (s *Summary) Succeeded() bool {
	return s.SourcesAttempted == 0 || s.SourcesSucceeded > 0
}

// Pipeline holds one run's collaborators. Stage may be nil when
// summarization is disabled or unconfigured; new items then carry their
// original text with a pending status.
type Pipeline struct {
	Config     *config.Config
	Collectors collect.Registry
	Ledger     *ledger.Ledger
	Stage      *enrich.Stage
	FeedPath   string
	LockPath   string
	Log        *logrus.Logger

	phase Phase
}

// Phase returns the orchestrator's current state.
func (p *Pipeline) Phase() Phase {
	if p.phase == "" {
		return PhaseInit
	}
	return p.phase
}

func (p *Pipeline) enter(phase Phase) {
	p.phase = phase
	p.Log.WithField("phase", phase).Debug("pipeline phase")
}

// Run executes one full pass. The returned summary is valid even when err
// is non-nil; err reports persistence failures and cancellation, both of
// which leave the previous feed artifact untouched.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if p.Log == nil {
		p.Log = logrus.StandardLogger()
	}

	start := time.Now()
	summary := &Summary{RunID: uuid.NewString()}
	log := p.Log.WithField("run_id", summary.RunID)

	if p.LockPath != "" {
		lock := flock.New(p.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			p.enter(PhaseFailed)
			return summary, fmt.Errorf("acquiring run lock: %w", err)
		}
		if !locked {
			p.enter(PhaseFailed)
			return summary, fmt.Errorf("another run holds the lock at %s", p.LockPath)
		}
		defer lock.Unlock()
	}

	sources := p.Config.Sources()
	caps := make(map[string]int, len(sources))
	for _, src := range sources {
		caps[src.Name] = src.MaxItems
	}

	// COLLECTING: every enabled source, concurrently. A failing source
	// contributes zero items and a summary entry.
	p.enter(PhaseCollecting)
	collectCtx, cancel := context.WithTimeout(ctx, p.Config.CollectTimeout())
	result := collect.All(collectCtx, p.Collectors, sources)
	cancel()

	summary.SourcesAttempted = result.Attempted
	summary.SourcesSucceeded = result.Succeeded
	summary.ItemsCollected = len(result.Items)
	summary.SourceErrors = result.Errors
	for _, se := range result.Errors {
		log.WithField("source", se.Source).WithError(se.Err).Warn("source failed")
	}
	log.WithFields(logrus.Fields{
		"sources_ok": result.Succeeded,
		"sources":    result.Attempted,
		"items":      len(result.Items),
	}).Info("collection finished")

	if err := ctx.Err(); err != nil {
		summary.Duration = time.Since(start)
		p.enter(PhaseFailed)
		return summary, err
	}

	// DEDUPING: the ledger is touched only after all collectors returned.
	p.enter(PhaseDeduping)
	retry := p.Config.AI.Summarization.RetryFailed
	newItems, _, err := p.Ledger.FilterNew(result.Items, retry)
	if err != nil {
		summary.Duration = time.Since(start)
		p.enter(PhaseFailed)
		return summary, fmt.Errorf("filtering against ledger: %w", err)
	}
	summary.ItemsNew = len(newItems)
	log.WithField("new", len(newItems)).Info("dedup finished")

	if err := ctx.Err(); err != nil {
		summary.Duration = time.Since(start)
		p.enter(PhaseFailed)
		return summary, err
	}

	// ENRICHING: new items only, bounded concurrency inside the stage.
	p.enter(PhaseEnriching)
	var enriched []content.FeedItem
	if p.Stage != nil {
		enriched = p.Stage.EnrichAll(ctx, newItems)
	} else {
		now := time.Now()
		for _, it := range newItems {
			enriched = append(enriched, content.FeedItem{
				Item:       it,
				Enrichment: content.Fallback(it, content.StatusPending, now),
			})
		}
	}
	for _, it := range enriched {
		switch it.Enrichment.Status {
		case content.StatusDone:
			summary.ItemsEnriched++
		case content.StatusFailed:
			summary.ItemsFailedEnrichment++
		}
	}
	log.WithFields(logrus.Fields{
		"enriched": summary.ItemsEnriched,
		"failed":   summary.ItemsFailedEnrichment,
	}).Info("enrichment finished")

	// ASSEMBLING: commit first, then rebuild the feed from the ledger's
	// full known set. A failure here leaves the previous artifact intact.
	p.enter(PhaseAssembling)
	if err := p.Ledger.Commit(enriched); err != nil {
		summary.Duration = time.Since(start)
		p.enter(PhaseFailed)
		return summary, fmt.Errorf("committing ledger: %w", err)
	}

	known, err := p.Ledger.Known()
	if err != nil {
		summary.Duration = time.Since(start)
		p.enter(PhaseFailed)
		return summary, fmt.Errorf("loading known items: %w", err)
	}

	feed := assemble.Assemble(known, caps)
	if err := feed.WriteFile(p.FeedPath); err != nil {
		summary.Duration = time.Since(start)
		p.enter(PhaseFailed)
		return summary, fmt.Errorf("writing feed: %w", err)
	}

	if err := p.Ledger.SetLastRun(time.Now()); err != nil {
		log.WithError(err).Warn("recording last run time")
	}

	summary.Duration = time.Since(start)
	p.enter(PhaseDone)
	log.WithFields(logrus.Fields{
		"feed_items": feed.TotalItems,
		"duration":   summary.Duration.Round(time.Millisecond),
	}).Info("run finished")

	return summary, nil
}
