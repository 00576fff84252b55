package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/mphagenaars/focusferry/internal/assemble"
	"github.com/mphagenaars/focusferry/internal/collect"
	"github.com/mphagenaars/focusferry/internal/config"
	"github.com/mphagenaars/focusferry/internal/content"
	"github.com/mphagenaars/focusferry/internal/enrich"
	"github.com/mphagenaars/focusferry/internal/ledger"
)

type stubCollector struct {
	items []content.Item
	err   error
}

func (s *stubCollector) Fetch(ctx context.Context, src config.Source) ([]content.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

type recordingBackend struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (b *recordingBackend) Complete(ctx context.Context, req enrich.Request) (enrich.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.titles = append(b.titles, req.Title)
	if b.err != nil {
		return enrich.Response{}, b.err
	}
	return enrich.Response{Title: "vertaald: " + req.Title, Summary: "samenvatting"}, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func rssConfig(name string, maxItems int) *config.Config {
	return &config.Config{ContentSources: config.ContentSources{
		RSSFeeds: []config.RSSFeed{{Name: name, URL: "https://example.com/feed", Enabled: true, MaxArticles: maxItems}},
	}}
}

func testPipeline(t *testing.T, cfg *config.Config, reg collect.Registry, stage *enrich.Stage) (*Pipeline, *ledger.Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	led, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	feedPath := filepath.Join(dir, "content_feed.json")
	p := &Pipeline{
		Config:     cfg,
		Collectors: reg,
		Ledger:     led,
		Stage:      stage,
		FeedPath:   feedPath,
		Log:        quietLogger(),
	}
	return p, led, feedPath
}

func rssItems() []content.Item {
	now := time.Now()
	return []content.Item{
		{ID: "rss_a", Kind: content.KindArticle, Source: "Feed", Title: "A", URL: "https://e.com/a", Published: now.Add(-3 * time.Hour), CollectedAt: now},
		{ID: "rss_b", Kind: content.KindArticle, Source: "Feed", Title: "B", URL: "https://e.com/b", Published: now.Add(-2 * time.Hour), CollectedAt: now},
		{ID: "rss_c", Kind: content.KindArticle, Source: "Feed", Title: "C", URL: "https://e.com/c", Published: now.Add(-1 * time.Hour), CollectedAt: now},
	}
}

// The ledger already contains A: a run over A, B, C must enrich only B and
// C and emit a feed with all three, A keeping its persisted enrichment.
func TestRunEnrichesOnlyNewItems(t *testing.T) {
	items := rssItems()
	cfg := rssConfig("Feed", 10)
	backend := &recordingBackend{}
	stage := enrich.New(backend, "Dutch", 400, enrich.WithLogger(quietLogger()))
	reg := collect.Registry{config.KindRSS: &stubCollector{items: items}}

	p, led, feedPath := testPipeline(t, cfg, reg, stage)

	prior := content.FeedItem{Item: items[0], Enrichment: content.Enrichment{
		Title: "eerder vertaald", Summary: "oude samenvatting",
		Status: content.StatusDone, EnrichedAt: time.Now().Add(-24 * time.Hour),
	}}
	if err := led.Commit([]content.FeedItem{prior}); err != nil {
		t.Fatalf("seeding ledger: %v", err)
	}

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.ItemsCollected != 3 || summary.ItemsNew != 2 {
		t.Errorf("expected 3 collected / 2 new, got %d / %d", summary.ItemsCollected, summary.ItemsNew)
	}
	if summary.ItemsEnriched != 2 {
		t.Errorf("expected 2 enriched, got %d", summary.ItemsEnriched)
	}
	if len(backend.titles) != 2 {
		t.Fatalf("backend called %d times, want 2: %v", len(backend.titles), backend.titles)
	}
	for _, title := range backend.titles {
		if title == "A" {
			t.Error("already-ledgered item A must not hit the backend")
		}
	}

	feed, err := assemble.ReadFile(feedPath)
	if err != nil {
		t.Fatalf("reading feed: %v", err)
	}
	if feed.TotalItems != 3 {
		t.Fatalf("expected 3 feed items, got %d", feed.TotalItems)
	}
	// Sorted by publish time descending: C, B, A.
	want := []string{"rss_c", "rss_b", "rss_a"}
	for i, id := range want {
		if feed.Items[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, feed.Items[i].ID)
		}
	}
	for _, it := range feed.Items {
		if it.ID == "rss_a" && it.Enrichment.Title != "eerder vertaald" {
			t.Errorf("item A lost its persisted enrichment: %+v", it.Enrichment)
		}
	}
}

// A second identical run must enrich nothing and leave statuses untouched.
func TestRunIsIdempotent(t *testing.T) {
	items := rssItems()
	cfg := rssConfig("Feed", 10)
	backend := &recordingBackend{}
	stage := enrich.New(backend, "Dutch", 400, enrich.WithLogger(quietLogger()))
	reg := collect.Registry{config.KindRSS: &stubCollector{items: items}}

	p, _, feedPath := testPipeline(t, cfg, reg, stage)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	calls := len(backend.titles)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.ItemsNew != 0 {
		t.Errorf("expected 0 new items on rerun, got %d", summary.ItemsNew)
	}
	if len(backend.titles) != calls {
		t.Errorf("backend re-invoked on rerun: %d calls, had %d", len(backend.titles), calls)
	}

	feed, err := assemble.ReadFile(feedPath)
	if err != nil {
		t.Fatalf("reading feed: %v", err)
	}
	for _, it := range feed.Items {
		if it.Enrichment.Status != content.StatusDone {
			t.Errorf("item %s status changed on rerun: %q", it.ID, it.Enrichment.Status)
		}
	}
}

func TestRunIsolatesFailedSource(t *testing.T) {
	cfg := &config.Config{ContentSources: config.ContentSources{
		RSSFeeds: []config.RSSFeed{
			{Name: "Broken", URL: "https://broken.example/feed", Enabled: true},
		},
		YouTubeChannels: []config.YouTubeChannel{
			{Name: "Working", Identifier: "UC123", Enabled: true},
		},
	}}
	now := time.Now()
	reg := collect.Registry{
		config.KindRSS: &stubCollector{err: errors.New("connection refused")},
		config.KindYouTube: &stubCollector{items: []content.Item{
			{ID: "youtube_v1", Kind: content.KindVideo, Source: "Working", Title: "V", Published: now, CollectedAt: now},
		}},
	}

	p, _, feedPath := testPipeline(t, cfg, reg, nil)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Succeeded() {
		t.Error("run with one surviving source should count as successful")
	}
	if summary.SourcesSucceeded != 1 || summary.SourcesAttempted != 2 {
		t.Errorf("expected 1/2 sources, got %d/%d", summary.SourcesSucceeded, summary.SourcesAttempted)
	}
	if len(summary.SourceErrors) != 1 || summary.SourceErrors[0].Source != "Broken" {
		t.Errorf("expected Broken in source errors, got %+v", summary.SourceErrors)
	}

	feed, err := assemble.ReadFile(feedPath)
	if err != nil {
		t.Fatalf("reading feed: %v", err)
	}
	if feed.TotalItems != 1 || feed.Items[0].ID != "youtube_v1" {
		t.Errorf("expected the working source's item in the feed, got %+v", feed.Items)
	}
}

// A full backend outage degrades the run: every new item lands in the feed
// with original text and a failed status, and the run still succeeds.
func TestRunSurvivesBackendOutage(t *testing.T) {
	items := rssItems()
	cfg := rssConfig("Feed", 10)
	backend := &recordingBackend{err: context.DeadlineExceeded}
	stage := enrich.New(backend, "Dutch", 400,
		enrich.WithMaxAttempts(1), enrich.WithLogger(quietLogger()))
	reg := collect.Registry{config.KindRSS: &stubCollector{items: items}}

	p, _, feedPath := testPipeline(t, cfg, reg, stage)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Succeeded() {
		t.Error("backend outage must not fail the run")
	}
	if summary.ItemsFailedEnrichment != 3 {
		t.Errorf("expected 3 failed enrichments, got %d", summary.ItemsFailedEnrichment)
	}

	feed, err := assemble.ReadFile(feedPath)
	if err != nil {
		t.Fatalf("reading feed: %v", err)
	}
	if feed.TotalItems != 3 {
		t.Fatalf("expected all items in the feed, got %d", feed.TotalItems)
	}
	for _, it := range feed.Items {
		if it.Enrichment.Status != content.StatusFailed {
			t.Errorf("item %s: expected failed status, got %q", it.ID, it.Enrichment.Status)
		}
		if it.Enrichment.Title != it.Title {
			t.Errorf("item %s: expected original title kept", it.ID)
		}
	}
}

func TestRunWithoutStageMarksPending(t *testing.T) {
	cfg := rssConfig("Feed", 10)
	reg := collect.Registry{config.KindRSS: &stubCollector{items: rssItems()}}

	p, _, feedPath := testPipeline(t, cfg, reg, nil)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.ItemsEnriched != 0 || summary.ItemsFailedEnrichment != 0 {
		t.Errorf("no stage: expected zero enrichment counts, got %+v", summary)
	}

	feed, err := assemble.ReadFile(feedPath)
	if err != nil {
		t.Fatalf("reading feed: %v", err)
	}
	for _, it := range feed.Items {
		if it.Enrichment.Status != content.StatusPending {
			t.Errorf("item %s: expected pending, got %q", it.ID, it.Enrichment.Status)
		}
	}
}

func TestRunAppliesPerSourceCap(t *testing.T) {
	cfg := rssConfig("Feed", 2)
	reg := collect.Registry{config.KindRSS: &stubCollector{items: rssItems()}}

	p, _, feedPath := testPipeline(t, cfg, reg, nil)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	feed, err := assemble.ReadFile(feedPath)
	if err != nil {
		t.Fatalf("reading feed: %v", err)
	}
	if feed.TotalItems != 2 {
		t.Errorf("expected per-source cap of 2 after merge, got %d items", feed.TotalItems)
	}
}

func TestRunRefusesConcurrentRun(t *testing.T) {
	cfg := rssConfig("Feed", 10)
	reg := collect.Registry{config.KindRSS: &stubCollector{items: rssItems()}}

	p, _, _ := testPipeline(t, cfg, reg, nil)
	p.LockPath = filepath.Join(t.TempDir(), "run.lock")

	other := flock.New(p.LockPath)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("taking lock: locked=%v err=%v", locked, err)
	}
	defer other.Unlock()

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error while another run holds the lock")
	}
	if p.Phase() != PhaseFailed {
		t.Errorf("expected failed phase, got %q", p.Phase())
	}
}

func TestPhaseTransitions(t *testing.T) {
	cfg := rssConfig("Feed", 10)
	reg := collect.Registry{config.KindRSS: &stubCollector{items: rssItems()}}

	p, _, _ := testPipeline(t, cfg, reg, nil)
	if p.Phase() != PhaseInit {
		t.Errorf("expected init before run, got %q", p.Phase())
	}

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Phase() != PhaseDone {
		t.Errorf("expected done after run, got %q", p.Phase())
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	cfg := rssConfig("Feed", 10)
	backend := &recordingBackend{}
	stage := enrich.New(backend, "Dutch", 400, enrich.WithLogger(quietLogger()))
	reg := collect.Registry{config.KindRSS: &stubCollector{items: rssItems()}}

	p, _, feedPath := testPipeline(t, cfg, reg, stage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if p.Phase() != PhaseFailed {
		t.Errorf("cancelled run must not report done, got %q", p.Phase())
	}
	if len(backend.titles) != 0 {
		t.Errorf("enrichment must not start after cancellation, got %d calls", len(backend.titles))
	}
	if _, err := assemble.ReadFile(feedPath); err == nil {
		t.Error("no feed should be written for a cancelled run")
	}
}
