// Package enrich translates and summarizes newly collected items through a
// text-generation backend. Failures are isolated per item: an item whose
// enrichment cannot complete keeps its original text and a failed status,
// and still advances through the pipeline.
package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/mphagenaars/focusferry/internal/content"
)

// Backend is the narrow contract with the text-generation service.
type Backend interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request carries one item's text to the backend.
type Request struct {
	Title          string
	Description    string
	TargetLanguage string
	MaxChars       int
}

// Response is the backend's translated title and bounded summary.
type Response struct {
	Title   string
	Summary string
}

// Stage runs enrichment for a batch of items with bounded concurrency and
// bounded per-item retries.
type Stage struct {
	backend        Backend
	log            *logrus.Logger
	targetLanguage string
	maxChars       int
	concurrency    int
	maxAttempts    int
}

type Option func(*Stage)

func WithConcurrency(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(log *logrus.Logger) Option {
	return func(s *Stage) { s.log = log }
}

func New(backend Backend, targetLanguage string, maxChars int, opts ...Option) *Stage {
	s := &Stage{
		backend:        backend,
		log:            logrus.StandardLogger(),
		targetLanguage: targetLanguage,
		maxChars:       maxChars,
		concurrency:    3,
		maxAttempts:    3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnrichAll enriches every item, returning one feed item per input in input
// order. No input is ever dropped: a backend outage degrades the whole
// batch to fallback text rather than failing the run.
func (s *Stage) EnrichAll(ctx context.Context, items []content.Item) []content.FeedItem {
	out := make([]content.FeedItem, len(items))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item content.Item) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = content.FeedItem{Item: item, Enrichment: s.enrichOne(ctx, item)}
		}(i, item)
	}
	wg.Wait()

	return out
}

func (s *Stage) enrichOne(ctx context.Context, item content.Item) content.Enrichment {
	var resp Response

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	attempt := 0
	operation := func() error {
		attempt++
		r, err := s.backend.Complete(ctx, Request{
			Title:          item.Title,
			Description:    item.Description,
			TargetLanguage: s.targetLanguage,
			MaxChars:       s.maxChars,
		})
		if err != nil {
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxAttempts-1)), ctx))
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"item":     item.ID,
			"attempts": attempt,
		}).WithError(err).Warn("enrichment failed, keeping original text")
		return content.Fallback(item, content.StatusFailed, time.Now())
	}

	title := strings.TrimSpace(resp.Title)
	if title == "" {
		title = item.Title
	}
	summary := strings.TrimSpace(resp.Summary)
	if summary == "" {
		summary = item.Description
	}

	return content.Enrichment{
		Title:      title,
		Summary:    capChars(summary, s.maxChars),
		Status:     content.StatusDone,
		EnrichedAt: time.Now(),
	}
}

// capChars enforces the hard summary length bound; the backend is asked to
// stay within it but is not trusted to.
func capChars(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
