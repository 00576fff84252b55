package content

import "time"

// Kind identifies which platform an item came from.
type Kind string

const (
	KindArticle Kind = "article"
	KindVideo   Kind = "video"
)

// EnrichmentStatus tracks the outcome of AI enrichment for an item.
type EnrichmentStatus string

const (
	StatusPending EnrichmentStatus = "pending"
	StatusDone    EnrichmentStatus = "done"
	StatusFailed  EnrichmentStatus = "failed"
)

// Item is the normalized unit produced by every collector. Fields are set
// once at collection time; only the attached Enrichment changes afterwards.
type Item struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"type"`
	Source       string    `json:"source"`
	Title        string    `json:"title"`
	TitleLang    string    `json:"title_lang,omitempty"`
	URL          string    `json:"url"`
	Description  string    `json:"description"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Published    time.Time `json:"published_at"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Enrichment holds the AI-generated translation and summary for an item.
// A failed enrichment keeps the original title and description so the item
// is never dropped from the feed.
type Enrichment struct {
	Title      string           `json:"title_localized,omitempty"`
	Summary    string           `json:"summary_localized,omitempty"`
	Status     EnrichmentStatus `json:"status"`
	EnrichedAt time.Time        `json:"enriched_at,omitempty"`
}

// FeedItem pairs an item with its enrichment for the unified feed.
type FeedItem struct {
	Item
	Enrichment Enrichment `json:"enrichment"`
}

// Fallback returns an enrichment that carries the item's original text,
// marked with the given status.
func Fallback(item Item, status EnrichmentStatus, at time.Time) Enrichment {
	return Enrichment{
		Title:      item.Title,
		Summary:    item.Description,
		Status:     status,
		EnrichedAt: at,
	}
}
