package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// SourceKind tags the two supported source variants.
type SourceKind string

const (
	KindRSS     SourceKind = "rss"
	KindYouTube SourceKind = "youtube"
)

// Source is the unified descriptor handed to collectors. Locator is a feed
// URL for RSS sources and a channel ID or @handle for YouTube sources.
type Source struct {
	Kind     SourceKind
	Name     string
	Locator  string
	MaxItems int
}

// Slug converts the display name to a file-safe identifier.
func (s Source) Slug() string {
	return Slugify(s.Name)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases a name and collapses runs of non-alphanumerics to
// single underscores.
func Slugify(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(slug, "_")
}

type RSSFeed struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Enabled     bool   `yaml:"enabled"`
	MaxArticles int    `yaml:"max_articles"`
}

type YouTubeChannel struct {
	Name       string `yaml:"name"`
	Identifier string `yaml:"identifier"`
	Enabled    bool   `yaml:"enabled"`
	MaxVideos  int    `yaml:"max_videos"`
}

type ContentSources struct {
	RSSFeeds        []RSSFeed        `yaml:"rss_feeds"`
	YouTubeChannels []YouTubeChannel `yaml:"youtube_channels"`
}

type Summarization struct {
	Enabled        *bool  `yaml:"enabled"`
	Model          string `yaml:"model"`
	TargetLanguage string `yaml:"target_language"`
	MaxChars       int    `yaml:"max_chars"`
	RetryFailed    bool   `yaml:"retry_failed"`
}

type AISettings struct {
	Summarization Summarization `yaml:"summarization"`
}

type CollectionSettings struct {
	Timeout           string `yaml:"timeout"`
	EnrichConcurrency int    `yaml:"enrich_concurrency"`
}

type Config struct {
	ContentSources ContentSources     `yaml:"content_sources"`
	AI             AISettings         `yaml:"ai_settings"`
	Collection     CollectionSettings `yaml:"collection_settings"`
}

const defaultMaxItems = 10

// Sources returns enabled sources as unified descriptors, RSS feeds first,
// in declaration order. That order is the tie-break precedence for items
// with equal publish times.
func (c *Config) Sources() []Source {
	var out []Source
	for _, f := range c.ContentSources.RSSFeeds {
		if !f.Enabled {
			continue
		}
		max := f.MaxArticles
		if max <= 0 {
			max = defaultMaxItems
		}
		out = append(out, Source{Kind: KindRSS, Name: f.Name, Locator: f.URL, MaxItems: max})
	}
	for _, ch := range c.ContentSources.YouTubeChannels {
		if !ch.Enabled {
			continue
		}
		max := ch.MaxVideos
		if max <= 0 {
			max = defaultMaxItems
		}
		out = append(out, Source{Kind: KindYouTube, Name: ch.Name, Locator: ch.Identifier, MaxItems: max})
	}
	return out
}

// SummarizationEnabled reports whether AI summarization should run.
// Defaults to true when the config omits the setting.
func (c *Config) SummarizationEnabled() bool {
	if c.AI.Summarization.Enabled == nil {
		return true
	}
	return *c.AI.Summarization.Enabled
}

func (c *Config) SummaryModel() string {
	if c.AI.Summarization.Model == "" {
		return "google/gemini-2.5-flash"
	}
	return c.AI.Summarization.Model
}

func (c *Config) TargetLanguage() string {
	if c.AI.Summarization.TargetLanguage == "" {
		return "Dutch"
	}
	return c.AI.Summarization.TargetLanguage
}

func (c *Config) SummaryMaxChars() int {
	if c.AI.Summarization.MaxChars <= 0 {
		return 400
	}
	return c.AI.Summarization.MaxChars
}

func (c *Config) CollectTimeout() time.Duration {
	d, err := time.ParseDuration(c.Collection.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (c *Config) EnrichConcurrency() int {
	if c.Collection.EnrichConcurrency <= 0 {
		return 3
	}
	return c.Collection.EnrichConcurrency
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "focusferry", "config.yaml")
}

func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "focusferry")
}

// Load reads and validates the source configuration. A missing or malformed
// file is fatal: no network activity may start without a valid config.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.ContentSources.RSSFeeds) == 0 && len(cfg.ContentSources.YouTubeChannels) == 0 {
		return fmt.Errorf("config: no content sources defined")
	}
	for i, f := range cfg.ContentSources.RSSFeeds {
		if f.Name == "" {
			return fmt.Errorf("rss feed %d: name is required", i)
		}
		if f.URL == "" {
			return fmt.Errorf("rss feed %q: url is required", f.Name)
		}
		u, err := url.Parse(f.URL)
		if err != nil {
			return fmt.Errorf("rss feed %q: invalid url: %w", f.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("rss feed %q: url scheme must be http or https, got %q", f.Name, u.Scheme)
		}
	}
	for i, ch := range cfg.ContentSources.YouTubeChannels {
		if ch.Name == "" {
			return fmt.Errorf("youtube channel %d: name is required", i)
		}
		if ch.Identifier == "" {
			return fmt.Errorf("youtube channel %q: identifier is required", ch.Name)
		}
	}
	return nil
}
