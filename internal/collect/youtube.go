package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mphagenaars/focusferry/internal/config"
	"github.com/mphagenaars/focusferry/internal/content"
)

// videoDescriptionLimit bounds video descriptions at normalization time.
const videoDescriptionLimit = 200

const defaultYouTubeAPIBase = "https://www.googleapis.com/youtube/v3"

// YouTubeCollector fetches recent uploads from a channel via the YouTube
// Data API v3: one channels.list call to resolve the uploads playlist, one
// playlistItems.list call for the videos.
type YouTubeCollector struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewYouTubeCollector(apiKey string) *YouTubeCollector {
	return &YouTubeCollector{
		apiKey:  apiKey,
		baseURL: defaultYouTubeAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type ytChannelResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type ytVideoResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			DefaultAudioLanguage string `json:"defaultAudioLanguage"`
			DefaultLanguage      string `json:"defaultLanguage"`
		} `json:"snippet"`
	} `json:"items"`
}

type ytPlaylistResponse struct {
	Items []struct {
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			PublishedAt  string `json:"publishedAt"`
			ChannelTitle string `json:"channelTitle"`
			ResourceID   struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
			Thumbnails struct {
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

func (c *YouTubeCollector) Fetch(ctx context.Context, src config.Source) ([]content.Item, error) {
	channelID, err := c.resolveChannelID(ctx, src.Locator)
	if err != nil {
		return nil, fmt.Errorf("resolving channel %s: %w", src.Name, err)
	}

	playlistID, err := c.uploadsPlaylist(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("looking up uploads for %s: %w", src.Name, err)
	}

	var pr ytPlaylistResponse
	err = c.get(ctx, "playlistItems", url.Values{
		"part":       {"snippet"},
		"playlistId": {playlistID},
		"maxResults": {strconv.Itoa(src.MaxItems)},
	}, &pr)
	if err != nil {
		return nil, fmt.Errorf("listing videos for %s: %w", src.Name, err)
	}

	videoIDs := make([]string, 0, len(pr.Items))
	for _, v := range pr.Items {
		if id := v.Snippet.ResourceID.VideoID; id != "" {
			videoIDs = append(videoIDs, id)
		}
	}
	langs := c.titleLanguages(ctx, videoIDs)

	now := time.Now()
	items := make([]content.Item, 0, len(pr.Items))
	for _, v := range pr.Items {
		s := v.Snippet
		if s.ResourceID.VideoID == "" {
			continue
		}
		pub := now
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			pub = t
		}
		items = append(items, content.Item{
			ID:           "youtube_" + s.ResourceID.VideoID,
			Kind:         content.KindVideo,
			Source:       src.Name,
			Title:        s.Title,
			TitleLang:    langs[s.ResourceID.VideoID],
			URL:          "https://www.youtube.com/watch?v=" + s.ResourceID.VideoID,
			Description:  truncate(s.Description, videoDescriptionLimit),
			ThumbnailURL: s.Thumbnails.Medium.URL,
			Published:    pub,
			CollectedAt:  now,
		})
	}

	return capNewest(items, src.MaxItems), nil
}

// titleLanguages looks up language tags for a batch of videos in one
// videos.list call; playlistItems snippets do not carry language fields.
// Best effort: a failed lookup leaves the tags empty rather than failing
// the source.
func (c *YouTubeCollector) titleLanguages(ctx context.Context, ids []string) map[string]string {
	if len(ids) == 0 {
		return nil
	}

	var vr ytVideoResponse
	err := c.get(ctx, "videos", url.Values{
		"part": {"snippet"},
		"id":   {strings.Join(ids, ",")},
	}, &vr)
	if err != nil {
		return nil
	}

	langs := make(map[string]string, len(vr.Items))
	for _, v := range vr.Items {
		lang := v.Snippet.DefaultAudioLanguage
		if lang == "" {
			lang = v.Snippet.DefaultLanguage
		}
		if lang != "" {
			langs[v.ID] = lang
		}
	}
	return langs
}

// resolveChannelID accepts raw UC… channel IDs and @handles.
func (c *YouTubeCollector) resolveChannelID(ctx context.Context, identifier string) (string, error) {
	if strings.HasPrefix(identifier, "UC") && len(identifier) == 24 {
		return identifier, nil
	}

	var cr ytChannelResponse
	err := c.get(ctx, "channels", url.Values{
		"part":      {"id"},
		"forHandle": {strings.TrimPrefix(identifier, "@")},
	}, &cr)
	if err != nil {
		return "", err
	}
	if len(cr.Items) == 0 {
		return "", fmt.Errorf("channel not found: %s", identifier)
	}
	return cr.Items[0].ID, nil
}

func (c *YouTubeCollector) uploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	var cr ytChannelResponse
	err := c.get(ctx, "channels", url.Values{
		"part": {"contentDetails"},
		"id":   {channelID},
	}, &cr)
	if err != nil {
		return "", err
	}
	if len(cr.Items) == 0 {
		return "", fmt.Errorf("channel not found: %s", channelID)
	}
	uploads := cr.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return "", fmt.Errorf("channel %s has no uploads playlist", channelID)
	}
	return uploads, nil
}

func (c *YouTubeCollector) get(ctx context.Context, resource string, params url.Values, dst any) error {
	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+resource+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("youtube API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		// Quota exceeded surfaces as 403; a per-source failure like any other.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("youtube API quota or access error: %s", string(b))
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("youtube API %d: %s", resp.StatusCode, string(b))
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}
