package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/swimsync/swimsync-go/internal/errors"
	"github.com/swimsync/swimsync-go/internal/track"
)

const (
	embedURLFormat = "https://open.spotify.com/embed/playlist/%s"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

var (
	playlistIDPattern = regexp.MustCompile(`playlist/([a-zA-Z0-9]+)`)
	nextDataPattern   = regexp.MustCompile(`<script[^>]*id="__NEXT_DATA__"[^>]*>([^<]+)</script>`)
)

// SpotifyScraper fetches a playlist by scraping the public embed page, which
// carries the full track list in an embedded JSON blob and needs no API
// credentials.
type SpotifyScraper struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewSpotifyScraper creates a scraper with the given request timeout and
// rate limit (requests per second).
func NewSpotifyScraper(timeout time.Duration, requestsPerSecond float64, logger *zap.Logger) *SpotifyScraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	return &SpotifyScraper{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:      logger,
	}
}

// FetchPlaylist downloads the embed page and parses the track list out of it.
func (s *SpotifyScraper) FetchPlaylist(ctx context.Context, playlistURL string) (string, []track.Meta, error) {
	playlistID, err := ExtractPlaylistID(playlistURL)
	if err != nil {
		return "", nil, err
	}

	if err := s.rateLimiter.Wait(ctx); err != nil {
		return "", nil, apperrors.NewFetchError("rate limit wait interrupted", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf(embedURLFormat, playlistID), nil)
	if err != nil {
		return "", nil, apperrors.NewFetchError("failed to build embed request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", nil, apperrors.NewFetchError("failed to fetch playlist page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, apperrors.NewFetchError(
			fmt.Sprintf("playlist page returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", nil, apperrors.NewFetchError("failed to read playlist page", err)
	}

	name, tracks, err := ParseEmbedPage(string(body))
	if err != nil {
		return "", nil, err
	}

	s.logger.Debug("scraped playlist",
		zap.String("playlist_id", playlistID),
		zap.String("name", name),
		zap.Int("tracks", len(tracks)))
	return name, tracks, nil
}

// ExtractPlaylistID pulls the playlist id out of an open.spotify.com URL.
func ExtractPlaylistID(playlistURL string) (string, error) {
	m := playlistIDPattern.FindStringSubmatch(playlistURL)
	if m == nil {
		return "", apperrors.NewValidationError("invalid playlist URL: " + playlistURL)
	}
	return m[1], nil
}

// embedData mirrors the __NEXT_DATA__ JSON the embed page carries.
type embedData struct {
	Props struct {
		PageProps struct {
			State struct {
				Data struct {
					Entity struct {
						Name      string       `json:"name"`
						TrackList []embedTrack `json:"trackList"`
					} `json:"entity"`
				} `json:"data"`
			} `json:"state"`
		} `json:"pageProps"`
	} `json:"props"`
}

type embedTrack struct {
	URI      string  `json:"uri"`
	Title    string  `json:"title"`
	Subtitle string  `json:"subtitle"`
	Duration float64 `json:"duration"`
}

// ParseEmbedPage extracts the playlist name and tracks from embed page HTML.
func ParseEmbedPage(html string) (string, []track.Meta, error) {
	m := nextDataPattern.FindStringSubmatch(html)
	if m == nil {
		return "", nil, apperrors.NewFetchError("could not locate playlist data in page", nil)
	}

	var data embedData
	if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
		return "", nil, apperrors.NewFetchError("failed to parse playlist JSON", err)
	}

	entity := data.Props.PageProps.State.Data.Entity
	name := entity.Name
	if name == "" {
		name = "Spotify Playlist"
	}

	tracks := make([]track.Meta, 0, len(entity.TrackList))
	for _, et := range entity.TrackList {
		sourceID := trackIDFromURI(et.URI)
		meta := track.Meta{
			SourceID: sourceID,
			Title:    defaultString(et.Title, "Unknown"),
			Artist:   defaultString(et.Subtitle, "Unknown"),
			Duration: et.Duration,
		}
		if sourceID != "" {
			meta.URL = "https://open.spotify.com/track/" + sourceID
		}
		tracks = append(tracks, meta)
	}

	if len(tracks) == 0 {
		return "", nil, apperrors.NewFetchError("no tracks found in playlist", nil)
	}
	return name, tracks, nil
}

// trackIDFromURI extracts the id from a "spotify:track:<id>" URI.
func trackIDFromURI(uri string) string {
	if uri == "" {
		return ""
	}
	parts := strings.Split(uri, ":")
	return parts[len(parts)-1]
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
