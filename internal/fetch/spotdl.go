package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/swimsync/swimsync-go/internal/errors"
	"github.com/swimsync/swimsync-go/internal/track"
)

// SpotdlFetcher asks the external spotDL tool for the playlist contents.
// Slower than scraping and subject to Spotify API rate limits, but works
// when the embed page format changes.
type SpotdlFetcher struct {
	spotdlPath string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewSpotdlFetcher creates a fetcher for the given spotdl executable.
func NewSpotdlFetcher(spotdlPath string, timeout time.Duration, logger *zap.Logger) *SpotdlFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spotdlPath == "" {
		spotdlPath = "spotdl"
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &SpotdlFetcher{spotdlPath: spotdlPath, timeout: timeout, logger: logger}
}

// saveOutput mirrors the JSON document `spotdl save --save-file -` emits.
type saveOutput struct {
	Name  string     `json:"name"`
	Songs []saveSong `json:"songs"`
}

type saveSong struct {
	SongID    string   `json:"song_id"`
	Name      string   `json:"name"`
	Artists   []string `json:"artists"`
	AlbumName string   `json:"album_name"`
	URL       string   `json:"url"`
	Duration  float64  `json:"duration"`
	CoverURL  string   `json:"cover_url"`
}

// FetchPlaylist runs `spotdl save` and falls back to `spotdl url` if the
// JSON output cannot be used.
func (f *SpotdlFetcher) FetchPlaylist(ctx context.Context, playlistURL string) (string, []track.Meta, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.spotdlPath, "save", playlistURL, "--save-file", "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", nil, apperrors.NewFetchError("timeout fetching playlist", ctx.Err())
		}
		f.logger.Debug("spotdl save failed, trying url listing",
			zap.Error(err), zap.String("stderr", stderr.String()))
		return f.fetchViaURLListing(ctx, playlistURL)
	}

	name, tracks, err := ParseSaveOutput(stdout.Bytes())
	if err != nil {
		f.logger.Debug("spotdl save output unusable, trying url listing", zap.Error(err))
		return f.fetchViaURLListing(ctx, playlistURL)
	}
	return name, tracks, nil
}

// ParseSaveOutput decodes the `spotdl save` JSON document.
func ParseSaveOutput(data []byte) (string, []track.Meta, error) {
	var out saveOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return "", nil, apperrors.NewFetchError("failed to parse spotdl output", err)
	}

	name := out.Name
	if name == "" {
		name = "Unknown Playlist"
	}

	tracks := make([]track.Meta, 0, len(out.Songs))
	for _, s := range out.Songs {
		artist := strings.Join(s.Artists, ", ")
		tracks = append(tracks, track.Meta{
			SourceID: s.SongID,
			Title:    defaultString(s.Name, "Unknown"),
			Artist:   defaultString(artist, "Unknown"),
			Album:    s.AlbumName,
			URL:      s.URL,
			CoverURL: s.CoverURL,
			Duration: s.Duration,
		})
	}

	if len(tracks) == 0 {
		return "", nil, apperrors.NewFetchError("no tracks in spotdl output", nil)
	}
	return name, tracks, nil
}

// fetchViaURLListing runs `spotdl url`, which prints "Artist - Title" lines.
// Source ids are unavailable here, so identity falls back to artist/title.
func (f *SpotdlFetcher) fetchViaURLListing(ctx context.Context, playlistURL string) (string, []track.Meta, error) {
	cmd := exec.CommandContext(ctx, f.spotdlPath, "url", playlistURL)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", nil, apperrors.NewFetchError("timeout fetching playlist", ctx.Err())
		}
		return "", nil, apperrors.NewFetchError("spotdl url listing failed", err)
	}

	tracks := ParseURLListing(stdout.String())
	if len(tracks) == 0 {
		return "", nil, apperrors.NewFetchError("no tracks found in playlist; is it public?", nil)
	}
	return "Spotify Playlist", tracks, nil
}

// ParseURLListing parses the line-oriented `spotdl url` output.
func ParseURLListing(output string) []track.Meta {
	var tracks []track.Meta
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || hasNoisePrefix(line) {
			continue
		}

		artist, title := "Unknown", line
		if i := strings.Index(line, " - "); i >= 0 {
			artist = strings.TrimSpace(line[:i])
			title = strings.TrimSpace(line[i+3:])
			if title == "" {
				title = "Unknown"
			}
		}
		tracks = append(tracks, track.Meta{Title: title, Artist: artist})
	}
	return tracks
}

func hasNoisePrefix(line string) bool {
	for _, p := range []string{"Processing", "Found", "Downloading", "[", "Error"} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
