// Package fetch resolves a playlist URL into its display name and track
// list. Two strategies exist: scraping Spotify's embed page (fast, no rate
// limits) and asking spotDL (slower, needs the external tool). The chain
// fetcher tries them in that order, treating scrape failures as soft.
package fetch

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/swimsync/swimsync-go/internal/errors"
	"github.com/swimsync/swimsync-go/internal/monitoring"
	"github.com/swimsync/swimsync-go/internal/track"
)

// Fetcher resolves a playlist URL into a display name and an ordered track
// list. Any failure means "no tracks available" for this attempt; callers
// abort the sync without mutating stored state.
type Fetcher interface {
	FetchPlaylist(ctx context.Context, playlistURL string) (name string, tracks []track.Meta, err error)
}

// Chain tries the embed scraper first and falls back to spotDL. A scrape
// failure is a soft failure (next strategy); only the last strategy's error
// is surfaced.
type Chain struct {
	fetchers []Fetcher
	names    []string
	logger   *zap.Logger
}

// NewChain builds the default scrape-then-spotdl chain.
func NewChain(scraper *SpotifyScraper, spotdl *SpotdlFetcher, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		fetchers: []Fetcher{scraper, spotdl},
		names:    []string{"scrape", "spotdl"},
		logger:   logger,
	}
}

// FetchPlaylist runs the strategies in order, returning the first success.
func (c *Chain) FetchPlaylist(ctx context.Context, playlistURL string) (string, []track.Meta, error) {
	var lastErr error
	for i, f := range c.fetchers {
		name, tracks, err := f.FetchPlaylist(ctx, playlistURL)
		if err == nil {
			monitoring.RecordFetch(c.names[i], "success")
			return name, tracks, nil
		}
		monitoring.RecordFetch(c.names[i], "failure")
		c.logger.Warn("playlist fetch strategy failed",
			zap.String("strategy", c.names[i]), zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperrors.NewFetchError("no fetch strategies configured", nil)
	}
	return "", nil, lastErr
}
