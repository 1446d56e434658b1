package fetch

import (
	"context"
	"testing"
	"time"
)

func TestExtractPlaylistID(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", "37i9dQZF1DXcBWIGoYBM5M", false},
		{"https://open.spotify.com/playlist/abc123?si=xyz", "abc123", false},
		{"https://open.spotify.com/album/whatever", "", true},
		{"not a url", "", true},
	}
	for _, tt := range tests {
		got, err := ExtractPlaylistID(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ExtractPlaylistID(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractPlaylistID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

const embedPageFixture = `<html><head></head><body>
<script id="__NEXT_DATA__" type="application/json">{
  "props": {
    "pageProps": {
      "state": {
        "data": {
          "entity": {
            "name": "Swim Training",
            "trackList": [
              {"uri": "spotify:track:id1", "title": "Song One", "subtitle": "Artist A", "duration": 215000},
              {"uri": "spotify:track:id2", "title": "Song Two", "subtitle": "Artist B, Artist C", "duration": 180000},
              {"uri": "", "title": "No URI Song", "subtitle": "Artist D", "duration": 0}
            ]
          }
        }
      }
    }
  }
}</script>
</body></html>`

func TestParseEmbedPage(t *testing.T) {
	name, tracks, err := ParseEmbedPage(embedPageFixture)
	if err != nil {
		t.Fatal(err)
	}
	if name != "Swim Training" {
		t.Errorf("name = %q, want Swim Training", name)
	}
	if len(tracks) != 3 {
		t.Fatalf("len(tracks) = %d, want 3", len(tracks))
	}

	first := tracks[0]
	if first.SourceID != "id1" || first.Title != "Song One" || first.Artist != "Artist A" {
		t.Errorf("first track = %+v", first)
	}
	if first.URL != "https://open.spotify.com/track/id1" {
		t.Errorf("first track URL = %q", first.URL)
	}

	// Multi-artist subtitle is preserved verbatim
	if tracks[1].Artist != "Artist B, Artist C" {
		t.Errorf("second track artist = %q", tracks[1].Artist)
	}

	// Missing URI means no source id and no URL
	if tracks[2].SourceID != "" || tracks[2].URL != "" {
		t.Errorf("third track = %+v", tracks[2])
	}
}

func TestParseEmbedPageFailures(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{"no script tag", "<html><body>nothing here</body></html>"},
		{"invalid json", `<script id="__NEXT_DATA__">{broken</script>`},
		{"empty track list", `<script id="__NEXT_DATA__">{"props":{"pageProps":{"state":{"data":{"entity":{"name":"Empty","trackList":[]}}}}}}</script>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseEmbedPage(tt.html); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseSaveOutput(t *testing.T) {
	data := []byte(`{
		"name": "My List",
		"songs": [
			{"song_id": "s1", "name": "One", "artists": ["A", "B"], "album_name": "Alb", "url": "https://x/1", "duration": 200},
			{"song_id": "", "name": "Two", "artists": ["C"], "album_name": "", "url": "", "duration": 100}
		]
	}`)

	name, tracks, err := ParseSaveOutput(data)
	if err != nil {
		t.Fatal(err)
	}
	if name != "My List" {
		t.Errorf("name = %q", name)
	}
	if len(tracks) != 2 {
		t.Fatalf("len(tracks) = %d, want 2", len(tracks))
	}
	if tracks[0].Artist != "A, B" || tracks[0].Album != "Alb" {
		t.Errorf("first track = %+v", tracks[0])
	}

	if _, _, err := ParseSaveOutput([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
	if _, _, err := ParseSaveOutput([]byte(`{"name":"Empty","songs":[]}`)); err == nil {
		t.Error("expected error for empty playlist")
	}
}

func TestParseURLListing(t *testing.T) {
	output := `Processing query
Found 3 songs
Artist A - Song One
[progress noise]
Artist B - Song Two
Loose Title Only

Error: ignored line`

	tracks := ParseURLListing(output)
	if len(tracks) != 3 {
		t.Fatalf("len(tracks) = %d, want 3: %+v", len(tracks), tracks)
	}
	if tracks[0].Artist != "Artist A" || tracks[0].Title != "Song One" {
		t.Errorf("first = %+v", tracks[0])
	}
	if tracks[2].Artist != "Unknown" || tracks[2].Title != "Loose Title Only" {
		t.Errorf("third = %+v", tracks[2])
	}
}

func TestChainFallsBack(t *testing.T) {
	// The chain is exercised through its concrete strategies: a scraper
	// pointed at an unreachable address fails soft, and spotdl with a bogus
	// path fails hard, so the chain surfaces the final error.
	scraper := NewSpotifyScraper(100*time.Millisecond, 10, nil)
	spotdl := NewSpotdlFetcher("/nonexistent/spotdl-binary", time.Second, nil)
	chain := NewChain(scraper, spotdl, nil)

	_, _, err := chain.FetchPlaylist(context.Background(),
		"https://open.spotify.com/playlist/doesnotmatter000000000")
	if err == nil {
		t.Fatal("expected chain to fail when every strategy fails")
	}
}
