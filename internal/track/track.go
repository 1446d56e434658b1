// Package track holds the track descriptor shared by the fetcher, the content
// store, the manifest store and the reconciliation engine, together with the
// identity-key and filename rules they all have to agree on.
package track

import (
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Meta describes one logical track as reported by a playlist source.
type Meta struct {
	SourceID string  `json:"source_id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album"`
	URL      string  `json:"url,omitempty"`
	CoverURL string  `json:"cover_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// NormalizeText folds common unicode whitespace variants and applies NFC
// normalization so that the same title rendered by different sources compares
// equal.
func NormalizeText(text string) string {
	replacer := strings.NewReplacer(
		"\u00a0", " ", // non-breaking space
		"\u200b", "", // zero-width space
		"\u2009", " ", // thin space
		"\u202f", " ", // narrow no-break space
	)
	text = replacer.Replace(text)
	return norm.NFC.String(text)
}

// FirstArtist returns the text before the first comma in an artist field.
// Sources disagree on whether featured artists are listed ("Artist1, Artist2"
// vs "Artist1"); matching on the first artist only tolerates both.
func FirstArtist(artist string) string {
	if i := strings.Index(artist, ","); i >= 0 {
		artist = artist[:i]
	}
	return strings.TrimSpace(artist)
}

// Key returns the identity key for a track. The external source id is
// preferred when present; otherwise the key is built from the normalized,
// lowercased first artist and title.
func (m Meta) Key() string {
	if id := strings.TrimSpace(m.SourceID); id != "" {
		return "ext::" + id
	}
	return KeyFor(m.Artist, m.Title)
}

// KeyFor builds the artist/title fallback identity key.
func KeyFor(artist, title string) string {
	a := strings.ToLower(strings.TrimSpace(NormalizeText(artist)))
	t := strings.ToLower(strings.TrimSpace(NormalizeText(title)))
	return FirstArtist(a) + "::" + t
}

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeFilename removes characters that are invalid on common filesystems
// and guards against path traversal.
func SanitizeFilename(name string) string {
	name = NormalizeText(name)
	name = invalidFilenameChars.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Trim(name, ". ")
	if len(name) > 200 {
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		if len(base) > 195 {
			base = base[:195]
		}
		name = base + ext
	}
	return name
}

// DisplayFilename generates the "Artist - Title.ext" filename used inside
// playlist folders.
func (m Meta) DisplayFilename(ext string) string {
	artist := m.Artist
	if artist == "" {
		artist = "Unknown"
	}
	title := m.Title
	if title == "" {
		title = "Unknown"
	}
	name := SanitizeFilename(artist + " - " + title)
	if name == "" || name == "." {
		name = "Unknown Track"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return name + ext
}

// ParseFilename recovers artist and title from an "Artist - Title.ext"
// filename. Everything before the first " - " is the artist; files without a
// separator get artist "Unknown".
func ParseFilename(filename string) (artist, title string) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	if i := strings.Index(stem, " - "); i >= 0 {
		return strings.TrimSpace(stem[:i]), strings.TrimSpace(stem[i+3:])
	}
	return "Unknown", stem
}

// IsAudioFile reports whether a filename has a supported audio extension.
func IsAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3", ".flac":
		return true
	}
	return false
}
