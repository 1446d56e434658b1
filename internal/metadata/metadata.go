// Package metadata verifies and repairs tags on downloaded audio files.
// spotDL usually writes complete tags itself; this package is the safety net
// for the files where it did not, so that tracks show a proper title and
// artist on the device instead of a bare filename.
package metadata

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"go.uber.org/zap"

	"github.com/swimsync/swimsync-go/internal/track"
)

// Options controls what the manager touches.
type Options struct {
	VerifyTags   bool
	EmbedArtwork bool
	ArtworkSize  int
}

// Tags is the subset of tag data SwimSync reads and writes.
type Tags struct {
	Title       string
	Artist      string
	Album       string
	HasArtwork  bool
	ArtworkData []byte
	ArtworkMIME string
}

// Manager applies and reads tags on MP3 and FLAC files.
type Manager struct {
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger
}

// NewManager creates a tag manager. A zero ArtworkSize keeps covers at their
// source resolution.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		opts:       opts,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// EnsureTags fills in missing title/artist/album tags from the fetched track
// metadata and embeds cover artwork when configured. Existing tag values are
// never overwritten; spotDL's output wins where it provided one.
func (m *Manager) EnsureTags(ctx context.Context, filePath string, meta track.Meta) error {
	if !m.opts.VerifyTags && !m.opts.EmbedArtwork {
		return nil
	}

	existing, err := m.ReadTags(filePath)
	if err != nil {
		return err
	}

	var patch Tags
	changed := false

	if m.opts.VerifyTags {
		if existing.Title == "" && meta.Title != "" {
			patch.Title = meta.Title
			changed = true
		}
		if existing.Artist == "" && meta.Artist != "" {
			patch.Artist = meta.Artist
			changed = true
		}
		if existing.Album == "" && meta.Album != "" {
			patch.Album = meta.Album
			changed = true
		}
	}

	if m.opts.EmbedArtwork && !existing.HasArtwork && meta.CoverURL != "" {
		data, mime, err := m.fetchArtwork(ctx, meta.CoverURL, m.opts.ArtworkSize)
		if err != nil {
			// Missing artwork is cosmetic; the track is still usable
			m.logger.Warn("artwork fetch failed",
				zap.String("url", meta.CoverURL), zap.Error(err))
		} else {
			patch.ArtworkData = data
			patch.ArtworkMIME = mime
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return m.WriteTags(filePath, patch)
}

// WriteTags applies the non-empty fields of tags to the file. The format is
// chosen by extension.
func (m *Manager) WriteTags(filePath string, tags Tags) error {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return m.writeMP3Tags(filePath, tags)
	case ".flac":
		return m.writeFLACTags(filePath, tags)
	default:
		return fmt.Errorf("unsupported file format: %s", filepath.Ext(filePath))
	}
}

// ReadTags reads the tags SwimSync cares about. Artwork bytes are not
// loaded; only their presence is reported.
func (m *Manager) ReadTags(filePath string) (Tags, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return m.readMP3Tags(filePath)
	case ".flac":
		return m.readFLACTags(filePath)
	default:
		return Tags{}, fmt.Errorf("unsupported file format: %s", filepath.Ext(filePath))
	}
}

func (m *Manager) writeMP3Tags(filePath string, tags Tags) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)

	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}

	if len(tags.ArtworkData) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    defaultMIME(tags.ArtworkMIME),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     tags.ArtworkData,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 tags: %w", err)
	}
	return nil
}

func (m *Manager) readMP3Tags(filePath string) (Tags, error) {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return Tags{}, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	return Tags{
		Title:      tag.Title(),
		Artist:     tag.Artist(),
		Album:      tag.Album(),
		HasArtwork: len(tag.GetFrames(tag.CommonID("Attached picture"))) > 0,
	}, nil
}

func (m *Manager) writeFLACTags(filePath string, tags Tags) error {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	var cmtBlock *flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmtBlock = block
			break
		}
	}
	if cmtBlock == nil {
		cmtBlock = &flac.MetaDataBlock{Type: flac.VorbisComment}
		f.Meta = append(f.Meta, cmtBlock)
	}

	cmt, err := flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
	if err != nil {
		cmt = flacvorbis.New()
	}

	if tags.Title != "" {
		cmt.Add("TITLE", tags.Title)
	}
	if tags.Artist != "" {
		cmt.Add("ARTIST", tags.Artist)
	}
	if tags.Album != "" {
		cmt.Add("ALBUM", tags.Album)
	}

	res := cmt.Marshal()
	cmtBlock.Data = res.Data

	if len(tags.ArtworkData) > 0 && !hasPictureBlock(f) {
		f.Meta = append(f.Meta, &flac.MetaDataBlock{
			Type: flac.Picture,
			Data: buildFLACPictureBlock(tags.ArtworkData, tags.ArtworkMIME),
		})
	}

	if err := f.Save(filePath); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

func (m *Manager) readFLACTags(filePath string) (Tags, error) {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return Tags{}, fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	tags := Tags{HasArtwork: hasPictureBlock(f)}

	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}
		if v, err := cmt.Get("TITLE"); err == nil && len(v) > 0 {
			tags.Title = v[0]
		}
		if v, err := cmt.Get("ARTIST"); err == nil && len(v) > 0 {
			tags.Artist = v[0]
		}
		if v, err := cmt.Get("ALBUM"); err == nil && len(v) > 0 {
			tags.Album = v[0]
		}
		break
	}

	return tags, nil
}

func hasPictureBlock(f *flac.File) bool {
	for _, block := range f.Meta {
		if block.Type == flac.Picture {
			return true
		}
	}
	return false
}

// buildFLACPictureBlock encodes a METADATA_BLOCK_PICTURE payload: picture
// type 3 (front cover), MIME, description, then zeroed dimensions the decoder
// derives itself, then the image bytes. All integers are big-endian.
func buildFLACPictureBlock(imageData []byte, mimeType string) []byte {
	mimeType = defaultMIME(mimeType)
	description := "Front Cover"

	size := 4 + 4 + len(mimeType) + 4 + len(description) + 4*4 + 4 + len(imageData)
	data := make([]byte, size)

	pos := 0
	writeUint32BE(data[pos:], 3)
	pos += 4

	writeUint32BE(data[pos:], uint32(len(mimeType)))
	pos += 4
	copy(data[pos:], mimeType)
	pos += len(mimeType)

	writeUint32BE(data[pos:], uint32(len(description)))
	pos += 4
	copy(data[pos:], description)
	pos += len(description)

	// width, height, color depth, color count
	pos += 4 * 4

	writeUint32BE(data[pos:], uint32(len(imageData)))
	pos += 4
	copy(data[pos:], imageData)

	return data
}

func writeUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func defaultMIME(mime string) string {
	if mime == "" {
		return "image/jpeg"
	}
	return mime
}
