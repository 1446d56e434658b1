package metadata

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"github.com/nfnt/resize"
)

// Covers come from CDNs at fixed sizes; anything past a few MB is not a
// cover.
const maxArtworkBytes = 10 << 20

// fetchArtwork downloads a cover image and scales it down to targetSize on
// its longest edge. A failed resize falls back to the original bytes.
func (m *Manager) fetchArtwork(ctx context.Context, url string, targetSize int) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid artwork URL: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download artwork: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read artwork data: %w", err)
	}

	mimeType := defaultMIME(resp.Header.Get("Content-Type"))

	if targetSize > 0 {
		if resized, err := resizeImage(imageData, targetSize); err == nil {
			return resized, mimeType, nil
		}
	}
	return imageData, mimeType, nil
}

// resizeImage scales an image so its longest edge is targetSize, preserving
// aspect ratio. Images already at or below the target are returned unchanged.
func resizeImage(imageData []byte, targetSize int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= targetSize && height <= targetSize {
		return imageData, nil
	}

	var resized image.Image
	if width > height {
		resized = resize.Resize(uint(targetSize), 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, uint(targetSize), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}
