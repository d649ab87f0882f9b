package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Registered decoders: the pipeline accepts whatever evidence photos arrive as.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kailas-cloud/evidex/internal/domain"
)

// DefaultMaxPixels caps width*height of a decoded image (about 8192x10923).
const DefaultMaxPixels = 89_478_485

// Decode parses image bytes. Any failure, including an empty image or one whose header
// declares more than maxPixels pixels, is domain.ErrInvalidImageInput. The header is
// checked before any pixel buffer is allocated. maxPixels <= 0 means DefaultMaxPixels.
func Decode(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", domain.ErrInvalidImageInput)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidImageInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: zero-sized image", domain.ErrInvalidImageInput)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels",
			domain.ErrInvalidImageInput, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidImageInput, err)
	}
	if img.Bounds().Empty() {
		return nil, "", fmt.Errorf("%w: zero-sized image", domain.ErrInvalidImageInput)
	}
	return img, format, nil
}

// EncodeJPEG renders img as a JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
