package onnx

import (
	"context"
	"fmt"
	"image"

	"github.com/kailas-cloud/evidex/internal/imaging"
)

// Extractor runs a backbone export (classification head removed) and flattens its output.
type Extractor struct {
	s *session
}

// Extract returns the raw feature vector for img.
func (x *Extractor) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	outs, err := x.s.run(ctx, imaging.ToCHW(img, x.s.meta.ImageSize))
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return outs[0], nil
}

// Warmup extracts features from a blank frame.
func (x *Extractor) Warmup(ctx context.Context) error {
	_, err := x.Extract(ctx, imaging.Blank(x.s.meta.ImageSize))
	return err
}

// Close releases the session.
func (x *Extractor) Close() error { return x.s.close() }
