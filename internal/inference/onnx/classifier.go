package onnx

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/kailas-cloud/evidex/internal/domain/analysis"
	"github.com/kailas-cloud/evidex/internal/imaging"
)

// Classifier runs a YOLO-cls export with a single [1, nc] output.
type Classifier struct {
	s *session
}

func newClassifier(s *session) (*Classifier, error) {
	if len(s.meta.Classes) == 0 {
		return nil, fmt.Errorf("classifier metadata has no classes")
	}
	if n := volume(s.meta.OutputShapes[0]); n != int64(len(s.meta.Classes)) {
		return nil, fmt.Errorf("classifier output has %d values for %d classes", n, len(s.meta.Classes))
	}
	return &Classifier{s: s}, nil
}

// Classify returns the k most probable labels.
func (c *Classifier) Classify(ctx context.Context, img image.Image, k int) ([]analysis.Label, error) {
	outs, err := c.s.run(ctx, imaging.ToCHW(img, c.s.meta.ImageSize))
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	probs := outs[0]
	if c.s.meta.Softmax {
		probs = softmax(probs)
	}
	return analysis.TopK(probs, c.s.meta.Classes, k), nil
}

// Warmup classifies a blank frame.
func (c *Classifier) Warmup(ctx context.Context) error {
	_, err := c.Classify(ctx, imaging.Blank(c.s.meta.ImageSize), 1)
	return err
}

// Close releases the session.
func (c *Classifier) Close() error { return c.s.close() }

func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return logits
	}
	peak := logits[0]
	for _, v := range logits[1:] {
		peak = max(peak, v)
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - peak))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
