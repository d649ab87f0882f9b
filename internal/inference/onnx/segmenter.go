package onnx

import (
	"context"
	"fmt"
	"image"

	"github.com/kailas-cloud/evidex/internal/domain/instance"
	"github.com/kailas-cloud/evidex/internal/imaging"
)

// Segmenter runs a YOLO-seg export: output0 [1, 4+nc+32, anchors], output1 [1, 32, mh, mw].
type Segmenter struct {
	s      *session
	conf   float32
	iou    float32
	maxDet int
}

func newSegmenter(s *session) (*Segmenter, error) {
	meta := s.meta
	if len(meta.OutputShapes) != 2 {
		return nil, fmt.Errorf("segmentation model needs 2 outputs, got %d", len(meta.OutputShapes))
	}
	det, protos := meta.OutputShapes[0], meta.OutputShapes[1]
	if len(det) != 3 || len(protos) != 4 {
		return nil, fmt.Errorf("unexpected segmentation output shapes %v, %v", det, protos)
	}
	if want := int64(4 + len(meta.Classes) + maskCoefficients); det[1] != want {
		return nil, fmt.Errorf("output0 has %d channels, %d classes need %d", det[1], len(meta.Classes), want)
	}
	if protos[1] != maskCoefficients {
		return nil, fmt.Errorf("output1 has %d prototypes, want %d", protos[1], maskCoefficients)
	}
	return &Segmenter{s: s, conf: DefaultConfThreshold, iou: DefaultIoUThreshold, maxDet: DefaultMaxDetections}, nil
}

// Segment returns detected instances ordered by confidence. No detections is an empty slice.
func (g *Segmenter) Segment(ctx context.Context, img image.Image) ([]instance.Detected, error) {
	size := g.s.meta.ImageSize
	outs, err := g.s.run(ctx, imaging.ToCHW(img, size))
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}

	det, protos := g.s.meta.OutputShapes[0], g.s.meta.OutputShapes[1]
	cands := decodeCandidates(outs[0], int(det[1]), int(det[2]), len(g.s.meta.Classes), g.conf)
	kept := nms(cands, g.iou, g.maxDet)

	mh, mw := int(protos[2]), int(protos[3])
	bounds := img.Bounds()
	result := make([]instance.Detected, 0, len(kept))
	for i, c := range kept {
		result = append(result, instance.Detected{
			Index:      i,
			ClassID:    c.class,
			ClassLabel: g.label(c.class),
			Confidence: c.score,
			Box:        scaleBox(c.box, size, bounds),
			Mask:       decodeMask(c.coefs, outs[1], mh, mw, size, c.box),
		})
	}
	return result, nil
}

func (g *Segmenter) label(id int) string {
	if id < 0 || id >= len(g.s.meta.Classes) {
		return "Unknown"
	}
	return g.s.meta.Classes[id]
}

// Classes returns the class id → label table from the model metadata.
func (g *Segmenter) Classes() map[int]string {
	out := make(map[int]string, len(g.s.meta.Classes))
	for i, c := range g.s.meta.Classes {
		out[i] = c
	}
	return out
}

// Warmup segments a blank frame.
func (g *Segmenter) Warmup(ctx context.Context) error {
	_, err := g.Segment(ctx, imaging.Blank(g.s.meta.ImageSize))
	return err
}

// Close releases the session.
func (g *Segmenter) Close() error { return g.s.close() }
