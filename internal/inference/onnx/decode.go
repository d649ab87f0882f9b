package onnx

import (
	"image"
	"math"
	"sort"

	"github.com/kailas-cloud/evidex/internal/domain/instance"
)

// Segmentation post-processing defaults of the exported YOLO-seg model.
const (
	DefaultConfThreshold = 0.25
	DefaultIoUThreshold  = 0.45
	DefaultMaxDetections = 300
	maskCoefficients     = 32
	maskThreshold        = 0.5
)

// box is x1, y1, x2, y2 in model input pixels.
type box [4]float32

type candidate struct {
	box   box
	score float32
	class int
	coefs []float32
}

// decodeCandidates reads a [1, 4+nc+32, anchors] output. Rows are features, columns anchors.
func decodeCandidates(out []float32, channels, anchors, numClasses int, conf float32) []candidate {
	if channels != 4+numClasses+maskCoefficients || len(out) < channels*anchors {
		return nil
	}
	at := func(row, col int) float32 { return out[row*anchors+col] }

	var cands []candidate
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			if s := at(4+c, i); s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < conf {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		coefs := make([]float32, maskCoefficients)
		for k := range coefs {
			coefs[k] = at(4+numClasses+k, i)
		}
		cands = append(cands, candidate{
			box:   box{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
			score: bestScore,
			class: best,
			coefs: coefs,
		})
	}
	return cands
}

// nms keeps the highest-scoring boxes per class, dropping overlaps above the IoU threshold.
func nms(cands []candidate, iouThreshold float32, maxDet int) []candidate {
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	kept := make([]candidate, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		if len(kept) == maxDet {
			break
		}
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && sorted[j].class == sorted[i].class && iou(sorted[i].box, sorted[j].box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b box) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])
	inter := max(0, x2-x1) * max(0, y2-y1)
	union := area(a) + area(b) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func area(b box) float32 {
	return max(0, b[2]-b[0]) * max(0, b[3]-b[1])
}

// decodeMask computes sigmoid(coefs · protos) at prototype resolution, cropped to the box.
// protos is [32, mh, mw]; the box is in input pixels of an inputSize square.
func decodeMask(coefs, protos []float32, mh, mw, inputSize int, b box) instance.Mask {
	m := instance.NewMask(mw, mh)
	if len(protos) < maskCoefficients*mh*mw {
		return m
	}

	sx := float32(mw) / float32(inputSize)
	sy := float32(mh) / float32(inputSize)
	x1, y1 := int(b[0]*sx), int(b[1]*sy)
	x2, y2 := int(math.Ceil(float64(b[2]*sx))), int(math.Ceil(float64(b[3]*sy)))
	x1, y1 = max(x1, 0), max(y1, 0)
	x2, y2 = min(x2, mw), min(y2, mh)

	plane := mh * mw
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			p := y*mw + x
			var acc float64
			for k, c := range coefs {
				acc += float64(c) * float64(protos[k*plane+p])
			}
			if sigmoid(acc) > maskThreshold {
				m.Set(x, y, true)
			}
		}
	}
	return m
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// scaleBox maps an input-space box onto the source image, clamped to its bounds.
func scaleBox(b box, inputSize int, bounds image.Rectangle) image.Rectangle {
	sx := float32(bounds.Dx()) / float32(inputSize)
	sy := float32(bounds.Dy()) / float32(inputSize)
	r := image.Rect(
		bounds.Min.X+int(b[0]*sx), bounds.Min.Y+int(b[1]*sy),
		bounds.Min.X+int(math.Ceil(float64(b[2]*sx))), bounds.Min.Y+int(math.Ceil(float64(b[3]*sy))),
	)
	return r.Intersect(bounds)
}
