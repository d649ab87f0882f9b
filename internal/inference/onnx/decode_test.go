package onnx

import (
	"image"
	"math"
	"testing"
)

// synthOutput builds a [4+nc+32, anchors] detection tensor.
func synthOutput(numClasses int, rows [][]float32) (out []float32, channels, anchors int) {
	channels = 4 + numClasses + maskCoefficients
	anchors = len(rows)
	out = make([]float32, channels*anchors)
	for i, r := range rows {
		for c, v := range r {
			out[c*anchors+i] = v
		}
	}
	return out, channels, anchors
}

func anchor(cx, cy, w, h float32, scores ...float32) []float32 {
	return append([]float32{cx, cy, w, h}, scores...)
}

func TestDecodeCandidates(t *testing.T) {
	out, ch, n := synthOutput(2, [][]float32{
		anchor(100, 100, 50, 50, 0.9, 0.1),
		anchor(300, 300, 20, 20, 0.1, 0.2), // below threshold
		anchor(400, 200, 40, 80, 0.3, 0.6),
	})

	cands := decodeCandidates(out, ch, n, 2, DefaultConfThreshold)
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
	if cands[0].class != 0 || cands[0].score != 0.9 {
		t.Errorf("first = class %d score %v", cands[0].class, cands[0].score)
	}
	if cands[0].box != (box{75, 75, 125, 125}) {
		t.Errorf("box = %v", cands[0].box)
	}
	if cands[1].class != 1 {
		t.Errorf("second class = %d, want 1", cands[1].class)
	}
	if len(cands[1].coefs) != maskCoefficients {
		t.Errorf("coefs = %d", len(cands[1].coefs))
	}
}

func TestDecodeCandidates_ShapeMismatch(t *testing.T) {
	out, ch, n := synthOutput(2, [][]float32{anchor(1, 1, 1, 1, 0.9, 0)})
	if got := decodeCandidates(out, ch, n, 3, 0.25); got != nil {
		t.Errorf("expected nil on class count mismatch, got %v", got)
	}
}

func TestNMS(t *testing.T) {
	cands := []candidate{
		{box: box{0, 0, 10, 10}, score: 0.8, class: 0},
		{box: box{1, 1, 11, 11}, score: 0.9, class: 0}, // overlaps the first
		{box: box{1, 1, 11, 11}, score: 0.7, class: 1}, // same box, other class
		{box: box{50, 50, 60, 60}, score: 0.5, class: 0},
	}

	kept := nms(cands, DefaultIoUThreshold, DefaultMaxDetections)
	if len(kept) != 3 {
		t.Fatalf("kept %d, want 3", len(kept))
	}
	wantScores := []float32{0.9, 0.7, 0.5}
	for i, w := range wantScores {
		if kept[i].score != w {
			t.Errorf("kept[%d].score = %v, want %v", i, kept[i].score, w)
		}
	}
}

func TestNMS_MaxDetections(t *testing.T) {
	cands := []candidate{
		{box: box{0, 0, 1, 1}, score: 0.3},
		{box: box{5, 5, 6, 6}, score: 0.9},
		{box: box{9, 9, 10, 10}, score: 0.6},
	}
	kept := nms(cands, 0.45, 2)
	if len(kept) != 2 || kept[0].score != 0.9 || kept[1].score != 0.6 {
		t.Errorf("kept = %+v", kept)
	}
}

func TestNMS_Empty(t *testing.T) {
	if kept := nms(nil, 0.45, 300); len(kept) != 0 {
		t.Errorf("kept = %v", kept)
	}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		a, b box
		want float32
	}{
		{box{0, 0, 10, 10}, box{0, 0, 10, 10}, 1},
		{box{0, 0, 10, 10}, box{20, 20, 30, 30}, 0},
		{box{0, 0, 10, 10}, box{5, 0, 15, 10}, 50.0 / 150.0},
		{box{0, 0, 0, 0}, box{0, 0, 0, 0}, 0},
	}
	for _, tt := range tests {
		if got := iou(tt.a, tt.b); math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("iou(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDecodeMask_CroppedToBox(t *testing.T) {
	const mh, mw, input = 4, 4, 16
	// One positive prototype plane, the rest zero.
	protos := make([]float32, maskCoefficients*mh*mw)
	for p := 0; p < mh*mw; p++ {
		protos[p] = 5
	}
	coefs := make([]float32, maskCoefficients)
	coefs[0] = 1

	// Left half of the input maps to columns 0-1 of the prototype grid.
	m := decodeMask(coefs, protos, mh, mw, input, box{0, 0, 8, 16})
	if m.Width() != mw || m.Height() != mh {
		t.Fatalf("mask size = %dx%d", m.Width(), m.Height())
	}
	if m.Area() != 8 {
		t.Errorf("area = %d, want 8", m.Area())
	}
	if !m.At(0, 0) || !m.At(1, 3) || m.At(2, 0) {
		t.Error("mask not cropped to box")
	}
}

func TestDecodeMask_NegativeActivation(t *testing.T) {
	const mh, mw = 2, 2
	protos := make([]float32, maskCoefficients*mh*mw)
	for p := range protos {
		protos[p] = -1
	}
	coefs := make([]float32, maskCoefficients)
	coefs[0] = 3

	m := decodeMask(coefs, protos, mh, mw, 8, box{0, 0, 8, 8})
	if m.Area() != 0 {
		t.Errorf("area = %d, want 0", m.Area())
	}
}

func TestScaleBox(t *testing.T) {
	bounds := image.Rect(0, 0, 1280, 320)
	got := scaleBox(box{64, 64, 320, 640}, 640, bounds)
	want := image.Rect(128, 32, 640, 320)
	if got != want {
		t.Errorf("scaleBox = %v, want %v", got, want)
	}

	clamped := scaleBox(box{-10, -10, 700, 700}, 640, bounds)
	if clamped != bounds {
		t.Errorf("clamped = %v, want %v", clamped, bounds)
	}
}

func TestSoftmax(t *testing.T) {
	p := softmax([]float32{1, 2, 3})
	var sum float32
	for _, v := range p {
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-6 {
		t.Errorf("sum = %v", sum)
	}
	if !(p[2] > p[1] && p[1] > p[0]) {
		t.Errorf("order not preserved: %v", p)
	}
	if got := softmax(nil); len(got) != 0 {
		t.Errorf("softmax(nil) = %v", got)
	}
}
