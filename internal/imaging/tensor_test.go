package imaging

import "testing"

func TestToCHW_Layout(t *testing.T) {
	const size = 8
	data := ToCHW(Blank(size), size)

	if len(data) != 3*size*size {
		t.Fatalf("len = %d, want %d", len(data), 3*size*size)
	}
	want := float32(114*257) / 65535.0
	for i, v := range data {
		if v < want-0.01 || v > want+0.01 {
			t.Fatalf("data[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestToCHW_Deterministic(t *testing.T) {
	img := gradient(50, 30)
	a := ToCHW(img, 16)
	b := ToCHW(img, 16)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("index %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}
