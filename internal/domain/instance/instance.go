// Package instance holds the per-request output of the segmentation stage.
package instance

import "image"

// Mask is a row-major boolean grid marking the pixels of one detected object.
type Mask struct {
	width  int
	height int
	bits   []bool
}

// NewMask creates an all-false mask of the given size.
func NewMask(width, height int) Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return Mask{width: width, height: height, bits: make([]bool, width*height)}
}

// FullMask creates a mask with every pixel set.
func FullMask(width, height int) Mask {
	m := NewMask(width, height)
	for i := range m.bits {
		m.bits[i] = true
	}
	return m
}

// Width returns the mask width.
func (m Mask) Width() int { return m.width }

// Height returns the mask height.
func (m Mask) Height() int { return m.height }

// At reports whether (x, y) is inside the object. Out-of-range coordinates are false.
func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return false
	}
	return m.bits[y*m.width+x]
}

// Set marks (x, y). Out-of-range coordinates are ignored.
func (m Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return
	}
	m.bits[y*m.width+x] = v
}

// Area returns the number of set pixels.
func (m Mask) Area() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// Alpha renders the mask as an 8-bit alpha image (255 inside, 0 outside).
func (m Mask) Alpha() *image.Alpha {
	a := image.NewAlpha(image.Rect(0, 0, m.width, m.height))
	for i, b := range m.bits {
		if b {
			a.Pix[i] = 0xff
		}
	}
	return a
}

// Detected is one object instance returned by segmentation.
type Detected struct {
	Index      int
	ClassID    int
	ClassLabel string
	Confidence float32
	Box        image.Rectangle
	Mask       Mask
}
