package imaging

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// ToCHW resizes img to size×size and lays it out as a planar RGB float32 tensor in [0,1]
// (channel, row, column), the input layout of every exported model.
func ToCHW(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	b := resized.Bounds()

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*size + x
			data[i] = float32(r) / 65535.0
			data[plane+i] = float32(g) / 65535.0
			data[2*plane+i] = float32(bl) / 65535.0
		}
	}
	return data
}

// Blank returns a size×size mid-grey image, used to exercise models without real input.
func Blank(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	grey := color.RGBA{R: 114, G: 114, B: 114, A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = grey.R
		img.Pix[i+1] = grey.G
		img.Pix[i+2] = grey.B
		img.Pix[i+3] = grey.A
	}
	return img
}
