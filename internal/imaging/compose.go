// Package imaging holds the pixel-level transforms shared by the inference pipeline:
// decoding, mask compositing and tensor preparation.
package imaging

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"github.com/kailas-cloud/evidex/internal/domain/instance"
)

// Compose isolates the masked object on a white canvas of the image's size.
// A mask of a different size is first scaled to the image with nearest-neighbour sampling,
// keeping hard edges.
func Compose(img image.Image, m instance.Mask) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), image.White, image.Point{}, xdraw.Src)

	if m.Width() == 0 || m.Height() == 0 || out.Bounds().Empty() {
		return out
	}

	alpha := m.Alpha()
	if m.Width() != b.Dx() || m.Height() != b.Dy() {
		scaled := image.NewAlpha(out.Bounds())
		xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), alpha, alpha.Bounds(), xdraw.Src, nil)
		alpha = scaled
	}

	for y := 0; y < b.Dy(); y++ {
		row := alpha.Pix[y*alpha.Stride : y*alpha.Stride+b.Dx()]
		for x, a := range row {
			if a == 0 {
				continue
			}
			out.Set(x, y, color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return out
}
