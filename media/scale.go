package media

import (
	"image"

	"golang.org/x/image/draw"
)

// Scale returns img resampled to w×h as RGBA. An RGBA image already at the
// requested size is returned unchanged.
func Scale(img image.Image, w, h int) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		b := rgba.Bounds()
		if b.Dx() == w && b.Dy() == h && b.Min == (image.Point{}) {
			return rgba
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
