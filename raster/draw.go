package raster

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// Overlay draws the mask over the source image with the given tint so a
// person can eyeball what the segmenter selected.
func Overlay(img image.Image, mask *Mask, tint color.Color, alpha float64) image.Image {
	dc := gg.NewContextForImage(img)
	r, g, b, _ := tint.RGBA()
	dc.SetRGBA(float64(r)/0xffff, float64(g)/0xffff, float64(b)/0xffff, alpha)
	for y := 0; y < mask.Height(); y++ {
		for x := 0; x < mask.Width(); x++ {
			if mask.Included(x, y) {
				dc.SetPixel(x, y)
			}
		}
	}
	return dc.Image()
}

// DrawPoints marks prompt locations on the image, green for positive and
// red for negative.
func DrawPoints(img image.Image, positive, negative []image.Point, radius float64) image.Image {
	dc := gg.NewContextForImage(img)
	for _, p := range positive {
		dc.SetRGB(0, 0.8, 0)
		dc.DrawCircle(float64(p.X), float64(p.Y), radius)
		dc.Fill()
	}
	for _, p := range negative {
		dc.SetRGB(0.9, 0, 0)
		dc.DrawCircle(float64(p.X), float64(p.Y), radius)
		dc.Fill()
	}
	return dc.Image()
}
