package raster

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"

	"github.com/pkg/errors"
)

// Included and Excluded are the two values a mask pixel can take on the
// wire: single-channel 8-bit, 0 = excluded, 255 = included.
const (
	Excluded uint8 = 0
	Included uint8 = 255
)

// Mask is a binary raster with the same spatial dimensions as its source
// image. It is produced per request and never persisted.
type Mask struct {
	width  int
	height int
	data   []uint8
}

// NewMask returns an all-excluded mask of the given dimensions.
func NewMask(width, height int) *Mask {
	return &Mask{width: width, height: height, data: make([]uint8, width*height)}
}

// MaskFromGray converts a single-channel image, thresholding any non-zero
// value to Included.
func MaskFromGray(img *image.Gray) *Mask {
	bounds := img.Bounds()
	m := NewMask(bounds.Dx(), bounds.Dy())
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			if img.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y != 0 {
				m.data[y*m.width+x] = Included
			}
		}
	}
	return m
}

// Width returns the mask width in pixels.
func (m *Mask) Width() int { return m.width }

// Height returns the mask height in pixels.
func (m *Mask) Height() int { return m.height }

func (m *Mask) in(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.width && y < m.height
}

// Included reports whether the pixel at (x, y) is part of the mask.
// Out-of-bounds pixels are excluded.
func (m *Mask) Included(x, y int) bool {
	return m.in(x, y) && m.data[y*m.width+x] != 0
}

// Set marks a single pixel; out-of-bounds writes are dropped.
func (m *Mask) Set(x, y int, v uint8) {
	if m.in(x, y) {
		m.data[y*m.width+x] = v
	}
}

// FillDisk sets every pixel within Euclidean distance radius of
// (cx, cy) to v. The comparison is inclusive of the boundary.
func (m *Mask) FillDisk(cx, cy, radius float64, v uint8) {
	if radius < 0 {
		return
	}
	r2 := radius * radius
	minX := int(cx - radius - 1)
	maxX := int(cx + radius + 1)
	minY := int(cy - radius - 1)
	maxY := int(cy + radius + 1)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if !m.in(x, y) {
				continue
			}
			dx := float64(x) - cx
			dy := float64(y) - cy
			if dx*dx+dy*dy <= r2 {
				m.data[y*m.width+x] = v
			}
		}
	}
}

// Area returns the number of included pixels.
func (m *Mask) Area() int {
	count := 0
	for _, v := range m.data {
		if v != 0 {
			count++
		}
	}
	return count
}

// ToGray renders the mask as a single-channel image.
func (m *Mask) ToGray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.width, m.height))
	copy(img.Pix, m.data)
	return img
}

// EncodePNG encodes the mask as a grayscale PNG.
func (m *Mask) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, m.ToGray()); err != nil {
		return nil, errors.Wrap(err, "cannot encode mask")
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG encodes the mask as a base64 grayscale PNG, the form the
// JSON API transports.
func (m *Mask) EncodeBase64PNG() (string, error) {
	data, err := m.EncodePNG()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeBase64Mask is the inverse of EncodeBase64PNG; any non-zero pixel
// counts as included.
func DecodeBase64Mask(payload string) (*Mask, error) {
	img, err := DecodeBase64Image(payload)
	if err != nil {
		return nil, err
	}
	if gray, ok := img.(*image.Gray); ok {
		return MaskFromGray(gray), nil
	}
	bounds := img.Bounds()
	m := NewMask(bounds.Dx(), bounds.Dy())
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			if r|g|b != 0 {
				m.data[y*m.width+x] = Included
			}
		}
	}
	return m, nil
}
