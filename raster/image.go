// Package raster handles decoding client images into a canonical 8-bit RGB
// form, content fingerprinting, and the single-channel masks produced by
// segmentation.
package raster

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"image"
	"strings"

	// for decoding the common upload formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	_ "golang.org/x/image/bmp" // registers bmp
)

func init() {
	image.RegisterFormat("ppm", "P6", ppm.Decode, ppm.DecodeConfig)
	image.RegisterFormat("qoi", "qoif", qoi.Decode, qoi.DecodeConfig)
}

// DecodeImage decodes raw bytes in any registered format.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode image")
	}
	return img, nil
}

// DecodeBase64Image decodes a base64 payload, tolerating a
// "data:image/...;base64," data-URL prefix the way browsers send them.
func DecodeBase64Image(payload string) (image.Image, error) {
	if idx := strings.Index(payload, ","); idx >= 0 && strings.Contains(payload[:idx], "base64") {
		payload = payload[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode base64 image payload")
	}
	return DecodeImage(data)
}

// CanonicalRGB returns the image as NRGBA so every caller sees the same
// 8-bit pixel layout regardless of the source encoding.
func CanonicalRGB(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// Fingerprint returns a hex SHA-256 over the canonical pixel encoding:
// width, height, then row-major 8-bit R,G,B samples. Two images with
// identical pixel content always hash the same no matter what container
// format they arrived in.
func Fingerprint(img image.Image) string {
	bounds := img.Bounds()
	h := sha256.New()

	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(bounds.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(bounds.Dy()))
	h.Write(dims[:])

	row := make([]byte, 0, bounds.Dx()*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row = row[:0]
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			row = append(row, byte(r>>8), byte(g>>8), byte(b>>8))
		}
		h.Write(row)
	}
	return hex.EncodeToString(h.Sum(nil))
}
