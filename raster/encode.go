package raster

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"

	"github.com/pkg/errors"
)

// EncodeImagePNG encodes any image as PNG bytes.
func EncodeImagePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "cannot encode image")
	}
	return buf.Bytes(), nil
}

// EncodeBase64Image encodes any image as a base64 PNG, the form the JSON
// API transports.
func EncodeBase64Image(img image.Image) (string, error) {
	data, err := EncodeImagePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
