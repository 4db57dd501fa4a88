package model

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const dataURLPrefix = "data:"

var ErrMalformedDataURL = errors.New("malformed data URL")

// EncodeDataURL wraps raw image bytes into a self-describing EncodedImage.
func EncodeDataURL(mimeType string, data []byte) EncodedImage {
	var b strings.Builder
	b.Grow(len(dataURLPrefix) + len(mimeType) + len(";base64,") + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(dataURLPrefix)
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return EncodedImage(b.String())
}

// DecodeDataURL splits an EncodedImage back into its MIME type and bytes.
func DecodeDataURL(img EncodedImage) (string, []byte, error) {
	s := string(img)
	if !strings.HasPrefix(s, dataURLPrefix) {
		return "", nil, ErrMalformedDataURL
	}
	header, payload, ok := strings.Cut(s[len(dataURLPrefix):], ",")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	mimeType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: payload is not base64", ErrMalformedDataURL)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return mimeType, data, nil
}

// DecodeImage turns an EncodedImage into a decoded image.Image.
func DecodeImage(img EncodedImage) (image.Image, string, error) {
	_, data, err := DecodeDataURL(img)
	if err != nil {
		return nil, "", err
	}
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("invalid image format: %w", err)
	}
	return decoded, format, nil
}
