package model

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDataURL(t *testing.T) {
	t.Run("round trips mime type and bytes", func(t *testing.T) {
		data := []byte{0x89, 'P', 'N', 'G'}
		encoded := EncodeDataURL("image/png", data)

		assert.True(t, strings.HasPrefix(string(encoded), "data:image/png;base64,"))

		mimeType, decoded, err := DecodeDataURL(encoded)
		require.NoError(t, err)
		assert.Equal(t, "image/png", mimeType)
		assert.Equal(t, data, decoded)
	})

	t.Run("rejects strings that are not data URLs", func(t *testing.T) {
		_, _, err := DecodeDataURL("https://example.com/cat.png")
		assert.ErrorIs(t, err, ErrMalformedDataURL)

		_, _, err = DecodeDataURL("data:image/png;base64")
		assert.ErrorIs(t, err, ErrMalformedDataURL)

		_, _, err = DecodeDataURL("data:text/plain,hello")
		assert.ErrorIs(t, err, ErrMalformedDataURL)
	})

	t.Run("rejects corrupt base64", func(t *testing.T) {
		_, _, err := DecodeDataURL("data:image/png;base64,!!!")
		assert.Error(t, err)
	})
}

func TestDecodeImage(t *testing.T) {
	t.Run("decodes png", func(t *testing.T) {
		img, format, err := DecodeImage(EncodeDataURL("image/png", solidPNG(t, 2, 3, color.White)))

		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, 2, img.Bounds().Dx())
		assert.Equal(t, 3, img.Bounds().Dy())
	})

	t.Run("fails on bytes that are not an image", func(t *testing.T) {
		_, _, err := DecodeImage(EncodeDataURL("image/png", []byte("not an image")))
		assert.Error(t, err)
	})
}

func TestPreprocess(t *testing.T) {
	t.Run("produces planar rgb for the target size", func(t *testing.T) {
		img, _, err := DecodeImage(EncodeDataURL("image/png", solidPNG(t, 8, 8, color.RGBA{R: 255, A: 255})))
		require.NoError(t, err)

		data, err := Preprocess(img, 4, nil, nil)

		require.NoError(t, err)
		require.Len(t, data, 3*4*4)
		assert.InDelta(t, 1.0, data[0], 0.01)
		assert.InDelta(t, 0.0, data[16], 0.01)
		assert.InDelta(t, 0.0, data[32], 0.01)
	})

	t.Run("applies mean and std", func(t *testing.T) {
		img, _, err := DecodeImage(EncodeDataURL("image/png", solidPNG(t, 2, 2, color.White)))
		require.NoError(t, err)

		data, err := Preprocess(img, 2, []float32{0.5, 0.5, 0.5}, []float32{0.5, 0.5, 0.5})

		require.NoError(t, err)
		for _, v := range data {
			assert.InDelta(t, 1.0, v, 0.01)
		}
	})

	t.Run("rejects non-positive size", func(t *testing.T) {
		_, err := Preprocess(image.NewRGBA(image.Rect(0, 0, 1, 1)), 0, nil, nil)
		assert.Error(t, err)
	})
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1, 2, 3})

	require.Len(t, probs, 3)
	var sum float64
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, probs[2], probs[1])
	assert.Greater(t, probs[1], probs[0])
	assert.Empty(t, Softmax(nil))
}

func TestMetadata_Scores(t *testing.T) {
	off := false

	t.Run("logits become probabilities by default", func(t *testing.T) {
		scores, err := Metadata{}.Scores([]float32{-1.5, 4.2, 0.3})

		require.NoError(t, err)
		var sum float64
		for _, s := range scores {
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
			sum += s
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.Greater(t, scores[1], scores[2])
	})

	t.Run("probabilities pass through when softmax is off", func(t *testing.T) {
		scores, err := Metadata{Softmax: &off}.Scores([]float32{0.25, 0.75})

		require.NoError(t, err)
		assert.InDelta(t, 0.25, scores[0], 1e-6)
		assert.InDelta(t, 0.75, scores[1], 1e-6)
	})

	t.Run("logits are rejected when softmax is off", func(t *testing.T) {
		_, err := Metadata{Softmax: &off}.Scores([]float32{0.2, 4.2})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "softmax")
	})
}

func TestRank(t *testing.T) {
	classes := []string{"angry", "happy", "sad", "neutral"}

	t.Run("orders by descending probability and truncates", func(t *testing.T) {
		got := Rank(classes, []float64{0.1, 0.6, 0.05, 0.25}, 3)

		assert.Equal(t, []Prediction{
			{Label: "happy", Probability: 0.6},
			{Label: "neutral", Probability: 0.25},
			{Label: "angry", Probability: 0.1},
		}, got)
	})

	t.Run("keeps everything when topK is zero", func(t *testing.T) {
		got := Rank(classes, []float64{0.1, 0.6, 0.05, 0.25}, 0)
		assert.Len(t, got, 4)
	})

	t.Run("ignores scores without a label", func(t *testing.T) {
		got := Rank([]string{"a"}, []float64{0.2, 0.8}, 5)
		assert.Equal(t, []Prediction{{Label: "a", Probability: 0.2}}, got)
	})
}

func TestLoadMetadata(t *testing.T) {
	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "model_metadata.json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	t.Run("fills defaults", func(t *testing.T) {
		path := write(t, `{"input_shape":[1,3,2,2],"output_shape":[1,2],"classes":["cat","dog"],"image_size":2}`)

		md, err := LoadMetadata(path)

		require.NoError(t, err)
		assert.Equal(t, "input", md.InputName)
		assert.Equal(t, "output", md.OutputName)
		assert.Equal(t, DefaultTopK, md.TopK)
		assert.Equal(t, 12, md.InputSize())
	})

	t.Run("softmax defaults to on", func(t *testing.T) {
		path := write(t, `{"input_shape":[1,3,2,2],"output_shape":[1,2],"classes":["cat","dog"],"image_size":2}`)

		md, err := LoadMetadata(path)

		require.NoError(t, err)
		assert.True(t, md.AppliesSoftmax())
	})

	t.Run("softmax can be turned off", func(t *testing.T) {
		path := write(t, `{"input_shape":[1,3,2,2],"output_shape":[1,2],"classes":["cat","dog"],"image_size":2,"softmax":false}`)

		md, err := LoadMetadata(path)

		require.NoError(t, err)
		assert.False(t, md.AppliesSoftmax())
	})

	t.Run("rejects mismatched input shape", func(t *testing.T) {
		path := write(t, `{"input_shape":[1,3,4,4],"output_shape":[1,2],"classes":["cat","dog"],"image_size":2}`)

		_, err := LoadMetadata(path)
		assert.Error(t, err)
	})

	t.Run("rejects missing classes", func(t *testing.T) {
		path := write(t, `{"input_shape":[1,3,2,2],"output_shape":[1,2],"image_size":2}`)

		_, err := LoadMetadata(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadMetadata(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}
