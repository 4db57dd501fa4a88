package model

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/nfnt/resize"
)

const channels = 3

// Preprocess converts an image to the planar RGB float32 layout the model
// expects: resized to size x size, scaled to [0,1], then normalised per
// channel when mean/std are configured.
func Preprocess(img image.Image, size int, mean, std []float32) ([]float32, error) {
	if size <= 0 {
		return nil, errors.New("image size must be positive")
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	inputData := make([]float32, channels*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			pixelIndex := y*width + x
			inputData[pixelIndex] = normalize(float32(r)/65535.0, 0, mean, std)
			inputData[plane+pixelIndex] = normalize(float32(g)/65535.0, 1, mean, std)
			inputData[2*plane+pixelIndex] = normalize(float32(b)/65535.0, 2, mean, std)
		}
	}

	return inputData, nil
}

func normalize(v float32, channel int, mean, std []float32) float32 {
	if channel < len(mean) {
		v -= mean[channel]
	}
	if channel < len(std) && std[channel] != 0 {
		v /= std[channel]
	}
	return v
}

// Softmax turns raw logits into probabilities that sum to 1.
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v - maxVal))
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Scores turns raw model output into probabilities. Without softmax the
// output must already lie in [0,1].
func (m Metadata) Scores(output []float32) ([]float64, error) {
	if m.AppliesSoftmax() {
		return Softmax(output), nil
	}

	scores := make([]float64, len(output))
	for i, v := range output {
		f := float64(v)
		if math.IsNaN(f) || f < 0 || f > 1 {
			return nil, fmt.Errorf("model output %d is %v, outside [0,1]; enable softmax in the model metadata", i, v)
		}
		scores[i] = f
	}
	return scores, nil
}

// Rank pairs scores with class labels and returns the topK best, ordered by
// descending probability. Scores without a class label are ignored.
func Rank(classes []string, scores []float64, topK int) []Prediction {
	n := len(scores)
	if len(classes) < n {
		n = len(classes)
	}

	predictions := make([]Prediction, 0, n)
	for i := 0; i < n; i++ {
		predictions = append(predictions, Prediction{Label: classes[i], Probability: scores[i]})
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Probability > predictions[j].Probability
	})

	if topK > 0 && len(predictions) > topK {
		predictions = predictions[:topK]
	}
	return predictions
}
