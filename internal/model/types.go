package model

// EncodedImage is a data URL ("data:<mime>;base64,<payload>") holding a
// user-selected image. It is usable both for display and as model input.
type EncodedImage string

// Prediction is a single ranked label produced by a classification call.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

type Metadata struct {
	InputShape  []int64   `json:"input_shape"`
	OutputShape []int64   `json:"output_shape"`
	Classes     []string  `json:"classes"`
	ImageSize   int       `json:"image_size"`
	InputName   string    `json:"input_name"`
	OutputName  string    `json:"output_name"`
	Softmax     *bool     `json:"softmax"`
	Mean        []float32 `json:"mean"`
	Std         []float32 `json:"std"`
	TopK        int       `json:"top_k"`
}

const (
	defaultInputName  = "input"
	defaultOutputName = "output"

	// DefaultTopK matches the number of results mobilenet returns by default.
	DefaultTopK = 3
)

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = defaultInputName
	}
	if m.OutputName == "" {
		m.OutputName = defaultOutputName
	}
	if m.TopK <= 0 {
		m.TopK = DefaultTopK
	}
	if m.Softmax == nil {
		applySoftmax := true
		m.Softmax = &applySoftmax
	}
}

// AppliesSoftmax reports whether raw model output is treated as logits.
// Unset means true; most exported classifiers end in a linear layer.
func (m Metadata) AppliesSoftmax() bool {
	return m.Softmax == nil || *m.Softmax
}

// InputSize is the number of float32 values the model input tensor holds.
func (m Metadata) InputSize() int {
	if len(m.InputShape) == 0 {
		return 0
	}
	size := int(m.InputShape[0])
	for _, dim := range m.InputShape[1:] {
		size *= int(dim)
	}
	return size
}
