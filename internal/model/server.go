package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Server is a long-lived inference session. It is created once, shared by
// every classification request and released with Close.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

type Options struct {
	// SharedLibraryPath points at libonnxruntime when it is not on the
	// default loader path.
	SharedLibraryPath string
}

func LoadMetadata(metadataPath string) (Metadata, error) {
	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if len(metadata.Classes) == 0 {
		return Metadata{}, errors.New("metadata lists no classes")
	}
	if metadata.InputSize() != channels*metadata.ImageSize*metadata.ImageSize {
		return Metadata{}, fmt.Errorf("input shape %v does not match 3x%dx%d image", metadata.InputShape, metadata.ImageSize, metadata.ImageSize)
	}
	metadata.applyDefaults()
	return metadata, nil
}

func NewServer(modelPath, metadataPath string, opts Options) (*Server, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		outputTensor.Destroy()
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Classify decodes img, runs it through the model and returns the top
// predictions ordered by descending probability.
func (s *Server) Classify(ctx context.Context, img EncodedImage) ([]Prediction, error) {
	decoded, _, err := DecodeImage(img)
	if err != nil {
		return nil, err
	}

	inputData, err := Preprocess(decoded, s.Metadata.ImageSize, s.Metadata.Mean, s.Metadata.Std)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess image: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores, err := s.run(inputData)
	if err != nil {
		return nil, err
	}
	return Rank(s.Metadata.Classes, scores, s.Metadata.TopK), nil
}

// run copies inputData into the shared input tensor and executes the
// session. The tensors are shared, so runs are serialized.
func (s *Server) run(inputData []float32) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("inference session is closed")
	}

	copy(s.inputTensor.GetData(), inputData)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return s.Metadata.Scores(s.outputTensor.GetData())
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
		ort.DestroyEnvironment()
	}
}
