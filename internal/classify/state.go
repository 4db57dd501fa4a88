package classify

import (
	"errors"
	"fmt"

	"github.com/Brownie44l1/image-classifier/internal/model"
)

// State is the position of a session in the classification workflow.
type State int

const (
	Idle State = iota
	ImageReady
	Classifying
	ResultsReady
	Failed
)

var stateNames = map[State]string{
	Idle:         "idle",
	ImageReady:   "image_ready",
	Classifying:  "classifying",
	ResultsReady: "results_ready",
	Failed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrClassificationFailed = errors.New("classification failed")

	// ErrSuperseded is returned by a load that finished after a newer
	// selection had already started.
	ErrSuperseded = errors.New("image selection superseded")
)

// ClassificationError wraps whatever the inference collaborator returned.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

func (e *ClassificationError) Is(target error) bool { return target == ErrClassificationFailed }

// View is a read-only snapshot for rendering.
type View struct {
	State       State              `json:"state"`
	Image       model.EncodedImage `json:"image,omitempty"`
	Predictions []model.Prediction `json:"predictions"`
	Failed      bool               `json:"failed"`
}
