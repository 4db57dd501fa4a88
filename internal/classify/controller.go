// Package classify drives a single session through image selection and
// classification.
package classify

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/image-classifier/internal/imageload"
	"github.com/Brownie44l1/image-classifier/internal/metrics"
	"github.com/Brownie44l1/image-classifier/internal/model"
)

// Classifier is the inference collaborator. Implementations return
// predictions already ordered by descending probability.
type Classifier interface {
	Classify(ctx context.Context, img model.EncodedImage) ([]model.Prediction, error)
}

// ImageLoader turns a selected file into an EncodedImage.
type ImageLoader interface {
	Load(ctx context.Context, file imageload.File) (model.EncodedImage, error)
}

// Controller owns the workflow state, the current image and the current
// predictions of one session. All mutation goes through its methods.
type Controller struct {
	classifier       Classifier
	loader           ImageLoader
	log              *zap.Logger
	inferenceTimeout time.Duration

	mu          sync.Mutex
	state       State
	image       model.EncodedImage
	predictions []model.Prediction
	failed      bool

	// loadToken identifies the most recently started load. requestToken
	// identifies the classification whose result may still be applied;
	// applying a new image bumps it so older results are dropped.
	loadToken    uint64
	requestToken uint64

	// pending counts background classifications; settled is signalled on
	// mu whenever it drops to zero.
	pending int
	settled *sync.Cond
}

type Option func(*Controller)

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithInferenceTimeout bounds each collaborator call. Zero means no bound.
func WithInferenceTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.inferenceTimeout = d
	}
}

func NewController(classifier Classifier, loader ImageLoader, opts ...Option) *Controller {
	c := &Controller{
		classifier: classifier,
		loader:     loader,
		log:        zap.NewNop(),
		state:      Idle,
	}
	c.settled = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnImageSelected loads file and makes it the current image. Only the most
// recently started selection is applied; earlier ones return ErrSuperseded.
// A failed load leaves the session untouched.
func (c *Controller) OnImageSelected(ctx context.Context, file imageload.File) error {
	c.mu.Lock()
	c.loadToken++
	token := c.loadToken
	c.mu.Unlock()

	img, err := c.loader.Load(ctx, file)

	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.loadToken {
		metrics.LoadsTotal.WithLabelValues("superseded").Inc()
		c.log.Debug("Dropping superseded image load", zap.Uint64("load_token", token))
		return ErrSuperseded
	}
	if err != nil {
		metrics.LoadsTotal.WithLabelValues("invalid").Inc()
		c.log.Warn("Image load failed", zap.Error(err))
		return err
	}

	if c.state == Classifying {
		c.log.Info("New image replaces image under classification", zap.Uint64("request_token", c.requestToken))
	}
	c.requestToken++
	c.image = img
	c.predictions = nil
	c.failed = false
	c.state = ImageReady

	metrics.LoadsTotal.WithLabelValues("ok").Inc()
	c.log.Info("Image loaded", zap.Int("encoded_bytes", len(img)))
	return nil
}

// OnClassifyRequested classifies the current image in the background. It
// reports whether a collaborator call was started.
func (c *Controller) OnClassifyRequested(ctx context.Context) bool {
	c.mu.Lock()
	img := c.image
	token, ok := c.beginLocked(img)
	if ok {
		c.pending++
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer c.settle()
		_, _ = c.finish(ctx, token, img)
	}()
	return true
}

func (c *Controller) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending--
	if c.pending == 0 {
		c.settled.Broadcast()
	}
}

// RequestClassification classifies img, which must be the current image.
// Requests without a current image, for another image, or while a call is
// already in flight are ignored and return no predictions and no error. A
// result that went stale while in flight is discarded the same way.
func (c *Controller) RequestClassification(ctx context.Context, img model.EncodedImage) ([]model.Prediction, error) {
	c.mu.Lock()
	token, ok := c.beginLocked(img)
	c.mu.Unlock()

	if !ok {
		return nil, nil
	}
	return c.finish(ctx, token, img)
}

// Wait blocks until no classification started by OnClassifyRequested is
// outstanding. It is safe to call while other goroutines keep starting
// classifications.
func (c *Controller) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.pending > 0 {
		c.settled.Wait()
	}
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	return View{
		State:       c.state,
		Image:       c.image,
		Predictions: append([]model.Prediction{}, c.predictions...),
		Failed:      c.failed,
	}
}

func (c *Controller) beginLocked(img model.EncodedImage) (uint64, bool) {
	if img == "" || c.image == "" {
		metrics.IgnoredRequestsTotal.WithLabelValues("no_image").Inc()
		c.log.Debug("Ignoring classify request without a current image")
		return 0, false
	}
	if img != c.image {
		metrics.IgnoredRequestsTotal.WithLabelValues("not_current").Inc()
		c.log.Debug("Ignoring classify request for an image that is not current")
		return 0, false
	}
	if c.state == Classifying {
		metrics.IgnoredRequestsTotal.WithLabelValues("in_flight").Inc()
		c.log.Debug("Ignoring classify request while classification is in flight")
		return 0, false
	}

	c.requestToken++
	c.state = Classifying
	c.predictions = nil
	c.failed = false
	return c.requestToken, true
}

func (c *Controller) finish(ctx context.Context, token uint64, img model.EncodedImage) ([]model.Prediction, error) {
	if c.inferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.inferenceTimeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := c.invoke(ctx, img)
	elapsed := time.Since(start)
	metrics.InferenceDuration.Observe(elapsed.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.requestToken {
		metrics.ClassificationsTotal.WithLabelValues("stale").Inc()
		c.log.Info("Discarding stale classification result",
			zap.Uint64("request_token", token),
			zap.Uint64("current_token", c.requestToken),
		)
		return nil, nil
	}

	if err != nil {
		c.state = Failed
		c.failed = true
		metrics.ClassificationsTotal.WithLabelValues("failed").Inc()
		c.log.Error("Classification failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return nil, &ClassificationError{Err: err}
	}

	predictions := normalize(raw)
	c.predictions = predictions
	c.state = ResultsReady
	metrics.ClassificationsTotal.WithLabelValues("success").Inc()
	c.log.Info("Classification completed",
		zap.Int("predictions", len(predictions)),
		zap.Duration("elapsed", elapsed),
	)
	return append([]model.Prediction(nil), predictions...), nil
}

// invoke calls the collaborator, turning a panic into an error.
func (c *Controller) invoke(ctx context.Context, img model.EncodedImage) (preds []model.Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			preds = nil
			err = fmt.Errorf("classifier panicked: %v", r)
		}
	}()
	return c.classifier.Classify(ctx, img)
}

// normalize copies the collaborator's ranking into a fresh slice, keeping
// its order and clamping probabilities into [0,1].
func normalize(raw []model.Prediction) []model.Prediction {
	out := make([]model.Prediction, len(raw))
	for i, p := range raw {
		prob := p.Probability
		switch {
		case math.IsNaN(prob) || prob < 0:
			prob = 0
		case prob > 1:
			prob = 1
		}
		out[i] = model.Prediction{Label: p.Label, Probability: prob}
	}
	return out
}
