package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/image-classifier/internal/classify"
	"github.com/Brownie44l1/image-classifier/internal/imageload"
	"github.com/Brownie44l1/image-classifier/internal/model"
)

type noopClassifier struct{}

func (noopClassifier) Classify(context.Context, model.EncodedImage) ([]model.Prediction, error) {
	return nil, nil
}

func factory() *classify.Controller {
	return classify.NewController(noopClassifier{}, imageload.NewLoader())
}

func TestStore(t *testing.T) {
	t.Run("create and get", func(t *testing.T) {
		store := NewStore(10, time.Minute, factory, nil)
		defer store.Close()

		id, created := store.Create()
		got, err := store.Get(id)

		require.NoError(t, err)
		assert.Same(t, created, got)
		assert.Equal(t, classify.Idle, got.View().State)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("sessions are independent", func(t *testing.T) {
		store := NewStore(10, time.Minute, factory, nil)
		defer store.Close()

		idA, a := store.Create()
		idB, b := store.Create()

		assert.NotEqual(t, idA, idB)
		assert.NotSame(t, a, b)
	})

	t.Run("unknown and malformed ids", func(t *testing.T) {
		store := NewStore(10, time.Minute, factory, nil)
		defer store.Close()

		_, err := store.Get("not-a-uuid")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.Get("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete ends the session", func(t *testing.T) {
		store := NewStore(10, time.Minute, factory, nil)
		defer store.Close()

		id, _ := store.Create()

		assert.True(t, store.Delete(id))
		assert.False(t, store.Delete(id))
		_, err := store.Get(id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("oldest session is evicted when full", func(t *testing.T) {
		store := NewStore(2, time.Minute, factory, nil)
		defer store.Close()

		first, _ := store.Create()
		store.Create()
		store.Create()

		assert.Equal(t, 2, store.Len())
		_, err := store.Get(first)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("idle sessions expire", func(t *testing.T) {
		store := NewStore(10, 20*time.Millisecond, factory, nil)
		defer store.Close()

		id, _ := store.Create()

		time.Sleep(60 * time.Millisecond)

		_, err := store.Get(id)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
