// Package session keeps the transient per-client classification sessions.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/Brownie44l1/image-classifier/internal/classify"
	"github.com/Brownie44l1/image-classifier/internal/metrics"
)

var ErrNotFound = errors.New("session not found")

// Factory builds the controller for a new session.
type Factory func() *classify.Controller

// Store holds at most maxSessions sessions. A session ends when it is
// deleted, evicted for space, or left idle for longer than the TTL; its
// image and predictions go with it.
type Store struct {
	sessions      *expirable.LRU[string, *classify.Controller]
	newController Factory
	log           *zap.Logger
}

func NewStore(maxSessions int, ttl time.Duration, newController Factory, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		newController: newController,
		log:           log,
	}
	s.sessions = expirable.NewLRU[string, *classify.Controller](maxSessions, s.onEvict, ttl)
	return s
}

func (s *Store) onEvict(id string, _ *classify.Controller) {
	metrics.SessionsActive.Dec()
	s.log.Debug("Session ended", zap.String("session_id", id))
}

func (s *Store) Create() (string, *classify.Controller) {
	id := uuid.NewString()
	c := s.newController()
	s.sessions.Add(id, c)
	metrics.SessionsActive.Inc()
	s.log.Debug("Session created", zap.String("session_id", id))
	return id, c
}

// Get returns the session's controller and refreshes its idle deadline.
func (s *Store) Get(id string) (*classify.Controller, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	c, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s.sessions.Add(id, c)
	return c, nil
}

func (s *Store) Delete(id string) bool {
	return s.sessions.Remove(id)
}

func (s *Store) Len() int {
	return s.sessions.Len()
}

// Close ends every session.
func (s *Store) Close() {
	s.sessions.Purge()
}
