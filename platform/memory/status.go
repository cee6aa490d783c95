package memory

import (
	"context"
	"sync"
)

// StatusLog is a StatusChannel that records every upsert
type StatusLog struct {
	mu       sync.Mutex
	messages []string
	err      error
	onUpsert func(text string)
}

// NewStatusLog creates an empty status log
func NewStatusLog() *StatusLog {
	return &StatusLog{}
}

// Upsert records text, or returns the configured failure
func (s *StatusLog) Upsert(_ context.Context, text string) error {
	s.mu.Lock()
	err := s.err
	hook := s.onUpsert
	if err == nil {
		s.messages = append(s.messages, text)
	}
	s.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	return err
}

// FailWith makes every following Upsert return err. nil restores delivery.
func (s *StatusLog) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// OnUpsert installs a callback invoked after every upsert attempt
func (s *StatusLog) OnUpsert(fn func(text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpsert = fn
}

// Messages returns every delivered message in order
func (s *StatusLog) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

// Last returns the message currently displayed
func (s *StatusLog) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ""
	}
	return s.messages[len(s.messages)-1]
}
