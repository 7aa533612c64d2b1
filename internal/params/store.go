// Package params holds the user-tunable settings of each detection backend and
// the detection cadence table.
package params

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrInvalid is returned when a mutation leaves a record outside its allowed values.
var ErrInvalid = errors.New("invalid parameters")

// Validator is implemented by every params record.
type Validator interface {
	Validate() error
}

// Store is a mutable params record that reports each accepted mutation to its
// owner exactly once.
type Store[T Validator] struct {
	// notifyMu is held from commit until the callback returns, so callbacks see
	// values in commit order.
	notifyMu sync.Mutex

	mu       sync.Mutex
	value    T
	onChange func(T)
}

// NewStore creates a store holding initial. onChange may be nil.
func NewStore[T Validator](initial T, onChange func(T)) *Store[T] {
	return &Store[T]{value: initial, onChange: onChange}
}

// Get returns a copy of the current record.
func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// OnChange replaces the change callback.
func (s *Store[T]) OnChange(fn func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Update applies fn to a copy of the record. If the result validates it becomes the
// current value and the change callback runs once with it before any later
// mutation commits; otherwise the store is
// left untouched and the validation error is returned.
func (s *Store[T]) Update(fn func(*T)) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next := s.value
	fn(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.value = next
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(next)
	}
	return nil
}

// Set replaces the whole record. It counts as one mutation.
func (s *Store[T]) Set(v T) error {
	return s.Update(func(p *T) { *p = v })
}
