// Package handler maps client message ids to their handlers.
package handler

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrDuplicateMsgID = errors.New("handler: msgID already registered")

// Registry is a concurrency-safe msgID -> handler table.
type Registry[T any] struct {
	handlers map[int]T
	mu       sync.RWMutex
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		handlers: make(map[int]T),
	}
}

func (r *Registry[T]) Register(msgID int, h T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[msgID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateMsgID, msgID)
	}
	r.handlers[msgID] = h
	return nil
}

// RegisterAll adds every entry of table or none of them.
func (r *Registry[T]) RegisterAll(table map[int]T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for msgID := range table {
		if _, exists := r.handlers[msgID]; exists {
			return fmt.Errorf("%w: %d", ErrDuplicateMsgID, msgID)
		}
	}
	for msgID, h := range table {
		r.handlers[msgID] = h
	}
	return nil
}

func (r *Registry[T]) Get(msgID int) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[msgID]
	return h, ok
}

// MsgIDs returns the registered ids in ascending order.
func (r *Registry[T]) MsgIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
