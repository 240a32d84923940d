// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"

	"github.com/ashbhandare/onnxruntime/types/tensor"
)

// Store is the cross-stage tensor exchange of one microbatch: a stage
// publishes its graph outputs here as they are produced, and the next stage's
// wait nodes read them. Correct ordering is the event schedule's business; the
// store itself never blocks.
type Store struct {
	mu     sync.RWMutex
	values map[string]*tensor.Tensor
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]*tensor.Tensor)}
}

// Put publishes a tensor under name, replacing any previous value.
func (s *Store) Put(name string, t *tensor.Tensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = t
}

// Get returns the tensor published under name.
func (s *Store) Get(name string) (*tensor.Tensor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, found := s.values[name]
	return t, found
}
