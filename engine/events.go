// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// NoEvent fed to a WaitEvent node means "do not wait". It matches
// pipeline.NoEvent; the engine is deliberately independent of the pipeline
// package, it only honors the token convention.
const NoEvent int64 = -1

// EventHub is the rendezvous point for event tokens shared by every engine of
// one pipeline: a wait on a token blocks until some engine records the same
// token. Records are fire-and-forget; a record with no waiter is kept so a
// later wait returns immediately.
//
// Each token is backed by a latch (a channel closed exactly once).
type EventHub struct {
	mu      sync.Mutex
	latches map[int64]chan struct{}
	closed  map[int64]bool
}

// NewEventHub returns an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		latches: make(map[int64]chan struct{}),
		closed:  make(map[int64]bool),
	}
}

func (h *EventHub) latchFor(token int64) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	latch, found := h.latches[token]
	if !found {
		latch = make(chan struct{})
		h.latches[token] = latch
	}
	return latch
}

// Record signals the token, releasing every current and future wait on it.
// Recording the same token twice is a scheduling error.
func (h *EventHub) Record(token int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed[token] {
		return errors.Errorf("event token %d recorded twice", token)
	}
	latch, found := h.latches[token]
	if !found {
		latch = make(chan struct{})
		h.latches[token] = latch
	}
	close(latch)
	h.closed[token] = true
	return nil
}

// Wait blocks until the token is recorded or the context is done. Waiting on
// NoEvent returns immediately.
func (h *EventHub) Wait(ctx context.Context, token int64) error {
	if token == NoEvent {
		return nil
	}
	select {
	case <-h.latchFor(token):
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "while waiting on event token %d", token)
	}
}
