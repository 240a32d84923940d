// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import "github.com/pkg/errors"

// EventToken is one synchronization rendezvous value: a record of a token
// releases every wait on the same token. Tokens are fed to stage artifacts as
// scalar int64 tensors.
type EventToken int64

// NoEvent fed to a wait slot means "do not wait". It is the token of the very
// first invocation in every stage's pipeline order.
const NoEvent = EventToken(-1)

// DefaultTokenBlock is the size of each token range used when the caller
// does not pick one, matching the reference schedule (data tokens 0-99,
// stage s pipeline tokens (s+1)*100 onward).
const DefaultTokenBlock = int64(100)

// TokenSpace partitions event tokens into disjoint numeric ranges: one block
// of data-dependency tokens and one block of pipeline-order tokens per stage.
// Ranges from the same TokenSpace can never collide.
type TokenSpace struct {
	// Block is the size of each range.
	Block int64
}

// NewTokenSpace returns a TokenSpace with the given block size; block <= 0
// selects DefaultTokenBlock.
func NewTokenSpace(block int64) TokenSpace {
	if block <= 0 {
		block = DefaultTokenBlock
	}
	return TokenSpace{Block: block}
}

// Data returns the index-th data-dependency token.
func (ts TokenSpace) Data(index int64) (EventToken, error) {
	if index < 0 || index >= ts.Block {
		return NoEvent, errors.Errorf(
			"data token index %d outside the data range [0, %d); use a larger token block",
			index, ts.Block)
	}
	return EventToken(index), nil
}

// Pipeline returns the index-th pipeline-order token of the given stage.
func (ts TokenSpace) Pipeline(stage int, index int64) (EventToken, error) {
	if index < 0 || index >= ts.Block {
		return NoEvent, errors.Errorf(
			"pipeline token index %d of stage %d outside its range [0, %d); use a larger token block",
			index, stage, ts.Block)
	}
	return EventToken(int64(stage+1)*ts.Block + index), nil
}

// IsData reports whether the token falls in the data-dependency range.
func (ts TokenSpace) IsData(token EventToken) bool {
	return token >= 0 && int64(token) < ts.Block
}

// StageOf returns the stage whose pipeline range contains token, or -1 for
// data tokens and NoEvent.
func (ts TokenSpace) StageOf(token EventToken) int {
	if token < EventToken(ts.Block) {
		return -1
	}
	return int(int64(token)/ts.Block) - 1
}
