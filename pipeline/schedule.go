// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Invocation is one step of a stage's local execution order: which microbatch
// it processes and in which direction.
type Invocation struct {
	Microbatch int
	Direction  Direction
}

// oneFOneBOrder returns the 1F1B invocation order of one stage: a warmup of
// forwards (more for earlier stages, so later stages can start), then
// alternating backward/forward, then the draining backwards. Directions the
// cut leaves empty are skipped entirely.
func oneFOneBOrder(stage, numStages, numMicrobatches int, hasForward, hasBackward bool) []Invocation {
	if !hasForward && !hasBackward {
		return nil
	}
	if !hasBackward {
		order := make([]Invocation, 0, numMicrobatches)
		for mb := 0; mb < numMicrobatches; mb++ {
			order = append(order, Invocation{mb, Forward})
		}
		return order
	}
	if !hasForward {
		order := make([]Invocation, 0, numMicrobatches)
		for mb := 0; mb < numMicrobatches; mb++ {
			order = append(order, Invocation{mb, Backward})
		}
		return order
	}
	warmup := 2*(numStages-1-stage) + 1
	if warmup > numMicrobatches {
		warmup = numMicrobatches
	}
	order := make([]Invocation, 0, 2*numMicrobatches)
	fwNext, bwNext := 0, 0
	for ; fwNext < warmup; fwNext++ {
		order = append(order, Invocation{fwNext, Forward})
	}
	for bwNext < numMicrobatches {
		order = append(order, Invocation{bwNext, Backward})
		bwNext++
		if fwNext < numMicrobatches {
			order = append(order, Invocation{fwNext, Forward})
			fwNext++
		}
	}
	return order
}

// Schedule is a static assignment of event-token values per (microbatch,
// stage, direction): for every event slot of every artifact it holds the
// token to feed on every microbatch. The runtime executes each (stage,
// microbatch) invocation with Feeds' values and the pipeline interleaves
// without deadlock.
type Schedule struct {
	NumStages       int
	NumMicrobatches int
	Tokens          TokenSpace

	// feeds[stage][microbatch] maps event input name to token value.
	feeds [][]map[string]EventToken
}

// Feeds returns the token value for every event slot of the given stage on
// the given microbatch. The returned map is owned by the schedule.
func (s *Schedule) Feeds(stage, microbatch int) map[string]EventToken {
	return s.feeds[stage][microbatch]
}

// BuildSchedule derives the 1F1B schedule for the given artifacts.
//
// Data tokens: every data-record slot rendezvouses with the matching
// data-wait of the adjacent stage (next stage for forward, previous for
// backward) on a fresh token per microbatch. Pipeline tokens: per stage a
// monotone counter in the stage's range; each pipeline-record takes the next
// value and each pipeline-wait takes the previously recorded one, following
// the stage's 1F1B order. The first invocation of each stage waits on
// NoEvent.
//
// The reference implementation ships this table hand-written for three stages
// and six microbatches; this generalizes it.
func BuildSchedule(spec *CutSpec, artifacts []*Artifact, numMicrobatches int, space TokenSpace) (*Schedule, error) {
	numStages := len(artifacts)
	if numStages == 0 || numStages != spec.NumStages() {
		return nil, errors.Wrapf(ErrInvalidSpec,
			"schedule needs matching artifacts and cut specification (%d artifacts, %d stages)",
			numStages, spec.NumStages())
	}
	if numMicrobatches <= 0 {
		return nil, errors.Errorf("schedule needs at least one microbatch, got %d", numMicrobatches)
	}
	if space.Block == 0 {
		space = NewTokenSpace(0)
	}

	sched := &Schedule{
		NumStages:       numStages,
		NumMicrobatches: numMicrobatches,
		Tokens:          space,
	}
	sched.feeds = make([][]map[string]EventToken, numStages)
	for s := range sched.feeds {
		sched.feeds[s] = make([]map[string]EventToken, numMicrobatches)
		for mb := range sched.feeds[s] {
			sched.feeds[s][mb] = make(map[string]EventToken)
		}
	}

	slots := make(map[string]bool)
	for _, a := range artifacts {
		for _, slot := range a.Events {
			slots[slot.Name] = true
		}
	}
	hasSlot := func(role EventRole, channel EventChannel, stage int, dir Direction) (string, bool) {
		name := eventInputName(role, channel, stage, dir)
		return name, slots[name]
	}

	if err := assignDataTokens(sched, hasSlot); err != nil {
		return nil, err
	}
	if err := assignPipelineTokens(sched, spec, hasSlot); err != nil {
		return nil, err
	}
	klog.V(1).Infof("built 1F1B schedule: %d stages, %d microbatches, token block %d",
		numStages, numMicrobatches, space.Block)
	return sched, nil
}

type slotLookup func(role EventRole, channel EventChannel, stage int, dir Direction) (string, bool)

// assignDataTokens pairs each data-record with the data-wait of the adjacent
// stage. Token allocation order is deterministic: forward boundaries by
// ascending stage, then backward boundaries by descending stage, a fresh
// token per boundary per microbatch.
func assignDataTokens(sched *Schedule, hasSlot slotLookup) error {
	type boundary struct {
		recordStage, waitStage int
		dir                    Direction
	}
	var boundaries []boundary
	for s := 0; s < sched.NumStages; s++ {
		if _, found := hasSlot(EventRecord, ChannelData, s, Forward); found {
			boundaries = append(boundaries, boundary{s, s + 1, Forward})
		}
	}
	for s := sched.NumStages - 1; s >= 0; s-- {
		if _, found := hasSlot(EventRecord, ChannelData, s, Backward); found {
			boundaries = append(boundaries, boundary{s, s - 1, Backward})
		}
	}

	perMicrobatch := int64(len(boundaries))
	for mb := 0; mb < sched.NumMicrobatches; mb++ {
		for idx, bd := range boundaries {
			token, err := sched.Tokens.Data(int64(mb)*perMicrobatch + int64(idx))
			if err != nil {
				return err
			}
			recordName, _ := hasSlot(EventRecord, ChannelData, bd.recordStage, bd.dir)
			sched.feeds[bd.recordStage][mb][recordName] = token

			if bd.waitStage < 0 || bd.waitStage >= sched.NumStages {
				return errors.Wrapf(ErrInvalidSpec,
					"stage %d %s records a data event but there is no stage %d to wait on it",
					bd.recordStage, bd.dir, bd.waitStage)
			}
			waitName, found := hasSlot(EventWait, ChannelData, bd.waitStage, bd.dir)
			if !found {
				return errors.Wrapf(ErrInvalidSpec,
					"stage %d %s records a data event but stage %d declares no matching data-wait",
					bd.recordStage, bd.dir, bd.waitStage)
			}
			sched.feeds[bd.waitStage][mb][waitName] = token
		}
	}

	// Every data-wait must find a recording peer.
	for s := 0; s < sched.NumStages; s++ {
		for _, dir := range []Direction{Forward, Backward} {
			name, found := hasSlot(EventWait, ChannelData, s, dir)
			if !found {
				continue
			}
			if _, assigned := sched.feeds[s][0][name]; !assigned {
				return errors.Wrapf(ErrInvalidSpec,
					"stage %d %s declares data-wait %q but no adjacent stage records it", s, dir, name)
			}
		}
	}
	return nil
}

// assignPipelineTokens walks each stage's 1F1B order with a per-stage token
// counter: records take fresh values, waits take the previous record.
func assignPipelineTokens(sched *Schedule, spec *CutSpec, hasSlot slotLookup) error {
	for s := 0; s < sched.NumStages; s++ {
		order := oneFOneBOrder(s, sched.NumStages, sched.NumMicrobatches,
			!spec.Stages[s].Forward.IsEmpty(), !spec.Stages[s].Backward.IsEmpty())
		var next int64
		last := NoEvent
		for _, inv := range order {
			if name, found := hasSlot(EventWait, ChannelPipeline, s, inv.Direction); found {
				sched.feeds[s][inv.Microbatch][name] = last
			}
			if name, found := hasSlot(EventRecord, ChannelPipeline, s, inv.Direction); found {
				token, err := sched.Tokens.Pipeline(s, next)
				if err != nil {
					return err
				}
				next++
				sched.feeds[s][inv.Microbatch][name] = token
				last = token
			}
		}
	}
	return nil
}

// Validate checks the schedule's consistency contract: every
// recorded token is recorded exactly once, every wait token (other than
// NoEvent) is recorded by exactly one record, and data tokens never stray
// into pipeline ranges (nor one stage's pipeline tokens into another's).
func (s *Schedule) Validate(artifacts []*Artifact) error {
	recorded := make(map[EventToken]string)
	type pendingWait struct {
		token EventToken
		where string
	}
	var waits []pendingWait

	for _, a := range artifacts {
		for mb := 0; mb < s.NumMicrobatches; mb++ {
			feeds := s.Feeds(a.Stage, mb)
			for _, slot := range a.Events {
				token, found := feeds[slot.Name]
				if !found {
					return errors.Errorf("schedule has no token for slot %q of stage %d, microbatch %d",
						slot.Name, a.Stage, mb)
				}
				switch slot.Role {
				case EventRecord:
					if token == NoEvent {
						return errors.Errorf("record slot %q of microbatch %d got NoEvent", slot.Name, mb)
					}
					if prev, dup := recorded[token]; dup {
						return errors.Errorf("token %d recorded twice: %s and %s (stage %d, microbatch %d)",
							token, prev, slot.Name, a.Stage, mb)
					}
					recorded[token] = slot.Name
					if slot.Channel == ChannelData && !s.Tokens.IsData(token) {
						return errors.Errorf("data slot %q of microbatch %d got token %d outside the data range",
							slot.Name, mb, token)
					}
					if slot.Channel == ChannelPipeline && s.Tokens.StageOf(token) != slot.Stage {
						return errors.Errorf("pipeline slot %q of microbatch %d got token %d outside stage %d's range",
							slot.Name, mb, token, slot.Stage)
					}
				case EventWait:
					if token == NoEvent {
						continue
					}
					waits = append(waits, pendingWait{token, slot.Name})
				}
			}
		}
	}
	for _, w := range waits {
		if _, found := recorded[w.token]; !found {
			return errors.Errorf("wait slot %q waits on token %d which nothing records", w.where, w.token)
		}
	}
	return nil
}
