// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/ashbhandare/onnxruntime/graph"
	"github.com/pkg/errors"
)

// EventRole distinguishes wait slots from record slots.
type EventRole int

const (
	EventWait EventRole = iota
	EventRecord
)

func (r EventRole) String() string {
	if r == EventRecord {
		return "record"
	}
	return "wait"
}

// EventChannel distinguishes the two independent synchronization concerns of
// a stage boundary: data readiness and pipeline execution order. Keeping them
// separate lets a transport node (e.g. a network send/receive) be inserted
// between the data and pipeline sync nodes later without renaming anything.
type EventChannel int

const (
	ChannelData EventChannel = iota
	ChannelPipeline
)

func (c EventChannel) String() string {
	if c == ChannelPipeline {
		return "pipeline"
	}
	return "data"
}

// EventSlot describes one synthesized scalar event-token input of a stage
// artifact. The runtime must feed a token value for every slot on every
// invocation (NoEvent is a valid value for waits).
type EventSlot struct {
	// Name of the artifact input, e.g. "wait_data_1_bw".
	Name string

	Role      EventRole
	Channel   EventChannel
	Stage     int
	Direction Direction
}

// eventInputName builds the artifact input name of an event slot. The naming
// follows the reference splitter: <role>_<channel>_<stage>_<fw|bw>.
func eventInputName(role EventRole, channel EventChannel, stage int, dir Direction) string {
	return fmt.Sprintf("%s_%s_%d_%s", role, channel, stage, dir.Suffix())
}

// Artifact is one finalized pipeline stage: a self-contained graph plus the
// inventory of event-token slots it declares. Artifacts are created once by
// Split and never mutated.
type Artifact struct {
	// Stage index in the cut, 0-based.
	Stage int

	// Graph is the stage's self-contained sub-graph.
	Graph *graph.Graph

	// Events lists the synthesized event-token inputs, in declaration order.
	Events []EventSlot
}

// EventSlot returns the slot declared under name, if any.
func (a *Artifact) EventSlot(name string) (EventSlot, bool) {
	for _, slot := range a.Events {
		if slot.Name == name {
			return slot, true
		}
	}
	return EventSlot{}, false
}

// GobSerialize the artifact in binary format. The encoding is deterministic
// for a given artifact.
func (a *Artifact) GobSerialize(encoder *gob.Encoder) (err error) {
	enc := func(e any) {
		if err != nil {
			return
		}
		err = encoder.Encode(e)
		if err != nil {
			err = errors.Wrapf(err, "failed to serialize stage %d artifact", a.Stage)
		}
	}
	enc(a.Stage)
	enc(a.Events)
	if err != nil {
		return
	}
	err = a.Graph.GobSerialize(encoder)
	return
}

// GobDeserializeArtifact reads an Artifact from the decoder.
func GobDeserializeArtifact(decoder *gob.Decoder) (a *Artifact, err error) {
	a = &Artifact{}
	dec := func(data any) {
		if err != nil {
			return
		}
		err = decoder.Decode(data)
		if err != nil {
			err = errors.Wrapf(err, "failed to deserialize artifact")
		}
	}
	dec(&a.Stage)
	dec(&a.Events)
	if err != nil {
		a = nil
		return
	}
	a.Graph, err = graph.GobDeserialize(decoder)
	if err != nil {
		a = nil
	}
	return
}

// Save the artifact to the given file path. Nothing is written if the
// artifact's graph fails its self-containment check.
func (a *Artifact) Save(filePath string) (err error) {
	if err = a.Graph.Validate(); err != nil {
		return errors.WithMessagef(err, "refusing to save inconsistent stage %d artifact", a.Stage)
	}
	var f *os.File
	f, err = os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save artifact", filePath)
	}
	enc := gob.NewEncoder(f)
	err = a.GobSerialize(enc)
	if err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "saving artifact to %q", filePath)
	}
	err = f.Close()
	if err != nil {
		err = errors.Wrapf(err, "closing %q, where artifact was saved", filePath)
	}
	return
}

// LoadArtifact reads an artifact from the file path given.
func LoadArtifact(filePath string) (a *Artifact, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q to load artifact", filePath)
	}
	dec := gob.NewDecoder(f)
	a, err = GobDeserializeArtifact(dec)
	if err != nil {
		_ = f.Close()
		return nil, errors.WithMessagef(err, "loading artifact from %q", filePath)
	}
	_ = f.Close()
	return
}
