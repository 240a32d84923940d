// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashbhandare/onnxruntime/engine"
	"github.com/ashbhandare/onnxruntime/graph/graphtest"
	"github.com/ashbhandare/onnxruntime/types/tensor"
)

// TestPipelineMatchesUnsplit runs the three-stage MLP pipeline over six
// microbatches, every (stage, microbatch) invocation on its own goroutine,
// and compares the fetched training outputs against the unsplit graph.
func TestPipelineMatchesUnsplit(t *testing.T) {
	g := graphtest.BuildMLPTraining(11)
	spec := mlpCutSpec(t, g)
	artifacts, err := Split(g, spec)
	require.NoError(t, err)

	const microbatches = 6
	sched, err := BuildSchedule(spec, artifacts, microbatches, NewTokenSpace(100))
	require.NoError(t, err)
	require.NoError(t, sched.Validate(artifacts))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub := engine.NewEventHub()
	stores := make([]*engine.Store, microbatches)
	inputs := make([]map[string]*tensor.Tensor, microbatches)
	for mb := 0; mb < microbatches; mb++ {
		stores[mb] = engine.NewStore()
		x, labels := graphtest.RandomInput(mb)
		inputs[mb] = map[string]*tensor.Tensor{"X": x, "labels": labels}
	}

	// results[mb] collects the declared main-graph outputs fetched from
	// whichever stage produces them.
	results := make([]map[string]*tensor.Tensor, microbatches)
	for mb := range results {
		results[mb] = make(map[string]*tensor.Tensor)
	}
	var resultsMu sync.Mutex

	var wg sync.WaitGroup
	errs := make(chan error, len(artifacts)*microbatches)
	for _, a := range artifacts {
		var fetches []string
		for _, out := range a.Graph.Outputs() {
			if _, isMainOutput := g.Output(out.Name); isMainOutput {
				fetches = append(fetches, out.Name)
			}
		}
		for mb := 0; mb < microbatches; mb++ {
			wg.Add(1)
			go func(a *Artifact, mb int, fetches []string) {
				defer wg.Done()
				feeds := make(map[string]*tensor.Tensor)
				for name, token := range sched.Feeds(a.Stage, mb) {
					feeds[name] = tensor.FromScalarInt64(int64(token))
				}
				for _, in := range a.Graph.Inputs() {
					if _, isEvent := a.EventSlot(in.Name); isEvent {
						continue
					}
					if t, found := inputs[mb][in.Name]; found {
						feeds[in.Name] = t
						continue
					}
					if base, found := strings.CutSuffix(in.Name, "_sync"); found {
						if t, ok := inputs[mb][base]; ok {
							feeds[in.Name] = t
						}
					}
				}
				e := engine.New(a.Graph).WithEvents(hub).WithStore(stores[mb])
				fetched, err := e.Run(ctx, feeds, fetches)
				if err != nil {
					errs <- err
					cancel()
					return
				}
				resultsMu.Lock()
				for name, t := range fetched {
					results[mb][name] = t
				}
				resultsMu.Unlock()
			}(a, mb, fetches)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Reference: the unsplit graph, one run per microbatch.
	outputs := make([]string, 0, len(g.Outputs()))
	for _, out := range g.Outputs() {
		outputs = append(outputs, out.Name)
	}
	for mb := 0; mb < microbatches; mb++ {
		want, err := engine.New(g).Run(context.Background(), inputs[mb], outputs)
		require.NoError(t, err)
		for _, name := range outputs {
			got, found := results[mb][name]
			require.True(t, found, "microbatch %d output %q missing from pipeline run", mb, name)
			require.True(t, want[name].Shape().Equal(got.Shape()),
				"microbatch %d output %q shape", mb, name)
			wantFlat, gotFlat := want[name].Float32s(), got.Float32s()
			for ii := range wantFlat {
				assert.InDelta(t, wantFlat[ii], gotFlat[ii], 1e-5,
					"microbatch %d output %q element %d", mb, name, ii)
			}
		}
	}
}
