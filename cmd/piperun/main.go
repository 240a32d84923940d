// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

// piperun splits a training graph and executes the resulting pipeline.
//
// It loads a serialized graph and an HCL cut file, splits the graph
// in-memory, derives the 1F1B event schedule and runs every (stage,
// microbatch) invocation concurrently with randomly generated inputs,
// reporting the fetched training outputs per microbatch.
//
//	piperun -model model.bin -cut cut.hcl -microbatches 6
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/ashbhandare/onnxruntime/engine"
	"github.com/ashbhandare/onnxruntime/graph"
	"github.com/ashbhandare/onnxruntime/pipeline"
	"github.com/ashbhandare/onnxruntime/types/tensor"
)

var (
	flagModel        = flag.String("model", "", "Path of the serialized training graph to run.")
	flagCut          = flag.String("cut", "", "Path of the HCL cut file describing the stages.")
	flagMicrobatches = flag.Int("microbatches", 0,
		"Number of microbatches to run. 0 takes the cut file's setting, or 4 if the cut file has none.")
	flagSeed = flag.Int64("seed", 42, "Seed for the randomly generated graph inputs.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagModel == "" || *flagCut == "" {
		klog.Errorf("Both -model and -cut are required. See 'piperun -help'.")
		os.Exit(1)
	}

	mainGraph := must.M1(graph.Load(*flagModel))
	spec, opts, err := pipeline.LoadCutFile(*flagCut, mainGraph)
	must.M(err)

	microbatches := *flagMicrobatches
	if microbatches == 0 {
		microbatches = opts.Microbatches
	}
	if microbatches == 0 {
		microbatches = 4
	}
	tokenBlock := opts.TokenBlock
	if tokenBlock == 0 {
		tokenBlock = pipeline.DefaultTokenBlock
	}

	artifacts := must.M1(pipeline.Split(mainGraph, spec))
	sched := must.M1(pipeline.BuildSchedule(spec, artifacts, microbatches, pipeline.NewTokenSpace(tokenBlock)))
	must.M(sched.Validate(artifacts))

	results := must.M1(run(mainGraph, artifacts, sched, microbatches, *flagSeed))
	report(mainGraph, results)
}

// generateInputs builds one random tensor per declared input of the main
// graph, per microbatch. Float inputs get uniform values in [-1, 1); integer
// inputs get zeros.
func generateInputs(mainGraph *graph.Graph, microbatches int, seed int64) []map[string]*tensor.Tensor {
	generated := make([]map[string]*tensor.Tensor, microbatches)
	for mb := range generated {
		rng := rand.New(rand.NewSource(seed + int64(mb)))
		generated[mb] = make(map[string]*tensor.Tensor)
		for _, in := range mainGraph.Inputs() {
			t := tensor.FromShape(in.Shape)
			if in.Shape.DType == tensor.Float32 {
				values := t.Float32s()
				for ii := range values {
					values[ii] = rng.Float32()*2 - 1
				}
			}
			generated[mb][in.Name] = t
		}
	}
	return generated
}

// stageFeeds assembles the feeds of one (stage, microbatch) invocation: the
// event tokens from the schedule, plus any main-graph inputs the stage
// declares, either directly or renamed behind the entry sync boundary.
// Everything else the stage needs arrives through the shared store.
func stageFeeds(mainGraph *graph.Graph, a *pipeline.Artifact, tokens map[string]pipeline.EventToken,
	generated map[string]*tensor.Tensor) map[string]*tensor.Tensor {
	feeds := make(map[string]*tensor.Tensor, len(a.Events)+len(generated))
	for name, token := range tokens {
		feeds[name] = tensor.FromScalarInt64(int64(token))
	}
	for _, in := range a.Graph.Inputs() {
		if _, isEvent := a.EventSlot(in.Name); isEvent {
			continue
		}
		if t, found := generated[in.Name]; found {
			feeds[in.Name] = t
			continue
		}
		if base, found := strings.CutSuffix(in.Name, "_sync"); found {
			if t, ok := generated[base]; ok {
				feeds[in.Name] = t
			}
		}
	}
	return feeds
}

// run executes every (stage, microbatch) invocation on its own goroutine.
// All invocations share one event hub; each microbatch has its own tensor
// store shared by its stages. Fetched are the stage outputs that are also
// declared outputs of the main graph.
func run(mainGraph *graph.Graph, artifacts []*pipeline.Artifact, sched *pipeline.Schedule,
	microbatches int, seed int64) ([]map[string]*tensor.Tensor, error) {
	generated := generateInputs(mainGraph, microbatches, seed)

	hub := engine.NewEventHub()
	stores := make([]*engine.Store, microbatches)
	for mb := range stores {
		stores[mb] = engine.NewStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bar := progressbar.NewOptions(len(artifacts)*microbatches,
		progressbar.OptionSetDescription("Pipeline: "),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("invocations"))

	// results[mb] accumulates the fetched outputs of every stage.
	results := make([]map[string]*tensor.Tensor, microbatches)
	for mb := range results {
		results[mb] = make(map[string]*tensor.Tensor)
	}
	var resultsMu sync.Mutex

	errs := make(chan error, len(artifacts)*microbatches)
	var wg sync.WaitGroup
	for _, a := range artifacts {
		var fetches []string
		for _, out := range a.Graph.Outputs() {
			if _, isMainOutput := mainGraph.Output(out.Name); isMainOutput {
				fetches = append(fetches, out.Name)
			}
		}
		for mb := 0; mb < microbatches; mb++ {
			wg.Add(1)
			go func(a *pipeline.Artifact, mb int, fetches []string) {
				defer wg.Done()
				e := engine.New(a.Graph).WithEvents(hub).WithStore(stores[mb])
				feeds := stageFeeds(mainGraph, a, sched.Feeds(a.Stage, mb), generated[mb])
				fetched, err := e.Run(ctx, feeds, fetches)
				if err != nil {
					errs <- fmt.Errorf("stage %d, microbatch %d: %w", a.Stage, mb, err)
					cancel()
					return
				}
				resultsMu.Lock()
				for name, t := range fetched {
					results[mb][name] = t
				}
				resultsMu.Unlock()
				_ = bar.Add(1)
			}(a, mb, fetches)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return nil, err
	}
	return results, nil
}

func report(mainGraph *graph.Graph, results []map[string]*tensor.Tensor) {
	fmt.Println()
	for mb, fetched := range results {
		if loss, found := fetched["loss"]; found && loss.Shape().IsScalar() {
			fmt.Printf("microbatch %d: loss=%g\n", mb, loss.Float32s()[0])
			continue
		}
		fmt.Printf("microbatch %d: %d outputs fetched\n", mb, len(fetched))
	}
	fmt.Printf("Ran %d microbatches over %d declared outputs.\n",
		len(results), len(mainGraph.Outputs()))
}
