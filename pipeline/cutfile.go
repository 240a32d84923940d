// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/ashbhandare/onnxruntime/graph"
)

// Options are the pipeline-wide settings a cut file may carry next to the
// stage blocks.
type Options struct {
	// TokenBlock is the size of each event-token range; 0 selects
	// DefaultTokenBlock.
	TokenBlock int64

	// Microbatches is the default microbatch count for schedule generation;
	// 0 means the caller decides.
	Microbatches int
}

// Cut files are HCL:
//
//	options { token_block = 100  microbatches = 6 }
//	stage {
//	  forward {
//	    nodes        = ["T1", "T2", "T3"]
//	    sync_inputs  = ["X"]
//	    sync_outputs = ["T3"]
//	  }
//	  backward {
//	    nodes          = ["T2_grad", "T1_grad", "B1_grad", "W1_grad"]
//	    sync_inputs    = ["T3_grad"]
//	    wait_depends   = ["T3_sync"]
//	    record_depends = ["B1_grad", "W1_grad"]
//	  }
//	}
//
// Nodes are referenced by their graph node name and resolved to stable
// NodeIDs against the main graph at load time.
type cutFileDirection struct {
	Nodes         []string `hcl:"nodes"`
	SyncInputs    []string `hcl:"sync_inputs,optional"`
	SyncOutputs   []string `hcl:"sync_outputs,optional"`
	WaitDepends   []string `hcl:"wait_depends,optional"`
	RecordDepends []string `hcl:"record_depends,optional"`
}

type cutFileStage struct {
	Forward  *cutFileDirection `hcl:"forward,block"`
	Backward *cutFileDirection `hcl:"backward,block"`
}

type cutFileOptions struct {
	Body hcl.Body `hcl:",remain"`
}

type cutFile struct {
	Options *cutFileOptions `hcl:"options,block"`
	Stages  []*cutFileStage `hcl:"stage,block"`
}

// LoadCutFile parses an HCL cut file and resolves it against the main graph.
// The returned CutSpec is already validated.
func LoadCutFile(filePath string, main *graph.Graph) (*CutSpec, Options, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, Options{}, errors.Wrapf(diags, "failed to parse cut file %q", filePath)
	}
	return decodeCutFile(file.Body, main)
}

// ParseCut parses cut-file source held in memory; filename is only used in
// error messages.
func ParseCut(src []byte, filename string, main *graph.Graph) (*CutSpec, Options, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, Options{}, errors.Wrapf(diags, "failed to parse cut source %q", filename)
	}
	return decodeCutFile(file.Body, main)
}

func decodeCutFile(body hcl.Body, main *graph.Graph) (*CutSpec, Options, error) {
	var parsed cutFile
	diags := gohcl.DecodeBody(body, nil, &parsed)
	if diags.HasErrors() {
		return nil, Options{}, errors.Wrap(diags, "failed to decode cut file")
	}

	var opts Options
	if parsed.Options != nil {
		if err := decodeOptions(parsed.Options.Body, &opts); err != nil {
			return nil, Options{}, err
		}
	}

	spec := &CutSpec{Stages: make([]StageSpec, 0, len(parsed.Stages))}
	for stageIdx, stage := range parsed.Stages {
		var ss StageSpec
		if stage.Forward != nil {
			d, err := stage.Forward.resolve(main)
			if err != nil {
				return nil, Options{}, errors.WithMessagef(err, "stage %d forward", stageIdx)
			}
			ss.Forward = d
		}
		if stage.Backward != nil {
			d, err := stage.Backward.resolve(main)
			if err != nil {
				return nil, Options{}, errors.WithMessagef(err, "stage %d backward", stageIdx)
			}
			ss.Backward = d
		}
		spec.Stages = append(spec.Stages, ss)
	}
	if err := spec.Validate(main); err != nil {
		return nil, Options{}, err
	}
	return spec, opts, nil
}

func (d *cutFileDirection) resolve(main *graph.Graph) (DirectionSpec, error) {
	ids, err := ResolveNodeIDs(main, d.Nodes)
	if err != nil {
		return DirectionSpec{}, err
	}
	return DirectionSpec{
		Nodes:         ids,
		SyncInputs:    d.SyncInputs,
		SyncOutputs:   d.SyncOutputs,
		WaitDepends:   d.WaitDepends,
		RecordDepends: d.RecordDepends,
	}, nil
}

// decodeOptions reads the options block attribute by attribute, converting
// the cty values to Go types.
func decodeOptions(body hcl.Body, opts *Options) error {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return errors.Wrap(diags, "failed to read options block")
	}
	for name, attr := range attrs {
		value, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return errors.Wrapf(diags, "failed to evaluate option %q", name)
		}
		switch name {
		case "token_block":
			if err := gocty.FromCtyValue(value, &opts.TokenBlock); err != nil {
				return errors.Wrapf(err, "option token_block must be an integer")
			}
		case "microbatches":
			if err := gocty.FromCtyValue(value, &opts.Microbatches); err != nil {
				return errors.Wrapf(err, "option microbatches must be an integer")
			}
		default:
			return errors.Errorf("unknown option %q at %s", name, attr.Range)
		}
	}
	return nil
}
