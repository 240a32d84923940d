// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashbhandare/onnxruntime/graph/graphtest"
)

const chainCutSource = `
options {
  token_block  = 50
  microbatches = 2
}

stage {
  forward {
    nodes        = ["A"]
    sync_outputs = ["A_out"]
  }
}

stage {
  forward {
    nodes       = ["B", "C"]
    sync_inputs = ["A_out"]
  }
}
`

func TestParseCut(t *testing.T) {
	g := graphtest.BuildChain()
	spec, opts, err := ParseCut([]byte(chainCutSource), "chain.hcl", g)
	require.NoError(t, err)
	assert.Equal(t, int64(50), opts.TokenBlock)
	assert.Equal(t, 2, opts.Microbatches)

	require.Equal(t, 2, spec.NumStages())
	assert.Equal(t, mustNodeIDs(t, g, "A"), spec.Stages[0].Forward.Nodes)
	assert.Equal(t, []string{"A_out"}, spec.Stages[0].Forward.SyncOutputs)
	assert.Equal(t, mustNodeIDs(t, g, "B", "C"), spec.Stages[1].Forward.Nodes)
	assert.Equal(t, []string{"A_out"}, spec.Stages[1].Forward.SyncInputs)
	assert.True(t, spec.Stages[0].Backward.IsEmpty())

	// The parsed spec is immediately splittable.
	artifacts, err := Split(g, spec)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
}

func TestParseCutDefaults(t *testing.T) {
	g := graphtest.BuildChain()
	src := `
stage {
  forward {
    nodes        = ["A"]
    sync_outputs = ["A_out"]
  }
}
stage {
  forward {
    nodes       = ["B", "C"]
    sync_inputs = ["A_out"]
  }
}
`
	_, opts, err := ParseCut([]byte(src), "chain.hcl", g)
	require.NoError(t, err)
	assert.Zero(t, opts.TokenBlock)
	assert.Zero(t, opts.Microbatches)
}

func TestParseCutErrors(t *testing.T) {
	g := graphtest.BuildChain()

	// Malformed HCL.
	_, _, err := ParseCut([]byte(`stage {`), "bad.hcl", g)
	require.Error(t, err)

	// Unknown option.
	_, _, err = ParseCut([]byte(`
options { no_such_option = 1 }
stage { forward { nodes = ["A", "B", "C"] } }
`), "bad.hcl", g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_option")

	// Unknown node name.
	_, _, err = ParseCut([]byte(`
stage { forward { nodes = ["A", "B", "C", "D"] } }
`), "bad.hcl", g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvableReference), "got %v", err)

	// Valid HCL, invalid cut: node C is never classified.
	_, _, err = ParseCut([]byte(`
stage { forward { nodes = ["A", "B"] } }
`), "bad.hcl", g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnclassifiedNode), "got %v", err)
}

func TestLoadCutFile(t *testing.T) {
	g := graphtest.BuildChain()
	path := filepath.Join(t.TempDir(), "chain.hcl")
	require.NoError(t, os.WriteFile(path, []byte(chainCutSource), 0o644))

	spec, opts, err := LoadCutFile(path, g)
	require.NoError(t, err)
	assert.Equal(t, int64(50), opts.TokenBlock)
	assert.Equal(t, 2, spec.NumStages())

	_, _, err = LoadCutFile(filepath.Join(t.TempDir(), "missing.hcl"), g)
	require.Error(t, err)
}
