// Copyright 2026 The onnxruntime-go Authors. SPDX-License-Identifier: Apache-2.0

// pipesplit partitions a training graph into pipeline stage artifacts.
//
// It loads a serialized graph and an HCL cut file, runs the splitter and
// saves one self-contained artifact per stage, then prints a per-stage
// summary table.
//
//	pipesplit -model model.bin -cut cut.hcl -out ./stages
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/ashbhandare/onnxruntime/graph"
	"github.com/ashbhandare/onnxruntime/pipeline"
)

var (
	flagModel = flag.String("model", "", "Path of the serialized training graph to split.")
	flagCut   = flag.String("cut", "", "Path of the HCL cut file describing the stages.")
	flagOut   = flag.String("out", ".", "Directory where the stage artifacts are written, as stage_<i>.bin.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

func newSummaryTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagModel == "" || *flagCut == "" {
		klog.Errorf("Both -model and -cut are required. See 'pipesplit -help'.")
		os.Exit(1)
	}

	mainGraph := must.M1(graph.Load(*flagModel))
	spec, _, err := pipeline.LoadCutFile(*flagCut, mainGraph)
	must.M(err)
	artifacts := must.M1(pipeline.Split(mainGraph, spec))

	table := newSummaryTable()
	table.Headers("Stage", "Nodes", "Initializers", "Inputs", "Outputs", "Events", "Size")
	for _, a := range artifacts {
		outPath := filepath.Join(*flagOut, fmt.Sprintf("stage_%d.bin", a.Stage))
		must.M(a.Save(outPath))
		info := must.M1(os.Stat(outPath))
		g := a.Graph
		table.Row(
			fmt.Sprintf("%d", a.Stage),
			humanize.Comma(int64(g.NumNodes())),
			humanize.Comma(int64(len(g.Initializers()))),
			humanize.Comma(int64(len(g.Inputs()))),
			humanize.Comma(int64(len(g.Outputs()))),
			humanize.Comma(int64(len(a.Events))),
			humanize.Bytes(uint64(info.Size())),
		)
	}
	fmt.Printf("Split %q into %d stages:\n", mainGraph.Name(), len(artifacts))
	fmt.Println(table.Render())
}
