// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/scriptlens/services/viewer/beautify"
	"github.com/AleutianAI/scriptlens/services/viewer/graph"
)

var (
	graphJSON       bool
	graphNoBeautify bool
)

var graphCmd = &cobra.Command{
	Use:   "graph FILE",
	Short: "Print the function ranges and calls of a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

func init() {
	graphCmd.Flags().BoolVar(&graphJSON, "json", false, "Print the graph as JSON")
	graphCmd.Flags().BoolVar(&graphNoBeautify, "no-beautify", false, "Build from the raw text")
}

func runGraph(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	s := newStyles()

	text := string(data)
	b := beautify.New(beautify.Options{Enabled: !graphNoBeautify})
	if res, err := b.Beautify(cmd.Context(), text, filepath.Base(args[0])); err != nil {
		s.warning.Fprintf(cmd.ErrOrStderr(), "reformat failed, using raw text: %v\n", err)
	} else {
		text = res.Text
	}

	g, err := graph.NewBuilder().Build(cmd.Context(), text)
	if err != nil {
		s.warning.Fprintf(cmd.ErrOrStderr(), "degraded: %v\n", err)
	}

	out := cmd.OutOrStdout()
	if graphJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(g.ToSerializable())
	}

	stats := g.Stats()
	s.heading.Fprintf(out, "%d ranges, %d named, %d edges\n", stats.Ranges, stats.Named, stats.Edges)
	for _, r := range g.AllRanges {
		name := r.Name
		if name == "" {
			name = "(anonymous)"
		}
		fmt.Fprintf(out, "%5d-%-5d %-11s ", r.StartLine, r.EndLine, r.Kind)
		s.name.Fprint(out, name)
		if callees := r.CalleeNames(); len(callees) > 0 {
			fmt.Fprintf(out, " -> %v", callees)
		}
		fmt.Fprintln(out)
	}
	return nil
}
