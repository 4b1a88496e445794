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
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/scriptlens/services/viewer/sourcemap"
)

var (
	decodeLine int
	decodeCol  int
)

var decodeCmd = &cobra.Command{
	Use:   "decode MAP.json",
	Short: "Decode a position map and look up original positions",
	Long: `Decode the mappings of a version 3 position map. Without --line the
command prints index statistics. With --line it prints the generated line
holding that original line (and --col, when given) plus every column entry
recorded for it.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().IntVar(&decodeLine, "line", 0, "Original line to look up (1-based)")
	decodeCmd.Flags().IntVar(&decodeCol, "col", -1, "Original column to look up (0-based)")
}

func runDecode(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	m, err := sourcemap.ParseMap(data)
	if err != nil {
		return err
	}

	s := newStyles()
	idx, err := sourcemap.Decode(cmd.Context(), m.Mappings)
	if err != nil {
		var derr *sourcemap.DecodeError
		if !errors.As(err, &derr) || idx == nil {
			return err
		}
		s.warning.Fprintf(cmd.ErrOrStderr(), "partial decode: %v\n", err)
	}

	out := cmd.OutOrStdout()
	if decodeLine < 1 {
		s.heading.Fprintln(out, "Index")
		fmt.Fprintf(out, "  sources:  %d\n", len(m.Sources))
		fmt.Fprintf(out, "  names:    %d\n", len(m.Names))
		fmt.Fprintf(out, "  segments: %d\n", idx.Segments())
		fmt.Fprintf(out, "  lines:    %d\n", idx.Lines())
		return nil
	}

	var col *int
	if decodeCol >= 0 {
		col = &decodeCol
	}
	fmt.Fprintf(out, "%d -> %d\n", decodeLine, idx.MapPosition(decodeLine, col))

	entries := idx.Columns(decodeLine)
	if len(entries) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tGENERATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%d\n", e.OriginalColumn, e.GeneratedLine)
	}
	return w.Flush()
}
