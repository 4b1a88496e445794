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
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/scriptlens/services/viewer/finding"
	"github.com/AleutianAI/scriptlens/services/viewer/render"
	"github.com/AleutianAI/scriptlens/services/viewer/session"
	"github.com/AleutianAI/scriptlens/services/viewer/source"
)

var (
	viewFindings   []string
	viewFull       bool
	viewDepth      int
	viewTarget     int
	viewNoBeautify bool
	viewJSON       bool
)

var viewCmd = &cobra.Command{
	Use:   "view FILE",
	Short: "Show the code reachable from findings",
	Long: `Reformat FILE, map the findings into the reformatted text and print the
focused view: the functions containing findings plus everything they call,
up to --depth hops. Hidden regions are collapsed into separator lines.

Findings are given in original coordinates as LINE[:COL][:SEVERITY], e.g.
--finding 1:120:high. Columns are 0-based.`,
	Args: cobra.ExactArgs(1),
	RunE: runView,
}

func init() {
	viewCmd.Flags().StringArrayVarP(&viewFindings, "finding", "f", nil, "Finding as LINE[:COL][:SEVERITY] (repeatable)")
	viewCmd.Flags().BoolVar(&viewFull, "full", false, "Show the full reformatted text")
	viewCmd.Flags().IntVar(&viewDepth, "depth", session.DefaultOptions().MaxDepth, "Maximum call hops from a finding")
	viewCmd.Flags().IntVar(&viewTarget, "target", 0, "Scroll target line in original coordinates")
	viewCmd.Flags().BoolVar(&viewNoBeautify, "no-beautify", false, "Skip reformatting")
	viewCmd.Flags().BoolVar(&viewJSON, "json", false, "Print the render model as JSON")
}

func runView(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	findings := make([]finding.Finding, 0, len(viewFindings))
	for _, raw := range viewFindings {
		f, err := parseFinding(raw)
		if err != nil {
			return err
		}
		findings = append(findings, f)
	}

	opts := session.DefaultOptions()
	opts.Beautify = !viewNoBeautify
	opts.MaxDepth = viewDepth
	pipeline := session.NewPipeline(opts, nil)

	doc := &source.Document{
		ID:       strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])),
		Text:     string(data),
		Findings: findings,
	}
	res, err := pipeline.Run(cmd.Context(), doc)
	if err != nil {
		return err
	}
	res.TargetLine = viewTarget

	mode := render.ModeFocused
	if viewFull {
		mode = render.ModeFull
	}
	model := render.NewCoordinator(res.View(), mode).Model()

	out := cmd.OutOrStdout()
	if viewJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(model)
	}

	s := newStyles()
	for _, d := range res.Degradations {
		s.warning.Fprintf(cmd.ErrOrStderr(), "degraded: %s: %s\n", d.Kind, d.Detail)
	}
	printModel(out, s, model)
	if res.Reach != nil && res.Reach.Truncated {
		s.warning.Fprintf(cmd.ErrOrStderr(), "reachability truncated at depth %d\n", viewDepth)
	}
	return nil
}

// printModel writes one line per display line with a right-aligned gutter.
func printModel(out io.Writer, s *styles, model *render.Model) {
	width := 1
	for _, l := range model.Lines {
		if n := len(l.Gutter); n > width {
			width = n
		}
	}
	for _, l := range model.Lines {
		mark := " "
		if l.Number == model.ScrollTarget {
			mark = ">"
		}
		s.gutter.Fprintf(out, "%s%*s │ ", mark, width, l.Gutter)
		switch {
		case l.Hidden:
			s.hidden.Fprintln(out, l.Text)
		case l.Highlighted:
			s.forSeverity(l.Severity).Fprintln(out, l.Text)
		default:
			fmt.Fprintln(out, l.Text)
		}
	}
}

// parseFinding parses LINE[:COL][:SEVERITY]. A second field that is not a
// number is read as the severity.
func parseFinding(raw string) (finding.Finding, error) {
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return finding.Finding{}, fmt.Errorf("finding %q: expected LINE[:COL][:SEVERITY]", raw)
	}

	line, err := strconv.Atoi(parts[0])
	if err != nil || line < 1 {
		return finding.Finding{}, fmt.Errorf("finding %q: line must be a positive integer", raw)
	}
	f := finding.Finding{Line: line}

	rest := parts[1:]
	if len(rest) > 0 && rest[0] != "" {
		if col, err := strconv.Atoi(rest[0]); err == nil {
			if col < 0 {
				return finding.Finding{}, fmt.Errorf("finding %q: column must not be negative", raw)
			}
			f.Column = finding.Col(col)
			rest = rest[1:]
		} else if len(rest) == 2 {
			return finding.Finding{}, fmt.Errorf("finding %q: column must be an integer", raw)
		}
	} else if len(rest) > 0 {
		rest = rest[1:]
	}

	if len(rest) > 0 {
		sev, err := finding.ParseSeverity(rest[0])
		if err != nil {
			return finding.Finding{}, fmt.Errorf("finding %q: %w", raw, err)
		}
		f.Severity = sev
	}
	return f, nil
}
