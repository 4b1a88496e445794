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
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	colorMode string
)

var rootCmd = &cobra.Command{
	Use:   "scriptlens",
	Short: "Inspect captured scripts and the code reachable from findings",
	Long: `scriptlens reformats a captured script, builds a name-based call graph and
shows only the code reachable from the reported findings.

The same engine backs the viewer server (cmd/viewer).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		configureColor(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "Color output: auto, always, never")

	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(vlqCmd)
	rootCmd.AddCommand(graphCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// configureColor enables color only for terminals unless forced.
func configureColor(out io.Writer) {
	switch colorMode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		f, ok := out.(*os.File)
		color.NoColor = !ok || os.Getenv("NO_COLOR") != "" ||
			!(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
	}
}
