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
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/scriptlens/services/viewer/sourcemap"
)

var vlqCmd = &cobra.Command{
	Use:   "vlq",
	Short: "Encode or decode base64 VLQ values",
}

var vlqEncodeCmd = &cobra.Command{
	Use:   "encode N...",
	Short: "Encode integers as one VLQ segment",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deltas := make([]int, len(args))
		for i, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("argument %q is not an integer", a)
			}
			deltas[i] = n
		}
		fmt.Fprintln(cmd.OutOrStdout(), sourcemap.EncodeSegment(deltas...))
		return nil
	},
}

var vlqDecodeCmd = &cobra.Command{
	Use:   "decode SEGMENT",
	Short: "Decode a VLQ segment into integers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := args[0]
		var values []string
		for pos := 0; pos < len(s); {
			v, next, err := sourcemap.DecodeVLQ(s, pos)
			if err != nil {
				return err
			}
			values = append(values, strconv.Itoa(v))
			pos = next
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(values, " "))
		return nil
	},
}

func init() {
	vlqCmd.AddCommand(vlqEncodeCmd, vlqDecodeCmd)
}
