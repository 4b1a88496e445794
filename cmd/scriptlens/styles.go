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
	"github.com/fatih/color"

	"github.com/AleutianAI/scriptlens/services/viewer/finding"
)

// styles holds the color formatters of human output.
type styles struct {
	gutter   *color.Color
	hidden   *color.Color
	heading  *color.Color
	warning  *color.Color
	name     *color.Color
	severity map[finding.Severity]*color.Color
}

func newStyles() *styles {
	return &styles{
		gutter:  color.New(color.FgHiBlack),
		hidden:  color.New(color.FgHiBlack, color.Italic),
		heading: color.New(color.Bold),
		warning: color.New(color.FgYellow),
		name:    color.New(color.Bold, color.FgHiBlue),
		severity: map[finding.Severity]*color.Color{
			finding.SeverityUnknown:  color.New(color.FgWhite, color.Bold),
			finding.SeverityInfo:     color.New(color.FgCyan),
			finding.SeverityLow:      color.New(color.FgGreen),
			finding.SeverityMedium:   color.New(color.FgYellow),
			finding.SeverityHigh:     color.New(color.FgRed),
			finding.SeverityCritical: color.New(color.FgHiRed, color.Bold),
		},
	}
}

func (s *styles) forSeverity(sev finding.Severity) *color.Color {
	if c, ok := s.severity[sev]; ok {
		return c
	}
	return s.severity[finding.SeverityUnknown]
}
