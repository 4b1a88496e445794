// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package finding defines reported code locations shared by the viewer packages.
package finding

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity ranks how important a finding is.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityInfo
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityUnknown:  "unknown",
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// String returns the lowercase severity name.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseSeverity parses a severity name. Matching is case-insensitive and
// "warning"/"error" are accepted as medium/high.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "unknown":
		return SeverityUnknown, nil
	case "info", "informational":
		return SeverityInfo, nil
	case "low":
		return SeverityLow, nil
	case "medium", "warning":
		return SeverityMedium, nil
	case "high", "error":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityUnknown, fmt.Errorf("unknown severity %q", name)
	}
}

// MarshalJSON encodes the severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either a name or a number.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseSeverity(name)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("severity must be a string or number: %w", err)
	}
	if n < int(SeverityUnknown) || n > int(SeverityCritical) {
		return fmt.Errorf("severity %d out of range", n)
	}
	*s = Severity(n)
	return nil
}

// Finding is a reported location in original-source coordinates.
//
// Line is 1-based. Column is 0-based and optional.
type Finding struct {
	Line     int      `json:"line" validate:"required,min=1"`
	Column   *int     `json:"column,omitempty" validate:"omitempty,min=0"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
}

// Mapped is a finding whose Line has been translated into generated coordinates.
type Mapped struct {
	Line         int      `json:"line"`
	Column       *int     `json:"column,omitempty"`
	Severity     Severity `json:"severity"`
	OriginalLine int      `json:"original_line"`
}

// Col returns a pointer to c, for building findings with a column.
func Col(c int) *int { return &c }
