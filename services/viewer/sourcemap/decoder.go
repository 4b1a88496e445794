// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sourcemap

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyMappings is returned when there is nothing to decode.
	ErrEmptyMappings = errors.New("empty mappings")

	// ErrBadSegment is returned for a segment with 2 or 3 fields, or more than 5.
	ErrBadSegment = errors.New("malformed segment")

	// ErrUnsupportedVersion is returned for position maps that are not version 3.
	ErrUnsupportedVersion = errors.New("unsupported position map version")
)

// DecodeError reports where decoding of a mappings string stopped.
//
// Segments decoded before Offset are still valid and are returned alongside
// the error.
type DecodeError struct {
	// Offset is the byte offset in the mappings string.
	Offset int

	// GeneratedLine is the 0-based generated line being decoded.
	GeneratedLine int

	// Err is the underlying cause.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode mappings at offset %d (generated line %d): %v", e.Offset, e.GeneratedLine, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Segment is one decoded mapping entry. All coordinates are 0-based.
type Segment struct {
	GeneratedLine   int
	GeneratedColumn int

	// HasOriginal is false for copy-through segments with a single field.
	HasOriginal    bool
	SourceIndex    int
	OriginalLine   int
	OriginalColumn int

	HasName   bool
	NameIndex int
}

// Map is the JSON envelope of a version 3 position map.
type Map struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	SourceRoot     string   `json:"sourceRoot,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// ParseMap unmarshals a JSON position map.
func ParseMap(data []byte) (*Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing position map: %w", err)
	}
	if m.Version != 0 && m.Version != 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.Version)
	}
	return &m, nil
}

// decodeState holds the running accumulators. The generated column resets
// on every line; the other fields carry across lines.
type decodeState struct {
	generatedLine   int
	generatedColumn int
	sourceIndex     int
	originalLine    int
	originalColumn  int
	nameIndex       int
}

// DecodeMappings decodes a mappings string into absolute segments.
//
// Description:
//
//	';' ends a generated line, ',' separates segments on the same line.
//	Each segment holds 1, 4 or 5 deltas relative to decodeState. Decoding
//	stops at the first undecodable sequence; everything decoded before it is
//	returned together with a *DecodeError.
//
// Inputs:
//
//	mappings - The "mappings" field of a position map.
//
// Outputs:
//
//	[]Segment - Decoded segments in generated order. May be partial.
//	error - ErrEmptyMappings, or *DecodeError when decoding stopped early.
func DecodeMappings(mappings string) ([]Segment, error) {
	if mappings == "" {
		return nil, ErrEmptyMappings
	}

	segments := make([]Segment, 0, len(mappings)/4)
	var st decodeState
	var fields [5]int

	pos := 0
	for pos < len(mappings) {
		switch mappings[pos] {
		case ';':
			st.generatedLine++
			st.generatedColumn = 0
			pos++
			continue
		case ',':
			pos++
			continue
		}

		start := pos
		n := 0
		for pos < len(mappings) && mappings[pos] != ',' && mappings[pos] != ';' {
			if n == len(fields) {
				return segments, &DecodeError{Offset: start, GeneratedLine: st.generatedLine, Err: ErrBadSegment}
			}
			v, next, err := DecodeVLQ(mappings, pos)
			if err != nil {
				return segments, &DecodeError{Offset: pos, GeneratedLine: st.generatedLine, Err: err}
			}
			fields[n] = v
			n++
			pos = next
		}
		if n == 2 || n == 3 {
			return segments, &DecodeError{Offset: start, GeneratedLine: st.generatedLine, Err: ErrBadSegment}
		}

		st.generatedColumn += fields[0]
		seg := Segment{
			GeneratedLine:   st.generatedLine,
			GeneratedColumn: st.generatedColumn,
		}
		if n >= 4 {
			st.sourceIndex += fields[1]
			st.originalLine += fields[2]
			st.originalColumn += fields[3]
			seg.HasOriginal = true
			seg.SourceIndex = st.sourceIndex
			seg.OriginalLine = st.originalLine
			seg.OriginalColumn = st.originalColumn
		}
		if n == 5 {
			st.nameIndex += fields[4]
			seg.HasName = true
			seg.NameIndex = st.nameIndex
		}
		segments = append(segments, seg)
	}

	return segments, nil
}
