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
	"context"
	"errors"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/scriptlens/services/viewer/finding"
)

var tracer = otel.Tracer("viewer.sourcemap")

// ColumnEntry records that an original column on some line maps to a generated line.
type ColumnEntry struct {
	OriginalColumn int `json:"original_column"`
	GeneratedLine  int `json:"generated_line"`
}

// Index answers "which generated line holds this original position".
//
// Description:
//
//	Built once from decoded segments and immutable afterwards. Lines are
//	1-based, columns 0-based. A nil *Index is valid and maps every line to
//	itself, which is what callers get when decoding failed entirely.
//
// Thread Safety:
//
//	Safe for concurrent reads after construction.
type Index struct {
	lineMap  map[int]int
	colMap   map[int][]ColumnEntry
	segments int
	maxLine  int
}

// BuildIndex builds an Index from segments in a single forward pass.
//
// Segments without an original position are skipped. For each original line
// the smallest generated line wins in the line map; every entry is kept in
// the column map.
func BuildIndex(segments []Segment) *Index {
	idx := &Index{
		lineMap: make(map[int]int),
		colMap:  make(map[int][]ColumnEntry),
	}
	for _, seg := range segments {
		if !seg.HasOriginal {
			continue
		}
		idx.add(seg.OriginalLine+1, seg.OriginalColumn, seg.GeneratedLine+1)
	}
	idx.freeze()
	return idx
}

// add records one mapping. Only used while building.
func (idx *Index) add(originalLine, originalColumn, generatedLine int) {
	if cur, ok := idx.lineMap[originalLine]; !ok || generatedLine < cur {
		idx.lineMap[originalLine] = generatedLine
	}
	idx.colMap[originalLine] = append(idx.colMap[originalLine], ColumnEntry{
		OriginalColumn: originalColumn,
		GeneratedLine:  generatedLine,
	})
	if originalLine > idx.maxLine {
		idx.maxLine = originalLine
	}
	idx.segments++
}

// freeze orders each column list so floor lookups can binary search.
// The sort is stable, so for equal columns the first generated entry wins.
func (idx *Index) freeze() {
	for line, entries := range idx.colMap {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].OriginalColumn < entries[j].OriginalColumn
		})
		idx.colMap[line] = entries
	}
}

// Decode decodes a mappings string and builds its Index.
//
// Description:
//
//	On a partial decode the returned Index covers everything decoded before
//	the failure and the error is a *DecodeError. When nothing could be
//	decoded the Index is nil (identity lookups).
//
// Inputs:
//
//	ctx - Context for tracing.
//	mappings - The "mappings" field of a position map.
//
// Outputs:
//
//	*Index - Possibly partial index, or nil.
//	error - Non-nil if decoding stopped early or failed.
func Decode(ctx context.Context, mappings string) (*Index, error) {
	_, span := tracer.Start(ctx, "sourcemap.Decode")
	defer span.End()

	segments, err := DecodeMappings(mappings)
	span.SetAttributes(
		attribute.Int("mappings_bytes", len(mappings)),
		attribute.Int("segments", len(segments)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode stopped early")
		if len(segments) == 0 {
			return nil, err
		}
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			slog.Warn("position map decode truncated",
				slog.Int("offset", decErr.Offset),
				slog.Int("generated_line", decErr.GeneratedLine),
				slog.Int("segments_kept", len(segments)),
				slog.String("error", decErr.Err.Error()),
			)
		}
		return BuildIndex(segments), err
	}

	return BuildIndex(segments), nil
}

// MapPosition translates an original position into a generated line.
//
// Description:
//
//	Lookup order:
//	  a. When column is non-nil and the line has column entries, the entry
//	     with the greatest OriginalColumn <= column (floor match).
//	  b. The smallest generated line recorded for the line.
//	  c. The nearest mapped line above it.
//	  d. The line itself (identity), also used for a nil Index.
//
// Inputs:
//
//	line - 1-based original line.
//	column - Optional 0-based original column.
//
// Outputs:
//
//	int - 1-based generated line.
func (idx *Index) MapPosition(line int, column *int) int {
	if idx == nil {
		return line
	}

	if column != nil {
		if entries := idx.colMap[line]; len(entries) > 0 {
			// First entry with OriginalColumn > column; the floor is the one before it.
			i := sort.Search(len(entries), func(i int) bool {
				return entries[i].OriginalColumn > *column
			})
			if i > 0 {
				floor := entries[i-1].OriginalColumn
				// Several entries can share the floor column; take the first of them.
				j := sort.Search(i, func(k int) bool {
					return entries[k].OriginalColumn >= floor
				})
				return entries[j].GeneratedLine
			}
		}
	}

	if gen, ok := idx.lineMap[line]; ok {
		return gen
	}

	for l := line - 1; l >= 1; l-- {
		if gen, ok := idx.lineMap[l]; ok {
			return gen
		}
	}

	return line
}

// MapFindings translates findings into generated coordinates.
func (idx *Index) MapFindings(findings []finding.Finding) []finding.Mapped {
	out := make([]finding.Mapped, 0, len(findings))
	for _, f := range findings {
		out = append(out, finding.Mapped{
			Line:         idx.MapPosition(f.Line, f.Column),
			Column:       f.Column,
			Severity:     f.Severity,
			OriginalLine: f.Line,
		})
	}
	return out
}

// Lines returns the number of original lines with at least one mapping.
func (idx *Index) Lines() int {
	if idx == nil {
		return 0
	}
	return len(idx.lineMap)
}

// Segments returns the number of segments recorded in the index.
func (idx *Index) Segments() int {
	if idx == nil {
		return 0
	}
	return idx.segments
}

// Columns returns a copy of the column entries for an original line.
func (idx *Index) Columns(line int) []ColumnEntry {
	if idx == nil {
		return nil
	}
	entries := idx.colMap[line]
	out := make([]ColumnEntry, len(entries))
	copy(out, entries)
	return out
}
