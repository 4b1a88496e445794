// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/AleutianAI/scriptlens/services/viewer/ast"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a CodeGraph.
//
// Description:
//
//	Ranges keep traversal order so the innermost-range tie break survives a
//	round trip. Callees are sorted so the encoding is deterministic.
//
// Thread Safety: SerializableGraph is a value type with no internal state.
type SerializableGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// SourceHash is the SHA256 of the text the graph was built from.
	SourceHash string `json:"source_hash"`

	// BuiltAtMilli is the Unix timestamp in milliseconds when the graph was built.
	BuiltAtMilli int64 `json:"built_at_milli"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash string `json:"graph_hash"`

	// Ranges contains every function-like range in traversal order.
	Ranges []SerializableRange `json:"ranges"`
}

// SerializableRange is the JSON-serializable representation of a FunctionRange.
type SerializableRange struct {
	Name      string   `json:"name,omitempty"`
	Kind      string   `json:"kind"`
	KindCode  int      `json:"kind_code"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Callees   []string `json:"callees"`
}

// ToSerializable converts the graph to its JSON-serializable representation.
//
// Outputs:
//
//	*SerializableGraph - Never nil. A nil graph yields an empty one.
func (g *CodeGraph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Ranges:        []SerializableRange{},
		}
	}

	ranges := make([]SerializableRange, 0, len(g.AllRanges))
	for _, r := range g.AllRanges {
		ranges = append(ranges, SerializableRange{
			Name:      r.Name,
			Kind:      r.Kind.String(),
			KindCode:  int(r.Kind),
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Callees:   r.CalleeNames(),
		})
	}

	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		SourceHash:    g.SourceHash,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     g.Hash(),
		Ranges:        ranges,
	}
}

// FromSerializable reconstructs a CodeGraph.
//
// Description:
//
//	Replays the ranges in order through the same last-write-wins rule the
//	builder uses, so DefMap and FuncMap match the original graph.
//
// Errors:
//
//	Returns error if sg is nil, the schema version is unsupported, or a range
//	has an inverted line span.
func FromSerializable(sg *SerializableGraph) (*CodeGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", sg.SchemaVersion, GraphSchemaVersion)
	}

	g := NewEmpty()
	g.SourceHash = sg.SourceHash
	g.BuiltAtMilli = sg.BuiltAtMilli
	g.AllRanges = make([]*FunctionRange, 0, len(sg.Ranges))

	for i, sr := range sg.Ranges {
		if sr.StartLine < 1 || sr.EndLine < sr.StartLine {
			return nil, fmt.Errorf("range %d: invalid span %d-%d", i, sr.StartLine, sr.EndLine)
		}
		r := &FunctionRange{
			StartLine: sr.StartLine,
			EndLine:   sr.EndLine,
			Name:      sr.Name,
			Kind:      ast.FunctionKind(sr.KindCode),
			Callees:   make(map[string]struct{}, len(sr.Callees)),
		}
		for _, c := range sr.Callees {
			r.Callees[c] = struct{}{}
		}
		g.AllRanges = append(g.AllRanges, r)
		if r.Name != "" {
			g.DefMap[r.Name] = r.StartLine
			g.FuncMap[r.Name] = r
		}
	}

	return g, nil
}

// Hash returns a deterministic SHA256 over the graph structure.
//
// Description:
//
//	Covers every range's span, kind, name and sorted callees in traversal
//	order. BuiltAtMilli is excluded so rebuilding identical text yields the
//	same hash.
func (g *CodeGraph) Hash() string {
	h := sha256.New()
	if g == nil {
		return hex.EncodeToString(h.Sum(nil))
	}
	var buf []byte
	for _, r := range g.AllRanges {
		buf = buf[:0]
		buf = strconv.AppendInt(buf, int64(r.StartLine), 10)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, int64(r.EndLine), 10)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, int64(r.Kind), 10)
		buf = append(buf, ':')
		buf = append(buf, r.Name...)
		for _, c := range r.CalleeNames() {
			buf = append(buf, ',')
			buf = append(buf, c...)
		}
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
