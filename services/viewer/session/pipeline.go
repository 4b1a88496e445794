// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session runs loads and owns the state of the viewer session: the
// current selection and the last applied load.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/scriptlens/services/viewer/ast"
	"github.com/AleutianAI/scriptlens/services/viewer/beautify"
	"github.com/AleutianAI/scriptlens/services/viewer/finding"
	"github.com/AleutianAI/scriptlens/services/viewer/focus"
	"github.com/AleutianAI/scriptlens/services/viewer/graph"
	"github.com/AleutianAI/scriptlens/services/viewer/reach"
	"github.com/AleutianAI/scriptlens/services/viewer/render"
	"github.com/AleutianAI/scriptlens/services/viewer/source"
	"github.com/AleutianAI/scriptlens/services/viewer/sourcemap"
)

var tracer = otel.Tracer("viewer.session")

// ErrTooManyFindings is returned when a document carries more findings than
// the pipeline accepts.
var ErrTooManyFindings = errors.New("too many findings")

// DegradationKind names a recoverable failure inside one load.
type DegradationKind string

const (
	// DegradeReformat: the printer failed; the raw text is shown with an
	// identity index.
	DegradeReformat DegradationKind = "reformat"

	// DegradeDecode: the position map was malformed; the index holds what
	// decoded before the error.
	DegradeDecode DegradationKind = "decode"

	// DegradeGraph: parsing failed; focus and definition lookup are off.
	DegradeGraph DegradationKind = "graph"

	// DegradeNoFocus: no finding fell inside a function.
	DegradeNoFocus DegradationKind = "no_focus"
)

// Degradation records one degraded step.
type Degradation struct {
	Kind   DegradationKind `json:"kind"`
	Detail string          `json:"detail"`
}

// LoadResult is the complete output of one load. It is immutable once
// returned.
type LoadResult struct {
	ID       string `json:"id"`
	Seq      uint64 `json:"seq"`
	SourceID string `json:"source_id"`

	// TargetLine is the requested line in original coordinates, or 0.
	TargetLine int `json:"target_line"`

	Raw            string   `json:"-"`
	Generated      string   `json:"-"`
	GeneratedLines []string `json:"-"`

	Index   *sourcemap.Index   `json:"-"`
	Graph   *graph.CodeGraph   `json:"-"`
	Tokens  []ast.Token        `json:"-"`
	Reach   *reach.Result      `json:"-"`
	Focused *focus.FocusedView `json:"-"`

	Findings []finding.Finding `json:"findings"`
	Mapped   []finding.Mapped  `json:"mapped"`

	Degradations []Degradation `json:"degradations,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Degraded reports whether kind was recorded.
func (r *LoadResult) Degraded(kind DegradationKind) bool {
	for _, d := range r.Degradations {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// Target returns TargetLine in generated coordinates, or 0.
func (r *LoadResult) Target() int {
	if r.TargetLine <= 0 {
		return 0
	}
	return r.Index.MapPosition(r.TargetLine, nil)
}

// Highlights returns one highlight per mapped finding.
func (r *LoadResult) Highlights() []render.Highlight {
	out := make([]render.Highlight, 0, len(r.Mapped))
	for _, m := range r.Mapped {
		out = append(out, render.Highlight{Line: m.Line, Severity: m.Severity})
	}
	return out
}

// View returns the render input of the result.
func (r *LoadResult) View() render.View {
	return render.View{
		Generated:  r.Generated,
		Focused:    r.Focused,
		Graph:      r.Graph,
		Highlights: r.Highlights(),
		Target:     r.Target(),
		Tokens:     r.Tokens,
	}
}

// Options configures a Pipeline.
type Options struct {
	// Beautify turns the reformatting step on.
	Beautify bool

	// MaxSourceBytes bounds reformatting input. Larger sources degrade to
	// the raw text.
	MaxSourceBytes int

	// MaxFindings bounds findings per document. 0 means unbounded.
	MaxFindings int

	// MaxDepth bounds the reachability walk.
	MaxDepth int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Beautify:       true,
		MaxSourceBytes: beautify.DefaultMaxSourceBytes,
		MaxDepth:       reach.DefaultMaxDepth,
	}
}

// Pipeline runs the load steps over one document.
//
// Thread Safety: Safe for concurrent use. Reconfigure affects runs started
// after it returns.
type Pipeline struct {
	mu         sync.RWMutex
	opts       Options
	beautifier *beautify.Beautifier
	analyzer   *reach.Analyzer
	parser     *ast.JavaScriptParser
	builder    *graph.Builder
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	parser := ast.NewJavaScriptParser()
	p := &Pipeline{
		parser:  parser,
		builder: graph.NewBuilder(graph.WithParser(parser), graph.WithLogger(logger)),
		logger:  logger,
	}
	p.Reconfigure(opts)
	return p
}

// Reconfigure replaces the pipeline options.
func (p *Pipeline) Reconfigure(opts Options) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
	p.beautifier = beautify.New(beautify.Options{
		Enabled:        opts.Beautify,
		MaxSourceBytes: opts.MaxSourceBytes,
	})
	p.analyzer = reach.NewAnalyzer(opts.MaxDepth)
}

func (p *Pipeline) snapshot() (Options, *beautify.Beautifier, *reach.Analyzer) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts, p.beautifier, p.analyzer
}

// Run performs one complete load of doc.
//
// Description:
//
//	Steps: reformat, then decode the position map and build the code graph
//	concurrently, then map findings, analyze reachability and project the
//	focused view. A failing step is recorded as a Degradation and the load
//	continues with that step's fallback.
//
// Inputs:
//
//	ctx - Context for tracing.
//	doc - The document to load. Must not be nil.
//
// Outputs:
//
//	*LoadResult - The complete result. Seq and TargetLine are left zero.
//	error - Non-nil only for unusable input.
func (p *Pipeline) Run(ctx context.Context, doc *source.Document) (*LoadResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("Run: doc must not be nil")
	}
	ctx, span := tracer.Start(ctx, "session.Pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("source_id", doc.ID),
		attribute.Int("source_bytes", len(doc.Text)),
		attribute.Int("findings", len(doc.Findings)),
	)

	opts, beautifier, analyzer := p.snapshot()
	if opts.MaxFindings > 0 && len(doc.Findings) > opts.MaxFindings {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFindings, len(doc.Findings), opts.MaxFindings)
	}

	start := time.Now()
	res := &LoadResult{
		ID:       uuid.NewString(),
		SourceID: doc.ID,
		Raw:      doc.Text,
		Findings: doc.Findings,
	}
	logger := p.logger.With(slog.String("load_id", res.ID), slog.String("source_id", doc.ID))

	// Reformat.
	phase := time.Now()
	generated, mappings := doc.Text, ""
	if out, err := beautifier.Beautify(ctx, doc.Text, doc.ID+".js"); err != nil {
		res.degrade(logger, DegradeReformat, err)
	} else {
		generated, mappings = out.Text, out.Mappings
	}
	observePhase("beautify", time.Since(phase))
	res.Generated = generated
	res.GeneratedLines = focus.SplitLines(generated)

	// Decode and graph are independent.
	var (
		idx                 *sourcemap.Index
		g                   *graph.CodeGraph
		tokens              []ast.Token
		decodeErr, graphErr error
	)
	var eg errgroup.Group
	eg.Go(func() error {
		if mappings == "" {
			return nil
		}
		t := time.Now()
		idx, decodeErr = sourcemap.Decode(ctx, mappings)
		observePhase("decode", time.Since(t))
		decodeSegments.Observe(float64(idx.Segments()))
		return nil
	})
	eg.Go(func() error {
		t := time.Now()
		g, graphErr = p.builder.Build(ctx, generated)
		if graphErr == nil {
			var err error
			if tokens, err = p.parser.Identifiers(ctx, []byte(generated)); err != nil {
				logger.Warn("token extraction failed", slog.String("error", err.Error()))
			}
		}
		observePhase("graph", time.Since(t))
		return nil
	})
	_ = eg.Wait()

	if decodeErr != nil {
		res.degrade(logger, DegradeDecode, decodeErr)
	}
	if graphErr != nil {
		res.degrade(logger, DegradeGraph, graphErr)
	}
	res.Index = idx
	res.Graph = g
	res.Tokens = tokens
	res.Mapped = idx.MapFindings(doc.Findings)

	// Reachability and projection.
	phase = time.Now()
	rr, err := analyzer.Analyze(ctx, res.Mapped, g)
	observePhase("reach", time.Since(phase))
	if err != nil {
		res.degrade(logger, DegradeNoFocus, err)
	} else {
		res.Reach = rr
		phase = time.Now()
		view, perr := focus.Project(rr.Ranges, res.GeneratedLines)
		observePhase("project", time.Since(phase))
		if perr != nil {
			res.degrade(logger, DegradeNoFocus, perr)
		} else {
			res.Focused = view
		}
	}

	res.Duration = time.Since(start)
	observePhase("total", res.Duration)

	span.SetAttributes(
		attribute.String("load_id", res.ID),
		attribute.Int("degradations", len(res.Degradations)),
		attribute.Bool("focused", res.Focused != nil),
	)
	logger.Info("load complete",
		slog.Int("generated_lines", len(res.GeneratedLines)),
		slog.Int("ranges", len(g.AllRanges)),
		slog.Int("degradations", len(res.Degradations)),
		slog.Bool("focused", res.Focused != nil),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func (r *LoadResult) degrade(logger *slog.Logger, kind DegradationKind, err error) {
	r.Degradations = append(r.Degradations, Degradation{Kind: kind, Detail: err.Error()})
	degradationsTotal.WithLabelValues(string(kind)).Inc()
	logger.Warn("load step degraded",
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
}

// Definitions implements source.Indexer: the named functions of doc, in the
// coordinates of its reformatted text, sorted by name.
func (p *Pipeline) Definitions(ctx context.Context, doc *source.Document) ([]source.Definition, error) {
	_, beautifier, _ := p.snapshot()

	text := doc.Text
	if out, err := beautifier.Beautify(ctx, doc.Text, doc.ID+".js"); err == nil {
		text = out.Text
	}

	g, err := p.builder.Build(ctx, text)
	if err != nil {
		return nil, err
	}

	defs := make([]source.Definition, 0, len(g.DefMap))
	for name, line := range g.DefMap {
		defs = append(defs, source.Definition{SourceID: doc.ID, Name: name, Line: line})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
