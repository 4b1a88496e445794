// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package beautify reformats captured scripts and reports a position map
// relating the original text to the reformatted text.
package beautify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/scriptlens/services/viewer/sourcemap"
)

var tracer = otel.Tracer("viewer.beautify")

var (
	// ErrReformatFailed is returned when the printer could not reformat the input.
	ErrReformatFailed = errors.New("reformat failed")

	// ErrSourceTooLarge is returned when input exceeds MaxSourceBytes.
	ErrSourceTooLarge = errors.New("source exceeds beautify size limit")
)

// DefaultMaxSourceBytes is the default input limit (8MB).
const DefaultMaxSourceBytes = 8 * 1024 * 1024

// Result is the output of a successful reformat.
type Result struct {
	// Text is the reformatted program text.
	Text string

	// Mappings is the delta-encoded mappings string relating Text to the input.
	Mappings string

	// Map is the full position map envelope.
	Map *sourcemap.Map

	// Warnings are non-fatal printer diagnostics.
	Warnings []string
}

// Options configures a Beautifier.
type Options struct {
	// Enabled turns reformatting on. When false, Beautify returns the input
	// unchanged with no mappings.
	Enabled bool

	// MaxSourceBytes bounds the input size. Default: DefaultMaxSourceBytes.
	MaxSourceBytes int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Enabled:        true,
		MaxSourceBytes: DefaultMaxSourceBytes,
	}
}

// Beautifier reformats JavaScript with esbuild's printer.
//
// Thread Safety: Safe for concurrent use. esbuild's Transform is reentrant.
type Beautifier struct {
	opts Options
}

// New creates a Beautifier.
func New(opts Options) *Beautifier {
	if opts.MaxSourceBytes <= 0 {
		opts.MaxSourceBytes = DefaultMaxSourceBytes
	}
	return &Beautifier{opts: opts}
}

// Beautify reformats source and returns the reformatted text plus its position map.
//
// Description:
//
//	Runs esbuild's transform with whitespace minification off, which prints
//	one statement per line with normalized indentation, and asks for an
//	external position map. Syntax errors are a reformat failure; callers are
//	expected to fall back to the original text with an identity index.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	source - Raw program text.
//	name - Display name recorded as the map's source entry.
//
// Outputs:
//
//	*Result - Reformatted text and mappings.
//	error - ErrReformatFailed or ErrSourceTooLarge (wrapped).
func (b *Beautifier) Beautify(ctx context.Context, source, name string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "beautify.Beautify")
	defer span.End()
	span.SetAttributes(
		attribute.String("name", name),
		attribute.Int("source_bytes", len(source)),
	)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("beautify canceled: %w", err)
	}

	if !b.opts.Enabled {
		return &Result{Text: source}, nil
	}

	if len(source) > b.opts.MaxSourceBytes {
		err := fmt.Errorf("%w: %d > %d bytes", ErrSourceTooLarge, len(source), b.opts.MaxSourceBytes)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if name == "" {
		name = "source.js"
	}

	out := api.Transform(source, api.TransformOptions{
		Loader:        api.LoaderJS,
		Sourcemap:     api.SourceMapExternal,
		Sourcefile:    name,
		Charset:       api.CharsetUTF8,
		LegalComments: api.LegalCommentsInline,
		LogLevel:      api.LogLevelSilent,
	})

	if len(out.Errors) > 0 {
		first := out.Errors[0]
		detail := first.Text
		if first.Location != nil {
			detail = fmt.Sprintf("%d:%d: %s", first.Location.Line, first.Location.Column, first.Text)
		}
		err := fmt.Errorf("%w: %s (%d errors)", ErrReformatFailed, detail, len(out.Errors))
		span.RecordError(err)
		span.SetStatus(codes.Error, "reformat failed")
		slog.Debug("beautify failed",
			slog.String("name", name),
			slog.Int("errors", len(out.Errors)),
			slog.String("first_error", detail),
		)
		return nil, err
	}

	if len(out.Code) == 0 && strings.TrimSpace(source) != "" {
		return nil, fmt.Errorf("%w: printer produced no output", ErrReformatFailed)
	}

	if len(out.Map) == 0 {
		return &Result{Text: string(out.Code)}, nil
	}

	m, err := sourcemap.ParseMap(out.Map)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReformatFailed, err)
	}

	result := &Result{
		Text:     string(out.Code),
		Mappings: m.Mappings,
		Map:      m,
	}
	for _, w := range out.Warnings {
		result.Warnings = append(result.Warnings, w.Text)
	}

	span.SetAttributes(
		attribute.Int("output_bytes", len(result.Text)),
		attribute.Int("mappings_bytes", len(result.Mappings)),
		attribute.Int("warnings", len(result.Warnings)),
	)

	return result, nil
}
