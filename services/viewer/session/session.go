// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/scriptlens/services/viewer/source"
)

// ErrStaleLoad is returned when a newer selection superseded a load. The
// stale result is discarded in full.
var ErrStaleLoad = errors.New("load superseded by a newer selection")

// Selection is the currently requested source and target line.
type Selection struct {
	Seq      uint64 `json:"seq"`
	SourceID string `json:"source_id"`
	Target   int    `json:"target"`
}

// Session owns the viewer state: the latest selection and the last applied
// load.
//
// Description:
//
//	Every Select bumps a monotonic sequence number. A load applies its result
//	only if its number is still the latest when it completes, so the last
//	selection wins no matter in which order loads finish. Fetch completions
//	re-check the selection before any work is done on their behalf.
//
// Thread Safety: Safe for concurrent use.
type Session struct {
	repo     source.Repository
	pipeline *Pipeline
	logger   *slog.Logger

	mu       sync.Mutex
	selected Selection

	current atomic.Pointer[LoadResult]

	subsMu  sync.Mutex
	subs    map[uint64]chan *LoadResult
	nextSub uint64
}

// New creates a Session.
func New(repo source.Repository, pipeline *Pipeline, logger *slog.Logger) (*Session, error) {
	if repo == nil {
		return nil, fmt.Errorf("New: repo must not be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("New: pipeline must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		repo:     repo,
		pipeline: pipeline,
		logger:   logger,
		subs:     make(map[uint64]chan *LoadResult),
	}, nil
}

// Pipeline returns the session's pipeline.
func (s *Session) Pipeline() *Pipeline {
	return s.pipeline
}

// Repository returns the session's repository.
func (s *Session) Repository() source.Repository {
	return s.repo
}

// Select records a new selection and returns its sequence number.
func (s *Session) Select(sourceID string, target int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = Selection{
		Seq:      s.selected.Seq + 1,
		SourceID: sourceID,
		Target:   target,
	}
	return s.selected.Seq
}

// Selected returns the latest selection.
func (s *Session) Selected() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Session) isLatest(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected.Seq == seq
}

// Load selects sourceID and loads it.
//
// Description:
//
//	Fetches the document, checks that the selection is still current, runs
//	the pipeline and applies the result only if no newer selection was made
//	in the meantime. Subscribers receive every applied result.
//
// Inputs:
//
//	ctx - Context for the fetch and tracing.
//	sourceID - The source to load.
//	target - Requested line in original coordinates, or 0.
//
// Outputs:
//
//	*LoadResult - The applied result.
//	error - ErrStaleLoad when superseded, a repository error, or a
//	        pipeline input error. Current is unchanged on error.
func (s *Session) Load(ctx context.Context, sourceID string, target int) (*LoadResult, error) {
	seq := s.Select(sourceID, target)
	return s.load(ctx, seq, sourceID, target)
}

func (s *Session) load(ctx context.Context, seq uint64, sourceID string, target int) (*LoadResult, error) {
	ctx, span := tracer.Start(ctx, "session.Session.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("source_id", sourceID),
		attribute.Int64("seq", int64(seq)),
	)

	logger := s.logger.With(slog.String("source_id", sourceID), slog.Uint64("seq", seq))

	doc, err := s.repo.Fetch(ctx, sourceID)
	if !s.isLatest(seq) {
		recordOutcome("stale")
		logger.Debug("discarding fetch for superseded selection")
		return nil, ErrStaleLoad
	}
	if err != nil {
		recordOutcome("failed")
		span.RecordError(err)
		return nil, fmt.Errorf("loading %s: %w", sourceID, err)
	}

	res, err := s.pipeline.Run(ctx, doc)
	if err != nil {
		recordOutcome("failed")
		span.RecordError(err)
		return nil, fmt.Errorf("loading %s: %w", sourceID, err)
	}
	res.Seq = seq
	res.TargetLine = target

	s.mu.Lock()
	if s.selected.Seq != seq {
		s.mu.Unlock()
		recordOutcome("stale")
		logger.Debug("discarding stale load", slog.String("load_id", res.ID))
		return nil, ErrStaleLoad
	}
	s.current.Store(res)
	s.mu.Unlock()

	recordOutcome("applied")
	s.publish(res)
	return res, nil
}

// Reload re-runs the latest selection.
func (s *Session) Reload(ctx context.Context) (*LoadResult, error) {
	sel := s.Selected()
	if sel.SourceID == "" {
		return nil, fmt.Errorf("Reload: nothing selected")
	}
	return s.Load(ctx, sel.SourceID, sel.Target)
}

// Current returns the last applied load, or nil.
func (s *Session) Current() *LoadResult {
	return s.current.Load()
}

// Subscribe streams applied loads until ctx is canceled. A slow subscriber
// only sees the newest result.
func (s *Session) Subscribe(ctx context.Context) <-chan *LoadResult {
	ch := make(chan *LoadResult, 1)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subsMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subsMu.Unlock()
	}()
	return ch
}

func (s *Session) publish(res *LoadResult) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- res:
		default:
		}
	}
}
