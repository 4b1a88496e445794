// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package viewer serves the source viewer over HTTP: ingestion of captured
// scripts, loads, rendering and definition lookup.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/scriptlens/services/viewer/config"
	"github.com/AleutianAI/scriptlens/services/viewer/render"
	"github.com/AleutianAI/scriptlens/services/viewer/session"
	"github.com/AleutianAI/scriptlens/services/viewer/source"
)

var tracer = otel.Tracer("viewer.service")

// ErrNothingLoaded is returned when an operation needs a load and none has
// been applied.
var ErrNothingLoaded = errors.New("no source loaded")

const defaultListLimit = 100

// ServiceConfig wires a Service.
type ServiceConfig struct {
	// Config is the viewer configuration. Defaults when nil.
	Config *config.Config

	// Store holds ingested sources. Required.
	Store *source.Store

	// Remote is consulted when the store misses. May be nil.
	Remote source.Repository

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Service owns the store, the pipeline, the session and the render
// coordinator of the applied load.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	store    *source.Store
	repo     *layeredRepository
	pipeline *session.Pipeline
	session  *session.Session
	logger   *slog.Logger

	mu        sync.Mutex
	cfg       *config.Config
	coord     *render.Coordinator
	coordLoad string
}

// NewService creates a Service and registers its pipeline as the store's
// definition indexer.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("NewService: store must not be nil")
	}
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pipeline := session.NewPipeline(pipelineOptions(cfg.Config), cfg.Logger)
	cfg.Store.SetIndexer(pipeline)

	repo := &layeredRepository{local: cfg.Store, remote: cfg.Remote, logger: cfg.Logger}
	sess, err := session.New(repo, pipeline, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("NewService: %w", err)
	}

	return &Service{
		store:    cfg.Store,
		repo:     repo,
		pipeline: pipeline,
		session:  sess,
		logger:   cfg.Logger,
		cfg:      cfg.Config,
	}, nil
}

func pipelineOptions(cfg *config.Config) session.Options {
	return session.Options{
		Beautify:       cfg.Beautify.Enabled,
		MaxSourceBytes: cfg.Limits.MaxSourceBytes,
		MaxFindings:    cfg.Limits.MaxFindings,
		MaxDepth:       cfg.Reach.MaxDepth,
	}
}

// ApplyConfig switches to cfg for subsequent loads.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.pipeline.Reconfigure(pipelineOptions(cfg))
	s.logger.Info("viewer config applied",
		slog.Int("max_depth", cfg.Reach.MaxDepth),
		slog.Bool("beautify", cfg.Beautify.Enabled),
	)
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Store returns the local source store.
func (s *Service) Store() *source.Store {
	return s.store
}

// Session returns the viewer session.
func (s *Service) Session() *session.Session {
	return s.session
}

// ViewStats summarizes an applied load.
type ViewStats struct {
	Ranges      int  `json:"ranges"`
	Seeds       int  `json:"seeds"`
	Visited     int  `json:"visited"`
	Unplaced    int  `json:"unplaced"`
	Truncated   bool `json:"truncated"`
	HiddenLines int  `json:"hidden_lines"`
}

// ViewResponse is the render state of the applied load.
type ViewResponse struct {
	LoadID         string                `json:"load_id"`
	Seq            uint64                `json:"seq"`
	SourceID       string                `json:"source_id"`
	Query          string                `json:"query"`
	Mode           render.Mode           `json:"mode"`
	FocusAvailable bool                  `json:"focus_available"`
	Degradations   []session.Degradation `json:"degradations,omitempty"`
	Stats          ViewStats             `json:"stats"`
	DurationMs     int64                 `json:"duration_ms"`
	Model          *render.Model         `json:"model"`
}

// View loads qs.Source and renders it in qs.Mode.
//
// Description:
//
//	Every call runs a fresh load, so a re-ingested document or a load that
//	degraded earlier is recomputed. Re-selecting the applied source also
//	drops the remote repository's cached copy. A request for the focused
//	view of a load without focus falls back to the full view. ErrStaleLoad
//	is returned when a newer selection overtook this one; the caller should
//	retry or wait for the push channel.
func (s *Service) View(ctx context.Context, qs session.QueryState) (*ViewResponse, error) {
	ctx, span := tracer.Start(ctx, "viewer.Service.View")
	defer span.End()
	span.SetAttributes(
		attribute.String("source_id", qs.Source),
		attribute.Int("line", qs.Line),
		attribute.String("mode", qs.Mode.String()),
	)

	if cur := s.session.Current(); cur != nil && cur.SourceID == qs.Source {
		s.repo.invalidate(qs.Source)
	}

	cur, err := s.session.Load(ctx, qs.Source, qs.Line)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.coord = render.NewCoordinator(cur.View(), qs.Mode)
	s.coordLoad = cur.ID
	return s.responseLocked(cur), nil
}

// Toggle flips the mode of the applied load. A positive line, in original
// coordinates, becomes the new scroll target.
func (s *Service) Toggle(ctx context.Context, line int) (*ViewResponse, error) {
	_, span := tracer.Start(ctx, "viewer.Service.Toggle")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.coordinatorLocked()
	if err != nil {
		return nil, err
	}
	s.coord.Toggle()
	if line > 0 {
		s.coord.ScrollTo(cur.Index.MapPosition(line, nil))
	}
	return s.responseLocked(cur), nil
}

// ListScripts lists scripts from the store and the remote repository,
// newest first. Local entries shadow remote ones with the same ID. A limit
// <= 0 means 100.
func (s *Service) ListScripts(ctx context.Context, pageURL string, limit int) ([]*source.ScriptInfo, error) {
	ctx, span := tracer.Start(ctx, "viewer.Service.ListScripts")
	defer span.End()

	scripts, err := s.repo.ListScripts(ctx, pageURL)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(scripts) > limit {
		scripts = scripts[:limit]
	}
	span.SetAttributes(attribute.Int("scripts", len(scripts)))
	return scripts, nil
}

// DefinitionResponse is the outcome of a definition lookup.
type DefinitionResponse struct {
	Name string `json:"name"`

	// Local is true when the definition is in the applied load; View then
	// carries the navigated render state.
	Local bool          `json:"local"`
	View  *ViewResponse `json:"view,omitempty"`

	// Definition is the repository match when Local is false.
	Definition *source.Definition `json:"definition,omitempty"`
}

// Definition navigates to name in the applied load, or looks it up in the
// repository when the load does not define it.
func (s *Service) Definition(ctx context.Context, name string) (*DefinitionResponse, error) {
	ctx, span := tracer.Start(ctx, "viewer.Service.Definition")
	defer span.End()
	span.SetAttributes(attribute.String("name", name))

	s.mu.Lock()
	cur, err := s.coordinatorLocked()
	if err == nil {
		_, navErr := s.coord.NavigateToDefinition(name)
		if navErr == nil {
			resp := &DefinitionResponse{Name: name, Local: true, View: s.responseLocked(cur)}
			s.mu.Unlock()
			return resp, nil
		}
		if !errors.Is(navErr, render.ErrDefinitionNotLocal) {
			s.mu.Unlock()
			return nil, navErr
		}
	}
	s.mu.Unlock()

	def, err := s.repo.FindDefinition(ctx, name)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("source_id", def.SourceID))
	return &DefinitionResponse{Name: name, Definition: def}, nil
}

// coordinatorLocked returns the applied load, rebuilding the coordinator
// when a newer load was applied since it was created.
func (s *Service) coordinatorLocked() (*session.LoadResult, error) {
	cur := s.session.Current()
	if cur == nil {
		return nil, ErrNothingLoaded
	}
	if s.coord == nil || s.coordLoad != cur.ID {
		s.coord = render.NewCoordinator(cur.View(), render.ModeFocused)
		s.coordLoad = cur.ID
	}
	return cur, nil
}

func (s *Service) responseLocked(cur *session.LoadResult) *ViewResponse {
	mode := s.coord.Mode()
	return buildResponse(cur, mode, s.coord.FocusAvailable(), s.coord.Model())
}

// Snapshot renders res in its default mode without touching the service's
// coordinator.
func Snapshot(res *session.LoadResult) *ViewResponse {
	c := render.NewCoordinator(res.View(), render.ModeFocused)
	return buildResponse(res, c.Mode(), c.FocusAvailable(), c.Model())
}

func buildResponse(cur *session.LoadResult, mode render.Mode, focusAvailable bool, model *render.Model) *ViewResponse {
	resp := &ViewResponse{
		LoadID:         cur.ID,
		Seq:            cur.Seq,
		SourceID:       cur.SourceID,
		Mode:           mode,
		FocusAvailable: focusAvailable,
		Degradations:   cur.Degradations,
		DurationMs:     cur.Duration.Milliseconds(),
		Model:          model,
		Query: session.QueryState{
			Source: cur.SourceID,
			Line:   cur.TargetLine,
			Mode:   mode,
		}.Encode(),
	}
	if cur.Graph != nil {
		resp.Stats.Ranges = len(cur.Graph.AllRanges)
	}
	if cur.Reach != nil {
		resp.Stats.Seeds = len(cur.Reach.Seeds)
		resp.Stats.Visited = len(cur.Reach.Visited)
		resp.Stats.Unplaced = cur.Reach.Unplaced
		resp.Stats.Truncated = cur.Reach.Truncated
	}
	if cur.Focused != nil {
		resp.Stats.HiddenLines = cur.Focused.HiddenLines
	}
	return resp
}

// layeredRepository reads the local store first and falls back to the remote
// repository on ErrNotFound.
type layeredRepository struct {
	local  *source.Store
	remote source.Repository
	logger *slog.Logger
}

func (r *layeredRepository) Fetch(ctx context.Context, id string) (*source.Document, error) {
	doc, err := r.local.Fetch(ctx, id)
	if err == nil || !errors.Is(err, source.ErrNotFound) || r.remote == nil {
		return doc, err
	}
	r.logger.Debug("source not in store, asking remote", slog.String("source_id", id))
	return r.remote.Fetch(ctx, id)
}

// ListScripts merges local and remote listings. A failing remote is logged
// and the local listing is returned alone.
func (r *layeredRepository) ListScripts(ctx context.Context, pageURL string) ([]*source.ScriptInfo, error) {
	scripts, err := r.local.ListScripts(ctx, pageURL)
	if err != nil || r.remote == nil {
		return scripts, err
	}

	remote, err := r.remote.ListScripts(ctx, pageURL)
	if err != nil {
		r.logger.Warn("remote listing failed", slog.String("error", err.Error()))
		return scripts, nil
	}
	seen := make(map[string]struct{}, len(scripts))
	for _, info := range scripts {
		seen[info.ID] = struct{}{}
	}
	for _, info := range remote {
		if _, dup := seen[info.ID]; !dup {
			scripts = append(scripts, info)
		}
	}
	sort.SliceStable(scripts, func(i, j int) bool {
		return scripts[i].CapturedAtMilli > scripts[j].CapturedAtMilli
	})
	return scripts, nil
}

// invalidate drops the remote repository's cached copy of id.
func (r *layeredRepository) invalidate(id string) {
	if c, ok := r.remote.(interface{ Invalidate(string) }); ok {
		c.Invalidate(id)
	}
}

func (r *layeredRepository) FindDefinition(ctx context.Context, partialName string) (*source.Definition, error) {
	def, err := r.local.FindDefinition(ctx, partialName)
	if err == nil || !errors.Is(err, source.ErrNotFound) || r.remote == nil {
		return def, err
	}
	return r.remote.FindDefinition(ctx, partialName)
}
