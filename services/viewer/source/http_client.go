// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// Remote repository paths, relative to the base URL.
const (
	PathSources     = "/v1/viewer/sources"
	PathDefinitions = "/v1/viewer/definitions"
)

// Client defaults.
const (
	DefaultRatePerSecond = 20.0
	DefaultCacheSize     = 256
	DefaultHTTPTimeout   = 15 * time.Second
	maxResponseBytes     = 64 * 1024 * 1024
)

// ListResponse is the body of a script listing.
type ListResponse struct {
	Scripts []*ScriptInfo `json:"scripts"`
	Count   int           `json:"count"`
}

// HTTPClient is a Repository served by a remote viewer over HTTP.
//
// Description:
//
//	Requests are rate limited with a token bucket. Fetched documents are
//	kept in an LRU cache keyed by source ID; listings and definition
//	lookups are never cached because the remote set of scripts changes.
//
// Thread Safety: Safe for concurrent use.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	cache   *lru.Cache[string, *Document]
	logger  *slog.Logger
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// BaseURL is the remote viewer's root, e.g. "http://localhost:8090".
	BaseURL string

	// RatePerSecond bounds outgoing requests. Burst is max(1, RatePerSecond).
	RatePerSecond float64

	// CacheSize is the number of documents kept. 0 uses DefaultCacheSize.
	CacheSize int

	// Timeout is the per-request timeout. 0 uses DefaultHTTPTimeout.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("repository base URL must not be empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid repository base URL %q: %w", base, err)
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := lru.New[string, *Document](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating document cache: %w", err)
	}

	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}

	return &HTTPClient{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		cache:   cache,
		logger:  cfg.Logger,
	}, nil
}

// Fetch implements Repository.
func (c *HTTPClient) Fetch(ctx context.Context, id string) (*Document, error) {
	ctx, span := tracer.Start(ctx, "source.HTTPClient.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("source_id", id))

	if doc, ok := c.cache.Get(id); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return doc, nil
	}

	var doc Document
	if err := c.get(ctx, PathSources+"/"+url.PathEscape(id), nil, &doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, fmt.Errorf("fetching source %s: %w", id, err)
	}
	c.cache.Add(id, &doc)
	return &doc, nil
}

// ListScripts implements Repository.
func (c *HTTPClient) ListScripts(ctx context.Context, pageURL string) ([]*ScriptInfo, error) {
	ctx, span := tracer.Start(ctx, "source.HTTPClient.ListScripts")
	defer span.End()

	q := url.Values{}
	if pageURL != "" {
		q.Set("page", pageURL)
	}
	var resp ListResponse
	if err := c.get(ctx, PathSources, q, &resp); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	return resp.Scripts, nil
}

// FindDefinition implements Repository.
func (c *HTTPClient) FindDefinition(ctx context.Context, partialName string) (*Definition, error) {
	ctx, span := tracer.Start(ctx, "source.HTTPClient.FindDefinition")
	defer span.End()
	span.SetAttributes(attribute.String("name", partialName))

	var def Definition
	if err := c.get(ctx, PathDefinitions, url.Values{"name": {partialName}}, &def); err != nil {
		return nil, fmt.Errorf("finding definition %s: %w", partialName, err)
	}
	return &def, nil
}

// Invalidate drops a cached document.
func (c *HTTPClient) Invalidate(id string) {
	c.cache.Remove(id)
}

// get issues a rate-limited GET and decodes a JSON body into out. A 404 maps
// to ErrNotFound.
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("repository request",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("repository returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
