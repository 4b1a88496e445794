// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source is the channel to the repository of captured scripts: raw
// text, reported findings and page context, plus definition lookup across
// scripts.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/scriptlens/services/viewer/finding"
)

var (
	// ErrNotFound is returned when a source or definition does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDocument is returned when a document fails validation.
	ErrInvalidDocument = errors.New("invalid document")
)

// PageContext describes the page a script was captured from.
type PageContext struct {
	URL   string `json:"url" validate:"omitempty,url"`
	Title string `json:"title,omitempty"`
}

// Document is one captured script with its findings.
type Document struct {
	// ID identifies the source. Must be unique within a repository.
	ID string `json:"id" validate:"required,max=256,excludesall=:/"`

	// URL is where the script was loaded from.
	URL string `json:"url,omitempty"`

	// Page is the page context the script ran in.
	Page PageContext `json:"page"`

	// Text is the raw program text.
	Text string `json:"text"`

	// Findings are in original-source coordinates.
	Findings []finding.Finding `json:"findings" validate:"dive"`

	// CapturedAtMilli is when the script was captured.
	CapturedAtMilli int64 `json:"captured_at_milli"`
}

// ScriptInfo is the listing entry of a stored document.
type ScriptInfo struct {
	ID              string `json:"id"`
	URL             string `json:"url,omitempty"`
	PageURL         string `json:"page_url,omitempty"`
	Size            int    `json:"size"`
	FindingCount    int    `json:"finding_count"`
	CapturedAtMilli int64  `json:"captured_at_milli"`
	StoredAtMilli   int64  `json:"stored_at_milli"`

	// ContentHash is the SHA256 of the compressed payload.
	ContentHash string `json:"content_hash,omitempty"`

	// Definitions are the function names indexed for this source.
	Definitions []string `json:"definitions,omitempty"`
}

// Definition locates a named function in a source, in generated coordinates.
type Definition struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	Line     int    `json:"line"`
}

// Repository is the external source repository.
//
// Implementations must be safe for concurrent use. Callers treat every
// response as unordered and re-check that it still matches their selection.
type Repository interface {
	// Fetch returns the document with the given ID, or ErrNotFound.
	Fetch(ctx context.Context, id string) (*Document, error)

	// ListScripts returns the scripts captured on pageURL. An empty pageURL
	// lists every script.
	ListScripts(ctx context.Context, pageURL string) ([]*ScriptInfo, error)

	// FindDefinition returns a source defining partialName, or ErrNotFound.
	FindDefinition(ctx context.Context, partialName string) (*Definition, error)
}

// Indexer extracts the definitions a document provides.
type Indexer interface {
	Definitions(ctx context.Context, doc *Document) ([]Definition, error)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks a document's fields.
func Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := validate.Struct(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

// Info builds the listing entry of doc.
func (d *Document) Info() *ScriptInfo {
	return &ScriptInfo{
		ID:              d.ID,
		URL:             d.URL,
		PageURL:         d.Page.URL,
		Size:            len(d.Text),
		FindingCount:    len(d.Findings),
		CapturedAtMilli: d.CapturedAtMilli,
	}
}
