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
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("viewer.source")

// BadgerDB key prefixes for stored sources.
const (
	keyPrefixDoc   = "src:doc:"
	keyPrefixPage  = "src:page:"
	keyPrefixDef   = "src:def:"
	keySuffixData  = ":data"
	keySuffixMeta  = ":meta"
	defaultListCap = 100
)

// OpenDB opens a BadgerDB at path. An empty path opens an in-memory DB.
func OpenDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", path, err)
	}
	return db, nil
}

// Store is a Repository backed by BadgerDB.
//
// Description:
//
//	Documents are stored as gzip-compressed JSON next to a metadata record.
//	A per-page index serves ListScripts and a name index serves
//	FindDefinition.
//
// Key Schema:
//
//	src:doc:{id}:data           → gzip(JSON(Document))
//	src:doc:{id}:meta           → JSON(ScriptInfo)
//	src:page:{pageHash}:{id}    → id
//	src:def:{name}:{id}         → JSON(Definition)
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type Store struct {
	db      *badger.DB
	logger  *slog.Logger
	indexer Indexer
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIndexer sets the definition extractor run on Put. Without one, no
// definitions are indexed.
func WithIndexer(idx Indexer) StoreOption {
	return func(s *Store) {
		s.indexer = idx
	}
}

// NewStore creates a Store.
//
// Inputs:
//
//	db     - An opened BadgerDB instance. Must not be nil.
//	logger - Logger for diagnostic output. Must not be nil.
//
// Outputs:
//
//	*Store - The configured store.
//	error  - Non-nil if db or logger is nil.
func NewStore(db *badger.DB, logger *slog.Logger, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	s := &Store{db: db, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetIndexer replaces the definition extractor.
func (s *Store) SetIndexer(idx Indexer) {
	s.indexer = idx
}

// Put stores doc, replacing any previous document with the same ID.
//
// Description:
//
//	Validates the document, runs the indexer (failures are logged and the
//	document is stored without definitions), then writes data, metadata,
//	page and name index entries in one transaction.
//
// Outputs:
//
//	*ScriptInfo - Metadata of the stored document.
//	error       - ErrInvalidDocument (wrapped) or a storage failure.
func (s *Store) Put(ctx context.Context, doc *Document) (*ScriptInfo, error) {
	ctx, span := tracer.Start(ctx, "source.Store.Put")
	defer span.End()

	if err := Validate(doc); err != nil {
		span.SetStatus(codes.Error, "invalid document")
		return nil, err
	}
	span.SetAttributes(attribute.String("source_id", doc.ID), attribute.Int("bytes", len(doc.Text)))

	var defs []Definition
	if s.indexer != nil {
		var err error
		defs, err = s.indexer.Definitions(ctx, doc)
		if err != nil {
			s.logger.Warn("definition indexing failed, storing without definitions",
				slog.String("source_id", doc.ID),
				slog.String("error", err.Error()),
			)
			defs = nil
		}
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing document: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	info := doc.Info()
	info.StoredAtMilli = time.Now().UnixMilli()
	info.ContentHash = hashBytes(compressedData)
	for _, d := range defs {
		info.Definitions = append(info.Definitions, d.Name)
	}

	metaJSON, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if prev, err := readInfo(txn, doc.ID); err == nil {
			if err := deleteEntries(txn, prev); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(dataKey(doc.ID), compressedData); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(doc.ID), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set(pageKey(doc.Page.URL, doc.ID), []byte(doc.ID)); err != nil {
			return fmt.Errorf("storing page index: %w", err)
		}
		for _, d := range defs {
			d.SourceID = doc.ID
			val, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshaling definition %s: %w", d.Name, err)
			}
			if err := txn.Set(defKey(d.Name, doc.ID), val); err != nil {
				return fmt.Errorf("storing definition %s: %w", d.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return nil, fmt.Errorf("writing source %s to badger: %w", doc.ID, err)
	}

	s.logger.Info("source stored",
		slog.String("source_id", doc.ID),
		slog.Int("size", info.Size),
		slog.Int("findings", info.FindingCount),
		slog.Int("definitions", len(defs)),
	)
	return info, nil
}

// Fetch retrieves a document by ID.
func (s *Store) Fetch(ctx context.Context, id string) (*Document, error) {
	_, span := tracer.Start(ctx, "source.Store.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("source_id", id))

	if id == "" {
		return nil, fmt.Errorf("source ID must not be empty")
	}

	var compressedData []byte
	var info *ScriptInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(id))
		if err != nil {
			return err
		}
		compressedData, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying data for %s: %w", id, err)
		}
		info, err = readInfo(txn, id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", id, err)
	}

	if info.ContentHash != "" && info.ContentHash != hashBytes(compressedData) {
		return nil, fmt.Errorf("integrity check failed for %s", id)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, fmt.Errorf("decompressing source %s: %w", id, err)
	}
	defer gr.Close()

	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("reading decompressed data for %s: %w", id, err)
	}

	var doc Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling source %s: %w", id, err)
	}
	return &doc, nil
}

// ListScripts implements Repository.
func (s *Store) ListScripts(ctx context.Context, pageURL string) ([]*ScriptInfo, error) {
	return s.List(ctx, pageURL, 0)
}

// List returns metadata for stored documents, newest capture first.
//
// Inputs:
//
//	ctx     - Context for cancellation.
//	pageURL - Optional page filter.
//	limit   - Maximum results. If <= 0, defaults to 100.
func (s *Store) List(ctx context.Context, pageURL string, limit int) ([]*ScriptInfo, error) {
	if limit <= 0 {
		limit = defaultListCap
	}

	var results []*ScriptInfo
	err := s.db.View(func(txn *badger.Txn) error {
		if pageURL != "" {
			prefix := []byte(keyPrefixPage + hashString(pageURL)[:16] + ":")
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				id := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
				info, err := readInfo(txn, id)
				if err != nil {
					s.logger.Warn("dangling page index entry", slog.String("source_id", id))
					continue
				}
				results = append(results, info)
			}
			return nil
		}

		prefix := []byte(keyPrefixDoc)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var info ScriptInfo
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			}); err != nil {
				s.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CapturedAtMilli > results[j].CapturedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// FindDefinition returns a source defining partialName.
//
// Description:
//
//	An exact name match wins. Otherwise the first indexed name starting
//	with partialName is returned. Among several sources the one with the
//	lowest ID is chosen.
func (s *Store) FindDefinition(ctx context.Context, partialName string) (*Definition, error) {
	_, span := tracer.Start(ctx, "source.Store.FindDefinition")
	defer span.End()
	span.SetAttributes(attribute.String("name", partialName))

	if partialName == "" || strings.Contains(partialName, ":") {
		return nil, ErrNotFound
	}

	var def *Definition
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		def, err = firstDefinition(txn, []byte(keyPrefixDef+partialName+":"))
		if err != nil || def != nil {
			return err
		}
		def, err = firstDefinition(txn, []byte(keyPrefixDef+partialName))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("looking up definition %s: %w", partialName, err)
	}
	if def == nil {
		return nil, ErrNotFound
	}
	return def, nil
}

// Delete removes a document and its index entries.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("source ID must not be empty")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		info, err := readInfo(txn, id)
		if err != nil {
			return err
		}
		return deleteEntries(txn, info)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting source %s: %w", id, err)
	}

	s.logger.Info("source deleted", slog.String("source_id", id))
	return nil
}

func firstDefinition(txn *badger.Txn, prefix []byte) (*Definition, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchSize = 1
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return nil, nil
	}
	var def Definition
	if err := it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, &def)
	}); err != nil {
		return nil, err
	}
	return &def, nil
}

func readInfo(txn *badger.Txn, id string) (*ScriptInfo, error) {
	item, err := txn.Get(metaKey(id))
	if err != nil {
		return nil, err
	}
	var info ScriptInfo
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &info)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata for %s: %w", id, err)
	}
	return &info, nil
}

func deleteEntries(txn *badger.Txn, info *ScriptInfo) error {
	keys := [][]byte{
		dataKey(info.ID),
		metaKey(info.ID),
		pageKey(info.PageURL, info.ID),
	}
	for _, name := range info.Definitions {
		keys = append(keys, defKey(name, info.ID))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("deleting %s: %w", k, err)
		}
	}
	return nil
}

func dataKey(id string) []byte { return []byte(keyPrefixDoc + id + keySuffixData) }
func metaKey(id string) []byte { return []byte(keyPrefixDoc + id + keySuffixMeta) }

func pageKey(pageURL, id string) []byte {
	return []byte(keyPrefixPage + hashString(pageURL)[:16] + ":" + id)
}

func defKey(name, id string) []byte {
	return []byte(keyPrefixDef + name + ":" + id)
}

// hashString returns the hex-encoded SHA256 hash of a string.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// hashBytes returns the hex-encoded SHA256 hash of a byte slice.
func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
