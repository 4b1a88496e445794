package source

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/scriptlens/services/viewer/finding"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fixedIndexer reports one definition per declared name at a fixed line.
type fixedIndexer struct {
	defs map[string][]Definition
	err  error
}

func (f *fixedIndexer) Definitions(_ context.Context, doc *Document) ([]Definition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.defs[doc.ID], nil
}

func testDoc(id, page string) *Document {
	return &Document{
		ID:   id,
		URL:  "https://cdn.example.com/" + id + ".js",
		Page: PageContext{URL: page, Title: "Example"},
		Text: "function " + id + "() { return 1; }\n",
		Findings: []finding.Finding{
			{Line: 1, Column: finding.Col(4), Severity: finding.SeverityHigh},
		},
		CapturedAtMilli: 1000,
	}
}

func newTestStore(t *testing.T, idx Indexer) *Store {
	t.Helper()
	var opts []StoreOption
	if idx != nil {
		opts = append(opts, WithIndexer(idx))
	}
	s, err := NewStore(openTestDB(t), slog.Default(), opts...)
	require.NoError(t, err)
	return s
}

func TestNewStore_NilArgs(t *testing.T) {
	_, err := NewStore(nil, slog.Default())
	assert.Error(t, err)
	_, err = NewStore(openTestDB(t), nil)
	assert.Error(t, err)
}

func TestStore_PutFetch(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	doc := testDoc("app", "https://example.com/")
	info, err := s.Put(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "app", info.ID)
	assert.Equal(t, 1, info.FindingCount)
	assert.NotEmpty(t, info.ContentHash)

	got, err := s.Fetch(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, doc.Text, got.Text)
	require.Len(t, got.Findings, 1)
	require.NotNil(t, got.Findings[0].Column)
	assert.Equal(t, 4, *got.Findings[0].Column)
	assert.Equal(t, finding.SeverityHigh, got.Findings[0].Severity)
}

func TestStore_FetchMissing(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Fetch(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_PutInvalid(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.Put(ctx, &Document{})
	assert.True(t, errors.Is(err, ErrInvalidDocument))

	bad := testDoc("a:b", "")
	_, err = s.Put(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidDocument))

	bad = testDoc("ok", "")
	bad.Findings = []finding.Finding{{Line: 0}}
	_, err = s.Put(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidDocument))
}

func TestStore_ListByPage(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	a := testDoc("a", "https://one.example/")
	a.CapturedAtMilli = 10
	b := testDoc("b", "https://one.example/")
	b.CapturedAtMilli = 20
	c := testDoc("c", "https://two.example/")

	for _, d := range []*Document{a, b, c} {
		_, err := s.Put(ctx, d)
		require.NoError(t, err)
	}

	all, err := s.ListScripts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	one, err := s.ListScripts(ctx, "https://one.example/")
	require.NoError(t, err)
	require.Len(t, one, 2)
	assert.Equal(t, "b", one[0].ID, "newest capture first")

	limited, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_FindDefinition(t *testing.T) {
	idx := &fixedIndexer{defs: map[string][]Definition{
		"lib": {
			{Name: "render", Line: 10},
			{Name: "renderAll", Line: 30},
		},
		"app": {
			{Name: "renderAllItems", Line: 5},
		},
	}}
	s := newTestStore(t, idx)
	ctx := context.Background()

	_, err := s.Put(ctx, testDoc("lib", ""))
	require.NoError(t, err)
	_, err = s.Put(ctx, testDoc("app", ""))
	require.NoError(t, err)

	def, err := s.FindDefinition(ctx, "renderAll")
	require.NoError(t, err)
	assert.Equal(t, Definition{SourceID: "lib", Name: "renderAll", Line: 30}, *def)

	def, err = s.FindDefinition(ctx, "renderAllI")
	require.NoError(t, err)
	assert.Equal(t, "app", def.SourceID)
	assert.Equal(t, "renderAllItems", def.Name)

	_, err = s.FindDefinition(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.FindDefinition(ctx, "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ReplaceDropsStaleDefinitions(t *testing.T) {
	idx := &fixedIndexer{defs: map[string][]Definition{
		"lib": {{Name: "oldName", Line: 1}},
	}}
	s := newTestStore(t, idx)
	ctx := context.Background()

	_, err := s.Put(ctx, testDoc("lib", "https://one.example/"))
	require.NoError(t, err)

	idx.defs["lib"] = []Definition{{Name: "newName", Line: 2}}
	_, err = s.Put(ctx, testDoc("lib", "https://two.example/"))
	require.NoError(t, err)

	_, err = s.FindDefinition(ctx, "oldName")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.FindDefinition(ctx, "newName")
	assert.NoError(t, err)

	one, err := s.ListScripts(ctx, "https://one.example/")
	require.NoError(t, err)
	assert.Empty(t, one)
}

func TestStore_IndexerFailureStillStores(t *testing.T) {
	s := newTestStore(t, &fixedIndexer{err: errors.New("boom")})
	ctx := context.Background()

	info, err := s.Put(ctx, testDoc("x", ""))
	require.NoError(t, err)
	assert.Empty(t, info.Definitions)

	_, err = s.Fetch(ctx, "x")
	assert.NoError(t, err)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t, &fixedIndexer{defs: map[string][]Definition{"x": {{Name: "fx", Line: 1}}}})
	ctx := context.Background()

	_, err := s.Put(ctx, testDoc("x", "https://one.example/"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "x"))

	_, err = s.Fetch(ctx, "x")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.FindDefinition(ctx, "fx")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.Delete(ctx, "x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_LargeDocumentCompresses(t *testing.T) {
	s := newTestStore(t, nil)
	doc := testDoc("big", "")
	doc.Text = strings.Repeat("function f() { return 1; }\n", 5000)

	_, err := s.Put(context.Background(), doc)
	require.NoError(t, err)

	got, err := s.Fetch(context.Background(), "big")
	require.NoError(t, err)
	assert.Equal(t, doc.Text, got.Text)
}
