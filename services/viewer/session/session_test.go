package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/scriptlens/services/viewer/ast"
	"github.com/AleutianAI/scriptlens/services/viewer/finding"
	"github.com/AleutianAI/scriptlens/services/viewer/focus"
	"github.com/AleutianAI/scriptlens/services/viewer/render"
	"github.com/AleutianAI/scriptlens/services/viewer/source"
)

// fooBarProgram is 120 lines: foo spans 40-60 and calls bar, bar spans
// 100-110. Every other line is a plain statement.
func fooBarProgram() string {
	lines := make([]string, 120)
	for i := range lines {
		lines[i] = fmt.Sprintf("var v%d = %d;", i+1, i+1)
	}
	lines[39] = "function foo() {"
	lines[49] = "  bar();"
	lines[59] = "}"
	lines[99] = "function bar() {"
	lines[109] = "}"
	return strings.Join(lines, "\n") + "\n"
}

func plainOptions() Options {
	opts := DefaultOptions()
	opts.Beautify = false
	return opts
}

type fakeRepo struct {
	mu      sync.Mutex
	docs    map[string]*source.Document
	gates   map[string]chan struct{}
	entered chan string
}

func newFakeRepo(docs ...*source.Document) *fakeRepo {
	r := &fakeRepo{
		docs:    make(map[string]*source.Document),
		gates:   make(map[string]chan struct{}),
		entered: make(chan string, 8),
	}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *fakeRepo) gate(id string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gates[id] = ch
	return ch
}

func (r *fakeRepo) Fetch(ctx context.Context, id string) (*source.Document, error) {
	r.mu.Lock()
	gate := r.gates[id]
	doc, ok := r.docs[id]
	r.mu.Unlock()

	r.entered <- id
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, source.ErrNotFound
	}
	return doc, nil
}

func (r *fakeRepo) ListScripts(context.Context, string) ([]*source.ScriptInfo, error) {
	return nil, nil
}

func (r *fakeRepo) FindDefinition(context.Context, string) (*source.Definition, error) {
	return nil, source.ErrNotFound
}

func TestPipeline_EndToEnd(t *testing.T) {
	p := NewPipeline(plainOptions(), nil)
	doc := &source.Document{
		ID:       "app",
		Text:     fooBarProgram(),
		Findings: []finding.Finding{{Line: 45, Severity: finding.SeverityHigh}},
	}

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, res.Degradations)
	assert.NotEmpty(t, res.ID)
	assert.Nil(t, res.Index, "no reformat means identity index")

	require.NotNil(t, res.Reach)
	require.Len(t, res.Reach.Seeds, 1)
	assert.Equal(t, "foo", res.Reach.Seeds[0].Name)
	require.Len(t, res.Reach.Visited, 1)
	assert.Equal(t, "bar", res.Reach.Visited[0].Name)

	require.NotNil(t, res.Focused)
	assert.Equal(t, []focus.Range{{Start: 40, End: 60}, {Start: 100, End: 110}}, res.Focused.Groups)
	assert.Equal(t, "// ... 39 lines hidden ...", res.Focused.Lines[0])
	require.NoError(t, focus.Verify(res.Focused, res.GeneratedLines))

	c := render.NewCoordinator(res.View(), render.ModeFocused)
	model := c.Model()
	require.Len(t, model.Highlights, 1)
	// Separator is focused line 1, generated 40 is focused line 2.
	assert.Equal(t, 7, model.Highlights[0].Line)
	assert.Equal(t, finding.SeverityHigh, model.Highlights[0].Severity)
	assert.Equal(t, 7, model.ScrollTarget)
}

func TestPipeline_BeautifiedMinified(t *testing.T) {
	p := NewPipeline(DefaultOptions(), nil)
	text := "function foo(){bar()}function bar(){return 1}var z=2;"
	doc := &source.Document{
		ID:       "min",
		Text:     text,
		Findings: []finding.Finding{{Line: 1, Column: finding.Col(15), Severity: finding.SeverityMedium}},
	}

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, res.Degraded(DegradeReformat))
	assert.Greater(t, len(res.GeneratedLines), 1)

	require.NotNil(t, res.Reach)
	require.Len(t, res.Reach.Seeds, 1)
	assert.Equal(t, "foo", res.Reach.Seeds[0].Name)
	require.Len(t, res.Reach.Visited, 1)
	assert.Equal(t, "bar", res.Reach.Visited[0].Name)
	require.NotNil(t, res.Focused)
}

func TestPipeline_ReformatFailureFallsBack(t *testing.T) {
	p := NewPipeline(DefaultOptions(), nil)
	doc := &source.Document{ID: "broken", Text: "function foo( {\n  return 1;\n}\n"}

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, res.Degraded(DegradeReformat))
	assert.Equal(t, doc.Text, res.Generated)
	assert.Nil(t, res.Index)
}

func TestPipeline_NoFocus(t *testing.T) {
	p := NewPipeline(plainOptions(), nil)
	doc := &source.Document{
		ID:       "flat",
		Text:     "var a = 1;\nvar b = 2;\n",
		Findings: []finding.Finding{{Line: 2, Severity: finding.SeverityLow}},
	}

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, res.Degraded(DegradeNoFocus))
	assert.Nil(t, res.Focused)

	c := render.NewCoordinator(res.View(), render.ModeFocused)
	assert.Equal(t, render.ModeFull, c.Mode())
	require.Len(t, c.Model().Highlights, 1)
	assert.Equal(t, 2, c.Model().Highlights[0].Line)
}

func TestPipeline_GraphFailureIsSoft(t *testing.T) {
	p := NewPipeline(plainOptions(), nil)
	doc := &source.Document{
		ID:       "huge",
		Text:     strings.Repeat("a;\n", 4<<20),
		Findings: []finding.Finding{{Line: 3}},
	}

	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, res.Degraded(DegradeGraph))
	assert.True(t, res.Degraded(DegradeNoFocus))
	assert.True(t, res.Graph.Empty())
	assert.Len(t, res.Mapped, 1)
}

func TestPipeline_TooManyFindings(t *testing.T) {
	opts := plainOptions()
	opts.MaxFindings = 1
	p := NewPipeline(opts, nil)

	_, err := p.Run(context.Background(), &source.Document{
		ID:       "x",
		Text:     "var a;\n",
		Findings: []finding.Finding{{Line: 1}, {Line: 1}},
	})
	assert.True(t, errors.Is(err, ErrTooManyFindings))
}

func TestPipeline_TargetLine(t *testing.T) {
	p := NewPipeline(plainOptions(), nil)
	res, err := p.Run(context.Background(), &source.Document{
		ID:       "app",
		Text:     fooBarProgram(),
		Findings: []finding.Finding{{Line: 45}},
	})
	require.NoError(t, err)

	res.TargetLine = 105
	c := render.NewCoordinator(res.View(), render.ModeFocused)
	// 1 separator + 21 lines of foo + 1 separator, then 100..110.
	assert.Equal(t, 1+21+1+6, c.Model().ScrollTarget)
}

func TestPipeline_Definitions(t *testing.T) {
	p := NewPipeline(plainOptions(), nil)
	defs, err := p.Definitions(context.Background(), &source.Document{ID: "app", Text: fooBarProgram()})
	require.NoError(t, err)
	assert.Equal(t, []source.Definition{
		{SourceID: "app", Name: "bar", Line: 100},
		{SourceID: "app", Name: "foo", Line: 40},
	}, defs)
}

func TestPipeline_Tokens(t *testing.T) {
	p := NewPipeline(plainOptions(), nil)
	res, err := p.Run(context.Background(), &source.Document{
		ID:       "app",
		Text:     fooBarProgram(),
		Findings: []finding.Finding{{Line: 45}},
	})
	require.NoError(t, err)

	assert.Equal(t, []ast.Token{
		{Name: "foo", Kind: ast.TokenDefinition, Line: 40, Column: 9},
		{Name: "bar", Kind: ast.TokenCall, Line: 50, Column: 2},
		{Name: "bar", Kind: ast.TokenDefinition, Line: 100, Column: 9},
	}, res.Tokens)
	assert.Equal(t, res.Tokens, res.View().Tokens)
}

func TestPipeline_Reconfigure(t *testing.T) {
	p := NewPipeline(plainOptions(), nil)
	opts := plainOptions()
	opts.MaxFindings = 1
	p.Reconfigure(opts)

	_, err := p.Run(context.Background(), &source.Document{
		ID:       "x",
		Text:     "var a;\n",
		Findings: []finding.Finding{{Line: 1}, {Line: 1}},
	})
	assert.Error(t, err)
}

func newTestSession(t *testing.T, repo source.Repository) *Session {
	t.Helper()
	s, err := New(repo, NewPipeline(plainOptions(), nil), nil)
	require.NoError(t, err)
	return s
}

func TestSession_LoadApplies(t *testing.T) {
	repo := newFakeRepo(&source.Document{ID: "app", Text: fooBarProgram(), Findings: []finding.Finding{{Line: 45}}})
	s := newTestSession(t, repo)

	res, err := s.Load(context.Background(), "app", 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Seq)
	assert.Equal(t, 50, res.TargetLine)
	assert.Same(t, res, s.Current())
	assert.Equal(t, Selection{Seq: 1, SourceID: "app", Target: 50}, s.Selected())
}

func TestSession_LastLoadWins(t *testing.T) {
	repo := newFakeRepo(
		&source.Document{ID: "slow", Text: "function a() {}\n"},
		&source.Document{ID: "fast", Text: "function b() {}\n"},
	)
	release := repo.gate("slow")
	s := newTestSession(t, repo)

	type outcome struct {
		res *LoadResult
		err error
	}
	slowDone := make(chan outcome, 1)
	go func() {
		res, err := s.Load(context.Background(), "slow", 0)
		slowDone <- outcome{res, err}
	}()
	require.Equal(t, "slow", <-repo.entered)

	fast, err := s.Load(context.Background(), "fast", 0)
	require.NoError(t, err)
	<-repo.entered

	close(release)
	got := <-slowDone
	assert.True(t, errors.Is(got.err, ErrStaleLoad))
	assert.Nil(t, got.res)
	assert.Same(t, fast, s.Current())
	assert.Equal(t, "fast", s.Current().SourceID)
}

func TestSession_FetchErrorKeepsCurrent(t *testing.T) {
	repo := newFakeRepo(&source.Document{ID: "app", Text: "var a;\n"})
	s := newTestSession(t, repo)

	first, err := s.Load(context.Background(), "app", 0)
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "missing", 0)
	assert.True(t, errors.Is(err, source.ErrNotFound))
	assert.Same(t, first, s.Current())

	again, err := s.Reload(context.Background())
	assert.Error(t, err, "selection is still the missing source")
	assert.Nil(t, again)
}

func TestSession_Subscribe(t *testing.T) {
	repo := newFakeRepo(&source.Document{ID: "app", Text: "var a;\n"})
	s := newTestSession(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)

	res, err := s.Load(context.Background(), "app", 0)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Same(t, res, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no result published")
	}

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestNew_NilArgs(t *testing.T) {
	_, err := New(nil, NewPipeline(plainOptions(), nil), nil)
	assert.Error(t, err)
	_, err = New(newFakeRepo(), nil, nil)
	assert.Error(t, err)
}

func TestQueryState(t *testing.T) {
	qs := QueryState{Source: "app", Line: 42, Mode: render.ModeFull}
	got, err := ParseQuery(qs.Values())
	require.NoError(t, err)
	assert.Equal(t, qs, got)

	def, err := ParseQuery(url.Values{QuerySource: {"x"}})
	require.NoError(t, err)
	assert.Equal(t, render.ModeFocused, def.Mode)
	assert.Equal(t, 0, def.Line)

	_, err = ParseQuery(url.Values{QueryLine: {"abc"}})
	assert.Error(t, err)
	_, err = ParseQuery(url.Values{QueryMode: {"sideways"}})
	assert.Error(t, err)

	assert.Equal(t, "line=42&mode=full&src=app", qs.Encode())
}
