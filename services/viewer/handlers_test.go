// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/scriptlens/services/viewer/ast"
	"github.com/AleutianAI/scriptlens/services/viewer/config"
	"github.com/AleutianAI/scriptlens/services/viewer/finding"
	"github.com/AleutianAI/scriptlens/services/viewer/render"
	"github.com/AleutianAI/scriptlens/services/viewer/source"
)

// fooBarText is 120 lines: foo spans 40-60 and calls bar at 100-110.
func fooBarText() string {
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

func setupTestService(t *testing.T, remote source.Repository) *Service {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := source.NewStore(db, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	cfg := config.Default()
	cfg.Beautify.Enabled = false

	svc, err := NewService(ServiceConfig{Config: cfg, Store: store, Remote: remote})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func setupTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func ingest(t *testing.T, router http.Handler, doc source.Document) {
	t.Helper()
	w := doJSON(t, router, "POST", "/v1/viewer/sources", doc)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest %s: status %d: %s", doc.ID, w.Code, w.Body.String())
	}
}

func appDoc() source.Document {
	return source.Document{
		ID:       "app",
		URL:      "https://cdn.example.com/app.js",
		Page:     source.PageContext{URL: "https://example.com/"},
		Text:     fooBarText(),
		Findings: []finding.Finding{{Line: 45, Severity: finding.SeverityHigh}},
	}
}

func TestHandleIngest_ListAndGet(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))
	ingest(t, router, appDoc())

	w := doJSON(t, router, "GET", "/v1/viewer/sources?page=https://example.com/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list source.ListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Count != 1 || list.Scripts[0].ID != "app" {
		t.Fatalf("list = %+v, want one script app", list)
	}
	if got := list.Scripts[0].Definitions; len(got) != 2 {
		t.Errorf("indexed definitions = %v, want [bar foo]", got)
	}

	w = doJSON(t, router, "GET", "/v1/viewer/sources/app", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var doc source.Document
	json.Unmarshal(w.Body.Bytes(), &doc)
	if doc.Text != fooBarText() {
		t.Error("text round trip mismatch")
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestHandleIngest_Invalid(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))

	w := doJSON(t, router, "POST", "/v1/viewer/sources", source.Document{ID: "bad/id", Text: "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != CodeInvalidDocument {
		t.Errorf("code = %q, want %q", resp.Code, CodeInvalidDocument)
	}

	req, _ := http.NewRequest("POST", "/v1/viewer/sources", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d, want 400", rec.Code)
	}
}

func getView(t *testing.T, router http.Handler, path string) ViewResponse {
	t.Helper()
	w := doJSON(t, router, "GET", path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: status %d: %s", path, w.Code, w.Body.String())
	}
	var resp ViewResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func TestHandleView_Focused(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))
	ingest(t, router, appDoc())

	w := doJSON(t, router, "GET", "/v1/viewer/view?src=app", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp ViewResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Mode != render.ModeFocused || !resp.FocusAvailable {
		t.Fatalf("mode = %v focus = %v, want focused", resp.Mode, resp.FocusAvailable)
	}
	if len(resp.Model.Highlights) != 1 {
		t.Fatalf("highlights = %d, want 1", len(resp.Model.Highlights))
	}
	if resp.Model.Highlights[0].Line != 7 {
		t.Errorf("highlight line = %d, want 7", resp.Model.Highlights[0].Line)
	}
	if resp.Stats.Seeds != 1 || resp.Stats.Visited != 1 {
		t.Errorf("stats = %+v, want 1 seed and 1 visited", resp.Stats)
	}
	if resp.Model.Lines[0].Gutter != render.HiddenMarker {
		t.Errorf("first gutter = %q, want hidden marker", resp.Model.Lines[0].Gutter)
	}
	if !strings.Contains(resp.Query, "src=app") || !strings.Contains(resp.Query, "mode=focused") {
		t.Errorf("query = %q", resp.Query)
	}
}

func TestHandleView_Errors(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"missing src", "/v1/viewer/view", http.StatusBadRequest, CodeMissingParameter},
		{"bad line", "/v1/viewer/view?src=app&line=x", http.StatusBadRequest, CodeInvalidParameter},
		{"bad mode", "/v1/viewer/view?src=app&mode=tilted", http.StatusBadRequest, CodeInvalidParameter},
		{"unknown source", "/v1/viewer/view?src=nope", http.StatusNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "GET", tt.path, nil)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var resp ErrorResponse
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
}

func TestHandleToggle(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))

	w := doJSON(t, router, "POST", "/v1/viewer/view/toggle", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("toggle before load = %d, want 409", w.Code)
	}

	ingest(t, router, appDoc())
	doJSON(t, router, "GET", "/v1/viewer/view?src=app", nil)

	w = doJSON(t, router, "POST", "/v1/viewer/view/toggle", nil)
	var full ViewResponse
	json.Unmarshal(w.Body.Bytes(), &full)
	if full.Mode != render.ModeFull {
		t.Fatalf("mode = %v, want full", full.Mode)
	}
	if len(full.Model.Highlights) != 1 || full.Model.Highlights[0].Line != 45 {
		t.Errorf("full highlights = %+v, want line 45", full.Model.Highlights)
	}

	w = doJSON(t, router, "POST", "/v1/viewer/view/toggle", nil)
	var back ViewResponse
	json.Unmarshal(w.Body.Bytes(), &back)
	if back.Mode != render.ModeFocused || back.Model.Highlights[0].Line != 7 {
		t.Errorf("toggle back = %v line %d, want focused line 7", back.Mode, back.Model.Highlights[0].Line)
	}
}

func TestHandleView_ReselectAfterReingest(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))
	ingest(t, router, appDoc())

	first := getView(t, router, "/v1/viewer/view?src=app")
	if len(first.Model.Highlights) != 1 || first.Model.Highlights[0].Severity != finding.SeverityHigh {
		t.Fatalf("first highlights = %+v", first.Model.Highlights)
	}

	doc := appDoc()
	doc.Findings = []finding.Finding{{Line: 105, Severity: finding.SeverityCritical}}
	ingest(t, router, doc)

	second := getView(t, router, "/v1/viewer/view?src=app")
	if second.LoadID == first.LoadID {
		t.Fatalf("load id reused after re-ingest: %s", second.LoadID)
	}
	if len(second.Model.Highlights) != 1 || second.Model.Highlights[0].Severity != finding.SeverityCritical {
		t.Fatalf("second highlights = %+v, want one critical", second.Model.Highlights)
	}
	if got := second.Model.Lines[1].Gutter; got != "100" {
		t.Errorf("first shown line = %q, want 100 (bar only)", got)
	}

	third := getView(t, router, "/v1/viewer/view?src=app")
	if third.LoadID == second.LoadID {
		t.Error("re-selecting the same source should run a new load")
	}
}

func TestHandleToggle_ScrollLine(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))
	ingest(t, router, appDoc())
	getView(t, router, "/v1/viewer/view?src=app")

	w := doJSON(t, router, "POST", "/v1/viewer/view/toggle?line=105", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var full ViewResponse
	json.Unmarshal(w.Body.Bytes(), &full)
	if full.Mode != render.ModeFull || full.Model.ScrollTarget != 105 {
		t.Errorf("toggle = %v scroll %d, want full scroll 105", full.Mode, full.Model.ScrollTarget)
	}

	w = doJSON(t, router, "POST", "/v1/viewer/view/toggle", nil)
	var back ViewResponse
	json.Unmarshal(w.Body.Bytes(), &back)
	if back.Model.ScrollTarget != 29 {
		t.Errorf("focused scroll = %d, want 29 (line 105 kept as target)", back.Model.ScrollTarget)
	}

	for _, bad := range []string{"0", "x"} {
		w = doJSON(t, router, "POST", "/v1/viewer/view/toggle?line="+bad, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("line=%s status = %d, want 400", bad, w.Code)
		}
	}
}

func TestHandleView_TokensResolveToDefinition(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))
	ingest(t, router, appDoc())

	resp := getView(t, router, "/v1/viewer/view?src=app")
	var call *render.Token
	for _, l := range resp.Model.Lines {
		if l.Gutter != "50" {
			continue
		}
		for i := range l.Tokens {
			if l.Tokens[i].Kind == ast.TokenCall {
				call = &l.Tokens[i]
			}
		}
	}
	if call == nil {
		t.Fatalf("no call token on line 50: %+v", resp.Model.Lines[11])
	}
	if call.Name != "bar" || call.Column != 2 || !call.Local {
		t.Fatalf("token = %+v, want local bar at column 2", *call)
	}

	w := doJSON(t, router, "GET", "/v1/viewer/definition?name="+call.Name, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var def DefinitionResponse
	json.Unmarshal(w.Body.Bytes(), &def)
	if !def.Local || def.View == nil {
		t.Fatalf("definition = %+v, want local", def)
	}
	target := def.View.Model.Lines[def.View.Model.ScrollTarget-1]
	if target.Gutter != "100" {
		t.Errorf("navigated to %q, want 100", target.Gutter)
	}
	if len(target.Tokens) != 1 || target.Tokens[0].Kind != ast.TokenDefinition {
		t.Errorf("definition line tokens = %+v", target.Tokens)
	}
}

func TestHandleDefinition_LocalThenRepository(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))
	ingest(t, router, appDoc())
	ingest(t, router, source.Document{ID: "lib", Text: "function helper() {\n  return 1;\n}\n"})
	doJSON(t, router, "GET", "/v1/viewer/view?src=app", nil)

	w := doJSON(t, router, "GET", "/v1/viewer/definition?name=bar", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var local DefinitionResponse
	json.Unmarshal(w.Body.Bytes(), &local)
	if !local.Local || local.View == nil {
		t.Fatalf("bar should resolve locally: %+v", local)
	}
	if local.View.Mode != render.ModeFocused {
		t.Errorf("bar is visible, mode = %v, want focused", local.View.Mode)
	}

	w = doJSON(t, router, "GET", "/v1/viewer/definition?name=helper", nil)
	var remote DefinitionResponse
	json.Unmarshal(w.Body.Bytes(), &remote)
	if remote.Local || remote.Definition == nil {
		t.Fatalf("helper should come from the repository: %+v", remote)
	}
	if remote.Definition.SourceID != "lib" || remote.Definition.Line != 1 {
		t.Errorf("definition = %+v, want lib:1", remote.Definition)
	}

	w = doJSON(t, router, "GET", "/v1/viewer/definition?name=nowhere", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown name status = %d, want 404", w.Code)
	}
}

func TestHandleFindDefinition(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))
	ingest(t, router, appDoc())

	w := doJSON(t, router, "GET", "/v1/viewer/definitions?name=fo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var def source.Definition
	json.Unmarshal(w.Body.Bytes(), &def)
	if def.Name != "foo" || def.Line != 40 {
		t.Errorf("definition = %+v, want foo:40", def)
	}

	w = doJSON(t, router, "GET", "/v1/viewer/definitions", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", w.Code)
	}
}

func TestRemoteRepositoryFallback(t *testing.T) {
	farRouter := setupTestRouter(setupTestService(t, nil))
	ingest(t, farRouter, source.Document{
		ID:       "far",
		Text:     "function remote() {\n  go();\n}\nfunction go() {}\n",
		Findings: []finding.Finding{{Line: 2}},
	})
	far := httptest.NewServer(farRouter)
	t.Cleanup(far.Close)

	client, err := source.NewHTTPClient(source.HTTPClientConfig{BaseURL: far.URL, RatePerSecond: 100})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	router := setupTestRouter(setupTestService(t, client))

	w := doJSON(t, router, "GET", "/v1/viewer/view?src=far", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp ViewResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.SourceID != "far" || resp.Stats.Visited != 1 {
		t.Errorf("resp = %+v, want far with go visited", resp.Stats)
	}

	w = doJSON(t, router, "GET", "/v1/viewer/definition?name=nothingHere", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 from remote", w.Code)
	}

	w = doJSON(t, router, "GET", "/v1/viewer/sources", nil)
	var list source.ListResponse
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 1 || list.Scripts[0].ID != "far" {
		t.Errorf("list = %+v, want the remote script far", list)
	}

	// A changed remote document is picked up on re-selection.
	ingest(t, farRouter, source.Document{
		ID:       "far",
		Text:     "function remote() {\n  go();\n}\nfunction go() {}\nfunction extra() {}\n",
		Findings: []finding.Finding{{Line: 2}},
	})
	again := getView(t, router, "/v1/viewer/view?src=far")
	if again.Stats.Ranges != 3 {
		t.Errorf("ranges after remote update = %d, want 3", again.Stats.Ranges)
	}
}

func TestHandleDebug(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))

	w := doJSON(t, router, "GET", "/v1/viewer/debug/graph", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("graph before load = %d, want 409", w.Code)
	}

	ingest(t, router, appDoc())
	doJSON(t, router, "GET", "/v1/viewer/view?src=app", nil)

	w = doJSON(t, router, "GET", "/v1/viewer/debug/graph", nil)
	var g DebugGraphResponse
	json.Unmarshal(w.Body.Bytes(), &g)
	if g.Stats.Ranges != 2 || len(g.Graph.Ranges) != 2 {
		t.Errorf("ranges = %d/%d, want 2", g.Stats.Ranges, len(g.Graph.Ranges))
	}
	if len(g.Seeds) != 1 || g.Seeds[0] != "foo" {
		t.Errorf("seeds = %v, want [foo]", g.Seeds)
	}
	if !g.RemapVerified {
		t.Error("remap should verify")
	}

	w = doJSON(t, router, "GET", "/v1/viewer/debug/index?line=5&col=2", nil)
	var idx DebugIndexResponse
	json.Unmarshal(w.Body.Bytes(), &idx)
	if !idx.Identity || idx.GeneratedLine != 5 {
		t.Errorf("index = %+v, want identity 5", idx)
	}

	w = doJSON(t, router, "GET", "/v1/viewer/debug/index?line=0", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("line=0 status = %d, want 400", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))
	w := doJSON(t, router, "GET", "/v1/viewer/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp HealthResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "healthy" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestHandleWebSocket_PushesLoads(t *testing.T) {
	router := setupTestRouter(setupTestService(t, nil))
	ingest(t, router, appDoc())
	ingest(t, router, source.Document{ID: "second", Text: "function z() {}\n", Findings: []finding.Finding{{Line: 1}}})
	doJSON(t, router, "GET", "/v1/viewer/view?src=app", nil)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/viewer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first PushMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Type != PushTypeLoad || first.View.SourceID != "app" {
		t.Fatalf("first push = %+v, want app", first)
	}

	doJSON(t, router, "GET", "/v1/viewer/view?src=second", nil)

	var next PushMessage
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read: %v", err)
	}
	if next.View.SourceID != "second" {
		t.Errorf("second push = %q, want second", next.View.SourceID)
	}
}

func TestService_ViewSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := setupTestService(t, nil)
	router := setupTestRouter(svc)
	ingest(t, router, appDoc())
	doJSON(t, router, "GET", "/v1/viewer/view?src=app", nil)

	names := map[string]bool{}
	for _, s := range exporter.GetSpans() {
		names[s.Name] = true
	}
	for _, want := range []string{"viewer.Service.View", "session.Session.Load", "session.Pipeline.Run", "graph.Builder.Build"} {
		if !names[want] {
			t.Errorf("missing span %q in %v", want, names)
		}
	}
}

func TestService_ApplyConfig(t *testing.T) {
	svc := setupTestService(t, nil)
	cfg := config.Default()
	cfg.Beautify.Enabled = false
	cfg.Reach.MaxDepth = 1
	svc.ApplyConfig(cfg)
	if svc.Config().Reach.MaxDepth != 1 {
		t.Errorf("max depth = %d, want 1", svc.Config().Reach.MaxDepth)
	}
}
