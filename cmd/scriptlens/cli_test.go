package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/scriptlens/services/viewer/finding"
	"github.com/AleutianAI/scriptlens/services/viewer/render"
	"github.com/AleutianAI/scriptlens/services/viewer/session"
)

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

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with fresh flag values and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viewFindings = nil
	viewFull = false
	viewDepth = session.DefaultOptions().MaxDepth
	viewTarget = 0
	viewNoBeautify = false
	viewJSON = false
	decodeLine = 0
	decodeCol = -1
	graphJSON = false
	graphNoBeautify = false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--color", "never"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseFinding(t *testing.T) {
	tests := []struct {
		raw     string
		want    finding.Finding
		wantErr bool
	}{
		{raw: "50", want: finding.Finding{Line: 50}},
		{raw: "1:120", want: finding.Finding{Line: 1, Column: finding.Col(120)}},
		{raw: "1:120:high", want: finding.Finding{Line: 1, Column: finding.Col(120), Severity: finding.SeverityHigh}},
		{raw: "7:critical", want: finding.Finding{Line: 7, Severity: finding.SeverityCritical}},
		{raw: "7::low", want: finding.Finding{Line: 7, Severity: finding.SeverityLow}},
		{raw: "0", wantErr: true},
		{raw: "x", wantErr: true},
		{raw: "1:-3", wantErr: true},
		{raw: "1:a:high", wantErr: true},
		{raw: "1:2:3:4", wantErr: true},
		{raw: "1:bogus", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseFinding(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVLQCommands(t *testing.T) {
	out, err := execute(t, "vlq", "encode", "0", "0", "16", "1")
	require.NoError(t, err)
	assert.Equal(t, "AAgBC\n", out)

	out, err = execute(t, "vlq", "decode", "AAgBC")
	require.NoError(t, err)
	assert.Equal(t, "0 0 16 1\n", out)

	_, err = execute(t, "vlq", "decode", "A!")
	assert.Error(t, err)

	_, err = execute(t, "vlq", "encode", "one")
	assert.Error(t, err)
}

func TestViewFocused(t *testing.T) {
	path := writeTemp(t, "app.js", fooBarProgram())

	out, err := execute(t, "view", path, "--no-beautify", "--finding", "50:2:high")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, " "), "first line should not be the scroll target")
	assert.Contains(t, out, "// ... 39 lines hidden ...")
	assert.Contains(t, out, "function foo() {")
	assert.Contains(t, out, "function bar() {")
	assert.Contains(t, out, ">")
	assert.NotContains(t, out, "var v70 = 70;")
}

func TestViewFullJSON(t *testing.T) {
	path := writeTemp(t, "app.js", fooBarProgram())

	out, err := execute(t, "view", path, "--no-beautify", "--finding", "50", "--full", "--json")
	require.NoError(t, err)

	var model render.Model
	require.NoError(t, json.Unmarshal([]byte(out), &model))
	assert.Equal(t, render.ModeFull, model.Mode)
	assert.Equal(t, []int{50}, model.HighlightedLines())
	assert.Equal(t, 50, model.ScrollTarget)
}

func TestViewFocusedJSON(t *testing.T) {
	path := writeTemp(t, "app.js", fooBarProgram())

	out, err := execute(t, "view", path, "--no-beautify", "--finding", "50", "--json")
	require.NoError(t, err)

	var model render.Model
	require.NoError(t, json.Unmarshal([]byte(out), &model))
	assert.Equal(t, render.ModeFocused, model.Mode)
	assert.Equal(t, []int{12}, model.HighlightedLines())
	assert.Equal(t, "// ... 39 lines hidden ...", model.Lines[0].Text)
	assert.Equal(t, "40", model.Lines[1].Gutter)
}

func TestViewErrors(t *testing.T) {
	_, err := execute(t, "view", filepath.Join(t.TempDir(), "missing.js"))
	assert.Error(t, err)

	path := writeTemp(t, "app.js", fooBarProgram())
	_, err = execute(t, "view", path, "--finding", "nope")
	assert.Error(t, err)
}

func TestGraphCommand(t *testing.T) {
	path := writeTemp(t, "app.js", fooBarProgram())

	out, err := execute(t, "graph", path, "--no-beautify")
	require.NoError(t, err)
	assert.Contains(t, out, "2 ranges, 2 named, 1 edges")
	assert.Contains(t, out, "foo -> [bar]")
}

func TestDecodeCommand(t *testing.T) {
	path := writeTemp(t, "app.js.map", `{"version":3,"sources":["app.js"],"names":[],"mappings":"AAAA;;AACA"}`)

	out, err := execute(t, "decode", path)
	require.NoError(t, err)
	assert.Contains(t, out, "segments: 2")

	out, err = execute(t, "decode", path, "--line", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "2 -> 3")
	assert.Contains(t, out, "COLUMN")

	bad := writeTemp(t, "bad.map", `{"version":2,"mappings":""}`)
	_, err = execute(t, "decode", bad)
	assert.Error(t, err)
}
