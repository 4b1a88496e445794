// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// JavaScriptParser extracts function-like spans from JavaScript source code.
//
// Description:
//
//	JavaScriptParser uses tree-sitter to parse JavaScript with error
//	recovery and reports every function declaration, function/arrow/generator
//	expression, class declaration and method as a FunctionNode, together with
//	the names called inside it. Names are purely textual: no scope resolution
//	is attempted.
//
// Thread Safety:
//
//	JavaScriptParser is safe for concurrent use. Each Parse call creates its
//	own tree-sitter parser instance.
//
// Example:
//
//	parser := NewJavaScriptParser()
//	result, err := parser.Parse(ctx, content)
//	if err != nil {
//	    return fmt.Errorf("parse: %w", err)
//	}
//	for _, fn := range result.Functions {
//	    fmt.Printf("%s %s %d-%d\n", fn.Kind, fn.Name, fn.StartLine, fn.EndLine)
//	}
type JavaScriptParser struct {
	options JavaScriptParserOptions
}

// JavaScriptParserOptions configures JavaScriptParser behavior.
type JavaScriptParserOptions struct {
	// MaxFileSize is the maximum content size in bytes.
	// Default: 10MB
	MaxFileSize int

	// MaxErrorRatio rejects content whose recovered tree is mostly errors.
	// Expressed as error nodes per line. 0 disables the check.
	// Default: 0
	MaxErrorRatio float64
}

// DefaultJavaScriptParserOptions returns the default options.
func DefaultJavaScriptParserOptions() JavaScriptParserOptions {
	return JavaScriptParserOptions{
		MaxFileSize: 10 * 1024 * 1024, // 10MB
	}
}

// JavaScriptParserOption is a functional option for configuring JavaScriptParser.
type JavaScriptParserOption func(*JavaScriptParserOptions)

// WithJSMaxFileSize sets the maximum file size for parsing.
func WithJSMaxFileSize(size int) JavaScriptParserOption {
	return func(o *JavaScriptParserOptions) {
		o.MaxFileSize = size
	}
}

// WithJSMaxErrorRatio sets the error-nodes-per-line ceiling.
func WithJSMaxErrorRatio(ratio float64) JavaScriptParserOption {
	return func(o *JavaScriptParserOptions) {
		o.MaxErrorRatio = ratio
	}
}

// NewJavaScriptParser creates a new JavaScriptParser with the given options.
func NewJavaScriptParser(opts ...JavaScriptParserOption) *JavaScriptParser {
	options := DefaultJavaScriptParserOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &JavaScriptParser{options: options}
}

// Parse extracts function-like spans from JavaScript source code.
//
// Description:
//
//	Parses content with tree-sitter and walks the tree once, threading an
//	extraction accumulator. Spans are reported in pre-order, so an outer
//	function always precedes the functions nested inside it.
//
// Inputs:
//
//	ctx     - Context for cancellation. Checked before and after parsing.
//	content - Raw JavaScript source bytes. Must be valid UTF-8.
//
// Outputs:
//
//	*ParseResult - Extracted spans and metadata. Never nil on success.
//	error        - Non-nil for complete failures (invalid UTF-8, too large,
//	               canceled, tree-sitter failure).
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *JavaScriptParser) Parse(ctx context.Context, content []byte) (*ParseResult, error) {
	ctx, span := tracer.Start(ctx, "JavaScriptParser.Parse")
	defer span.End()

	root, tree, err := p.parseTree(ctx, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, err
	}
	defer tree.Close()

	hash := sha256.Sum256(content)
	result := &ParseResult{
		Functions: make([]FunctionNode, 0, 32),
		Lines:     bytes.Count(content, []byte("\n")) + 1,
		Hash:      hex.EncodeToString(hash[:]),
	}

	ex := &extraction{content: content, result: result}
	ex.walk(root, 0)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("javascript parse canceled during extraction: %w", err)
	}

	if p.options.MaxErrorRatio > 0 && result.Lines > 0 {
		ratio := float64(result.ErrorNodes) / float64(result.Lines)
		if ratio > p.options.MaxErrorRatio {
			err := fmt.Errorf("%w: %d error nodes over %d lines", ErrTooManyErrors, result.ErrorNodes, result.Lines)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	result.ParsedAtMilli = time.Now().UnixMilli()

	span.SetAttributes(
		attribute.Int("functions", len(result.Functions)),
		attribute.Int("error_nodes", result.ErrorNodes),
		attribute.Int("lines", result.Lines),
	)
	if ex.truncated {
		slog.Warn("javascript walk depth limit reached",
			slog.Int("limit", MaxWalkDepth),
			slog.Int("functions", len(result.Functions)),
		)
	}

	return result, nil
}

// Identifiers returns function-name-like tokens: call targets and declared names.
//
// Description:
//
//	Used by the viewer to decide which tokens are clickable for
//	go-to-definition. Tokens are returned in document order.
//
// Inputs:
//
//	ctx     - Context for cancellation.
//	content - Raw JavaScript source bytes.
//
// Outputs:
//
//	[]Token - Tokens in document order.
//	error   - Same failure modes as Parse.
func (p *JavaScriptParser) Identifiers(ctx context.Context, content []byte) ([]Token, error) {
	ctx, span := tracer.Start(ctx, "JavaScriptParser.Identifiers")
	defer span.End()

	root, tree, err := p.parseTree(ctx, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	tokens := make([]Token, 0, 64)
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch node.Type() {
		case jsNodeCallExpression:
			if target := calleeNameNode(node); target != nil {
				tokens = append(tokens, tokenAt(target, content, TokenCall))
			}
		case jsNodeFunctionDeclaration, jsNodeGeneratorFunctionDecl, jsNodeClassDeclaration, jsNodeMethodDefinition:
			if name := node.ChildByFieldName(jsFieldName); name != nil && isNameNode(name) {
				tokens = append(tokens, tokenAt(name, content, TokenDefinition))
			}
		}

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			if child := node.Child(i); child != nil {
				stack = append(stack, child)
			}
		}
	}

	span.SetAttributes(attribute.Int("tokens", len(tokens)))
	return tokens, nil
}

// parseTree validates content and runs tree-sitter. The caller closes the tree.
func (p *JavaScriptParser) parseTree(ctx context.Context, content []byte) (*sitter.Node, *sitter.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("javascript parse canceled before start: %w", err)
	}
	if len(content) > p.options.MaxFileSize {
		return nil, nil, ErrFileTooLarge
	}
	if !utf8.Valid(content) {
		return nil, nil, ErrInvalidContent
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	if tree == nil {
		return nil, nil, fmt.Errorf("tree-sitter returned no tree")
	}
	if err := ctx.Err(); err != nil {
		tree.Close()
		return nil, nil, fmt.Errorf("javascript parse canceled after tree-sitter: %w", err)
	}
	return tree.RootNode(), tree, nil
}

// extraction is the accumulator threaded through the walk.
type extraction struct {
	content   []byte
	result    *ParseResult
	truncated bool
}

// walk visits node and its subtree in pre-order.
func (ex *extraction) walk(node *sitter.Node, depth int) {
	if node == nil {
		return
	}
	if depth > MaxWalkDepth {
		ex.truncated = true
		return
	}

	if node.IsError() || node.IsMissing() || node.Type() == jsNodeError {
		ex.result.ErrorNodes++
	}

	if fn, ok := ex.classify(node); ok {
		fn.Callees = collectCallees(node, ex.content)
		ex.result.Functions = append(ex.result.Functions, fn)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		ex.walk(node.Child(i), depth+1)
	}
}

// classify decodes a tree-sitter node into a FunctionNode when it is function-like.
func (ex *extraction) classify(node *sitter.Node) (FunctionNode, bool) {
	if !node.IsNamed() {
		return FunctionNode{}, false
	}

	var fn FunctionNode
	switch node.Type() {
	case jsNodeFunctionDeclaration, jsNodeGeneratorFunctionDecl:
		fn.Kind = KindDeclaration
		fn.Name = ex.fieldText(node, jsFieldName)

	case jsNodeFunctionExpression, jsNodeFunctionLegacy, jsNodeGeneratorFunction, jsNodeArrowFunction:
		fn.Kind = KindExpression
		fn.Name = ex.bindingName(node)

	case jsNodeClassDeclaration:
		fn.Kind = KindClass
		fn.Name = ex.fieldText(node, jsFieldName)

	case jsNodeMethodDefinition:
		fn.Kind = KindMethod
		if name := node.ChildByFieldName(jsFieldName); name != nil && isNameNode(name) {
			fn.Name = nodeText(name, ex.content)
		}

	default:
		return FunctionNode{}, false
	}

	start, end := node.StartPoint(), node.EndPoint()
	fn.StartLine = int(start.Row) + 1
	fn.EndLine = int(end.Row) + 1
	fn.StartCol = int(start.Column)
	fn.EndCol = int(end.Column)
	return fn, true
}

// bindingName names a function expression when it is the direct value of a
// variable declarator or the right side of a plain identifier assignment.
func (ex *extraction) bindingName(node *sitter.Node) string {
	parent := node.Parent()
	if parent == nil {
		return ""
	}

	switch parent.Type() {
	case jsNodeVariableDeclarator:
		value := parent.ChildByFieldName(jsFieldValue)
		name := parent.ChildByFieldName(jsFieldName)
		if sameNode(value, node) && name != nil && name.Type() == jsNodeIdentifier {
			return nodeText(name, ex.content)
		}

	case jsNodeAssignmentExpression:
		right := parent.ChildByFieldName(jsFieldRight)
		left := parent.ChildByFieldName(jsFieldLeft)
		if sameNode(right, node) && left != nil && left.Type() == jsNodeIdentifier {
			return nodeText(left, ex.content)
		}
	}

	return ""
}

// fieldText returns the text of an identifier field, or "".
func (ex *extraction) fieldText(node *sitter.Node, field string) string {
	child := node.ChildByFieldName(field)
	if child == nil || child.Type() != jsNodeIdentifier {
		return ""
	}
	return nodeText(child, ex.content)
}

// collectCallees scans a subtree for call expressions and returns the distinct
// callee names in first-seen order.
//
// Description:
//
//	A direct identifier callee contributes its name; a member expression
//	callee contributes the accessed property's name. Any other callee shape
//	(calls on call results, parenthesized expressions, super) contributes
//	nothing. Uses an explicit stack so deeply nested minified code cannot
//	overflow the goroutine stack.
func collectCallees(root *sitter.Node, content []byte) []string {
	type stackEntry struct {
		node  *sitter.Node
		depth int
	}

	seen := make(map[string]struct{})
	var names []string

	stack := make([]stackEntry, 0, 64)
	stack = append(stack, stackEntry{node: root})

	for len(stack) > 0 {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if entry.depth > MaxCallExpressionDepth {
			continue
		}
		if len(names) >= MaxCalleesPerFunction {
			break
		}

		node := entry.node
		if node.Type() == jsNodeCallExpression {
			if target := calleeNameNode(node); target != nil {
				name := nodeText(target, content)
				if _, dup := seen[name]; !dup && name != "" {
					seen[name] = struct{}{}
					names = append(names, name)
				}
			}
		}

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			if child := node.Child(i); child != nil {
				stack = append(stack, stackEntry{node: child, depth: entry.depth + 1})
			}
		}
	}

	return names
}

// calleeNameNode returns the node naming the callee of a call expression.
func calleeNameNode(call *sitter.Node) *sitter.Node {
	fn := call.ChildByFieldName(jsFieldFunction)
	if fn == nil {
		return nil
	}
	switch fn.Type() {
	case jsNodeIdentifier:
		return fn
	case jsNodeMemberExpression:
		prop := fn.ChildByFieldName(jsFieldProperty)
		if prop != nil && isNameNode(prop) {
			return prop
		}
	}
	return nil
}

func isNameNode(n *sitter.Node) bool {
	switch n.Type() {
	case jsNodeIdentifier, jsNodePropertyIdentifier, jsNodePrivatePropertyIdent:
		return true
	}
	return false
}

func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func nodeText(n *sitter.Node, content []byte) string {
	return string(content[n.StartByte():n.EndByte()])
}

func tokenAt(n *sitter.Node, content []byte, kind TokenKind) Token {
	p := n.StartPoint()
	return Token{
		Name:   nodeText(n, content),
		Kind:   kind,
		Line:   int(p.Row) + 1,
		Column: int(p.Column),
	}
}
