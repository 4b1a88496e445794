// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts function-like spans and call names from JavaScript.
//
// The tree-sitter syntax tree never leaves this package: every function-like
// node is decoded into a FunctionNode with one of a closed set of kinds.
package ast

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("viewer.ast")

// Extraction limits.
const (
	// MaxCallExpressionDepth bounds the subtree depth scanned for callees.
	MaxCallExpressionDepth = 500

	// MaxCalleesPerFunction bounds distinct callee names kept per function.
	MaxCalleesPerFunction = 1000

	// MaxWalkDepth bounds the recursive syntax tree walk.
	MaxWalkDepth = 2000
)

var (
	// ErrFileTooLarge is returned when content exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large to parse")

	// ErrInvalidContent is returned for content that is not valid UTF-8.
	ErrInvalidContent = errors.New("content is not valid UTF-8")

	// ErrTooManyErrors is returned when MaxErrorRatio is exceeded.
	ErrTooManyErrors = errors.New("too many syntax errors")
)

// FunctionKind is the closed set of function-like node variants.
type FunctionKind int

const (
	// KindDeclaration is a function or generator declaration.
	KindDeclaration FunctionKind = iota

	// KindExpression is a function, generator or arrow expression. It is
	// named only when it directly initializes a variable or is the right side
	// of a plain identifier assignment.
	KindExpression

	// KindClass is a class declaration.
	KindClass

	// KindMethod is a class or object method.
	KindMethod
)

// String returns the kind name.
func (k FunctionKind) String() string {
	switch k {
	case KindDeclaration:
		return "declaration"
	case KindExpression:
		return "expression"
	case KindClass:
		return "class"
	case KindMethod:
		return "method"
	default:
		return "unknown"
	}
}

// FunctionNode is one function-like span. Lines are 1-based, columns 0-based.
type FunctionNode struct {
	Kind      FunctionKind `json:"kind"`
	Name      string       `json:"name,omitempty"`
	StartLine int          `json:"start_line"`
	EndLine   int          `json:"end_line"`
	StartCol  int          `json:"start_col"`
	EndCol    int          `json:"end_col"`

	// Callees are distinct call names found anywhere inside the node, in
	// first-seen order.
	Callees []string `json:"callees,omitempty"`
}

// Named reports whether the node has a name.
func (f *FunctionNode) Named() bool { return f.Name != "" }

// ParseResult is the output of Parser.Parse.
type ParseResult struct {
	// Functions are all function-like nodes in pre-order (outer before inner).
	Functions []FunctionNode

	// ErrorNodes counts ERROR/MISSING nodes produced by error recovery.
	ErrorNodes int

	// Lines is the number of lines in the content.
	Lines int

	// Hash is the SHA256 of the content.
	Hash string

	// ParsedAtMilli is when parsing finished.
	ParsedAtMilli int64
}

// TokenKind classifies a function-name-like token.
type TokenKind int

const (
	// TokenCall is a callee name at a call site.
	TokenCall TokenKind = iota

	// TokenDefinition is the declared name of a function, class or method.
	TokenDefinition
)

// String returns the token kind name.
func (k TokenKind) String() string {
	if k == TokenDefinition {
		return "definition"
	}
	return "call"
}

// MarshalText implements encoding.TextMarshaler.
func (k TokenKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *TokenKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "call":
		*k = TokenCall
	case "definition":
		*k = TokenDefinition
	default:
		return fmt.Errorf("unknown token kind %q", text)
	}
	return nil
}

// Token is a function-name-like token used for click-to-definition.
type Token struct {
	Name   string    `json:"name"`
	Kind   TokenKind `json:"kind"`
	Line   int       `json:"line"`
	Column int       `json:"column"`
}
