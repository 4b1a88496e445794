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

// tree-sitter-javascript node types.
const (
	jsNodeProgram               = "program"
	jsNodeFunctionDeclaration   = "function_declaration"
	jsNodeGeneratorFunctionDecl = "generator_function_declaration"
	jsNodeFunctionExpression    = "function_expression"
	jsNodeFunctionLegacy        = "function" // older grammars name function expressions "function"
	jsNodeGeneratorFunction     = "generator_function"
	jsNodeArrowFunction         = "arrow_function"
	jsNodeClassDeclaration      = "class_declaration"
	jsNodeMethodDefinition      = "method_definition"
	jsNodeVariableDeclarator    = "variable_declarator"
	jsNodeAssignmentExpression  = "assignment_expression"
	jsNodeCallExpression        = "call_expression"
	jsNodeMemberExpression      = "member_expression"
	jsNodeIdentifier            = "identifier"
	jsNodePropertyIdentifier    = "property_identifier"
	jsNodePrivatePropertyIdent  = "private_property_identifier"
	jsNodeError                 = "ERROR"
)

// tree-sitter-javascript field names.
const (
	jsFieldName     = "name"
	jsFieldValue    = "value"
	jsFieldLeft     = "left"
	jsFieldRight    = "right"
	jsFieldFunction = "function"
	jsFieldProperty = "property"
)
