package parser

import (
	"strings"

	"github.com/oxhq/coqu/internal/types"
)

// DefaultDiagnosticThreshold is the default degraded-AST cutoff (spec.md
// §4.4).
const DefaultDiagnosticThreshold = 100

// Frontend drives Grammar over a segment or a whole program.
type Frontend struct {
	Grammar             Grammar
	DiagnosticThreshold int
}

// NewFrontend creates a Frontend backed by DefaultGrammar.
func NewFrontend() *Frontend {
	return &Frontend{Grammar: DefaultGrammar{}, DiagnosticThreshold: DefaultDiagnosticThreshold}
}

// ParseSegment parses a substring of the program (line_start..line_end
// inclusive), prepending a synthetic "PROCEDURE DIVISION." header if the
// segment text does not already contain "PROCEDURE DIVISION" so the grammar
// accepts a paragraph body in isolation (spec.md §4.4).
func (f *Frontend) ParseSegment(lines []string, lineStart, lineEnd int) *types.AST {
	if lineStart < 1 {
		lineStart = 1
	}
	if lineEnd > len(lines) {
		lineEnd = len(lines)
	}
	if lineEnd < lineStart {
		return &types.AST{Root: &types.Node{Kind: types.NodeParagraph, Span: types.Span{Start: lineStart, End: lineStart}}}
	}
	segment := strings.Join(lines[lineStart-1:lineEnd], "\n")

	needsHeader := !hasProcedureDivision(segment)
	baseLine := lineStart
	if needsHeader {
		segment = "PROCEDURE DIVISION.\n" + segment
		baseLine = lineStart - 1 // synthetic header absorbs one line offset
	}

	root, diags := f.Grammar.Parse(segment, baseLine)
	return f.finish(root, diags)
}

// ParseFull parses the entire expanded line stream.
func (f *Frontend) ParseFull(lines []string) *types.AST {
	root, diags := f.Grammar.Parse(strings.Join(lines, "\n"), 1)
	root.Kind = types.NodeProgram
	return f.finish(root, diags)
}

func (f *Frontend) finish(root *types.Node, diags []types.Diagnostic) *types.AST {
	threshold := f.DiagnosticThreshold
	if threshold <= 0 {
		threshold = DefaultDiagnosticThreshold
	}
	return &types.AST{Root: root, Diagnostics: diags, Degraded: len(diags) > threshold}
}

func hasProcedureDivision(segment string) bool {
	return strings.Contains(strings.ToUpper(segment), "PROCEDURE DIVISION")
}
