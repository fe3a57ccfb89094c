// Package analyzer implements the L6 Chunk Analyzer: dedicated regexes
// extracting PERFORM/CALL/GO TO/MOVE edges from a text slice, preferring
// AST-derived statement boundaries when an AST is available (spec.md
// §4.5). Grounded on internal/evaluator/universal.go's pattern-match-first,
// fall-back-to-structure evaluation shape.
package analyzer

import (
	"regexp"
	"strings"

	"github.com/oxhq/coqu/internal/types"
)

var (
	performRe = regexp.MustCompile(`(?i)\bPERFORM\s+([A-Z0-9][A-Z0-9-]*)(?:\s+(?:THRU|THROUGH)\s+([A-Z0-9][A-Z0-9-]*))?`)
	callRe    = regexp.MustCompile(`(?i)\bCALL\s+(?:"([^"]+)"|'([^']+)'|([A-Z0-9][A-Z0-9-]*))`)
	gotoRe    = regexp.MustCompile(`(?i)\bGO\s+TO\s+([A-Z0-9][A-Z0-9-]*)`)
	moveRe    = regexp.MustCompile(`(?i)\bMOVE\s+(.+?)\s+TO\s+([A-Z0-9][A-Z0-9-,\s]*)`)
	nameRe    = regexp.MustCompile(`[A-Z0-9][A-Z0-9-]*`)
)

// figurativeConstants are COBOL reserved words that can appear as a MOVE
// source operand without naming a data item (COBOL-85 §3.2 figurative
// constants); these never become move-from edges.
var figurativeConstants = map[string]bool{
	"SPACE": true, "SPACES": true,
	"ZERO": true, "ZEROS": true, "ZEROES": true,
	"HIGH-VALUE": true, "HIGH-VALUES": true,
	"LOW-VALUE": true, "LOW-VALUES": true,
	"QUOTE": true, "QUOTES": true,
	"ALL": true, "NULL": true, "NULLS": true,
}

// Analyze extracts directed references originating from chunkName out of
// text (a paragraph/section/division body), starting at baseLine. When ast
// is non-nil the analyzer walks its Statement nodes instead of re-splitting
// text, which is robust to statements spanning multiple physical lines.
func Analyze(chunkName, text string, baseLine int, ast *types.AST) []types.Reference {
	if ast != nil && ast.Root != nil {
		return analyzeAST(chunkName, ast.Root)
	}
	return analyzeText(chunkName, text, baseLine)
}

func analyzeAST(chunkName string, node *types.Node) []types.Reference {
	var refs []types.Reference
	var walk func(n *types.Node)
	walk = func(n *types.Node) {
		if n.Kind == types.NodeStatement {
			refs = append(refs, extractFromStatement(chunkName, n.Verb, n.Text, n.Span.Start)...)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(node)
	return refs
}

func analyzeText(chunkName, text string, baseLine int) []types.Reference {
	var refs []types.Reference
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lineNo := baseLine + i
		refs = append(refs, extractFromStatement(chunkName, "", line, lineNo)...)
	}
	return refs
}

// extractFromStatement runs all four dedicated patterns over a single
// statement/line. verb is accepted but not consulted; every pattern is
// applied regardless so a compound statement like
// "MOVE A TO B PERFORM X" (already split by the parser, but regex fallback
// may not split it) still yields every matching edge.
func extractFromStatement(chunkName, verb, stmt string, line int) []types.Reference {
	var refs []types.Reference

	if m := performRe.FindStringSubmatch(stmt); m != nil {
		if m[2] != "" {
			refs = append(refs, types.Reference{Source: chunkName, Target: strings.ToUpper(m[1]), Kind: types.RefPerformThru, Line: line})
			refs = append(refs, types.Reference{Source: chunkName, Target: strings.ToUpper(m[2]), Kind: types.RefPerformThru, Line: line})
		} else {
			refs = append(refs, types.Reference{Source: chunkName, Target: strings.ToUpper(m[1]), Kind: types.RefPerform, Line: line})
		}
	}

	if m := callRe.FindStringSubmatch(stmt); m != nil {
		switch {
		case m[1] != "":
			refs = append(refs, types.Reference{Source: chunkName, Target: m[1], Kind: types.RefCallLiteral, Line: line})
		case m[2] != "":
			refs = append(refs, types.Reference{Source: chunkName, Target: m[2], Kind: types.RefCallLiteral, Line: line})
		case m[3] != "":
			refs = append(refs, types.Reference{Source: chunkName, Target: strings.ToUpper(m[3]), Kind: types.RefCallIdent, Line: line})
		}
	}

	if m := gotoRe.FindStringSubmatch(stmt); m != nil {
		refs = append(refs, types.Reference{Source: chunkName, Target: strings.ToUpper(m[1]), Kind: types.RefGoTo, Line: line})
	}

	if m := moveRe.FindStringSubmatch(stmt); m != nil {
		from := strings.TrimSpace(m[1])
		if nameRe.MatchString(from) {
			for _, f := range nameRe.FindAllString(from, -1) {
				upper := strings.ToUpper(f)
				if figurativeConstants[upper] {
					continue
				}
				refs = append(refs, types.Reference{Source: chunkName, Target: upper, Kind: types.RefMoveFrom, Line: line})
			}
		}
		for _, target := range strings.Split(m[2], ",") {
			target = strings.TrimSpace(target)
			if target != "" {
				refs = append(refs, types.Reference{Source: chunkName, Target: strings.ToUpper(target), Kind: types.RefMoveTo, Line: line})
			}
		}
	}

	return refs
}
