// Package parser implements the L5 Full Parser Frontend: a driver over a
// grammar-based lexer+parser that produces a cached AST for a segment or
// whole file (spec.md §4.4).
//
// The grammar itself is treated as an opaque, swappable dependency exactly
// the way the teacher treats per-language tree-sitter grammars behind
// providers/contract.go's LanguageProvider interface — "the core must
// remain correct even if the generator is swapped for another producing
// equivalent semantics" (spec.md §9). No COBIL/COBOL tree-sitter grammar
// exists in the example pack to plug in here (see DESIGN.md), so Grammar's
// default implementation is a small recursive-descent PROCEDURE DIVISION
// parser standing in for the externally generated one; any future
// generator need only satisfy the same interface.
package parser

import (
	"regexp"
	"strings"

	"github.com/oxhq/coqu/internal/types"
)

// Grammar is the opaque interface over a generated (or hand-written)
// lexer+parser. DefaultGrammar below is the bundled implementation.
type Grammar interface {
	Parse(text string, baseLine int) (*types.Node, []types.Diagnostic)
}

// DefaultGrammar implements Grammar with a small recursive-descent parser
// over PROCEDURE DIVISION sentence/statement structure. It is intentionally
// shallow: statement bodies are retained as text, not sub-parsed into
// operand trees, since spec.md §4.4 only asks for an AST with
// kind-specific children usable by L6, not full COBOL semantics.
type DefaultGrammar struct{}

var verbRe = regexp.MustCompile(`(?i)^(PERFORM|CALL|GO|MOVE|IF|ELSE|END-IF|ADD|SUBTRACT|MULTIPLY|DIVIDE|COMPUTE|DISPLAY|ACCEPT|READ|WRITE|REWRITE|OPEN|CLOSE|EXIT|STOP|INITIALIZE|SET|EVALUATE|WHEN|END-EVALUATE|STRING|UNSTRING|SEARCH|SORT|RETURN|NEXT)\b`)

var wordRe = regexp.MustCompile(`[A-Za-z0-9-]+`)

// Parse tokenizes text into sentences (split on '.' outside of quotes) and
// each sentence into one or more verb-led statements, assigning line
// numbers relative to baseLine (the first physical line of text).
func (DefaultGrammar) Parse(text string, baseLine int) (*types.Node, []types.Diagnostic) {
	root := &types.Node{Kind: types.NodeParagraph, Span: types.Span{Start: baseLine}}
	var diags []types.Diagnostic

	lines := strings.Split(text, "\n")
	sentences, sentenceLines := splitSentences(lines, baseLine)

	for si, sentence := range sentences {
		sentNode := &types.Node{Kind: types.NodeSentence, Span: types.Span{Start: sentenceLines[si], End: sentenceLines[si]}}
		statements := splitStatements(sentence)
		if len(statements) == 0 {
			continue
		}
		for _, stmtText := range statements {
			stmtText = strings.TrimSpace(stmtText)
			if stmtText == "" {
				continue
			}
			verb := ""
			if m := verbRe.FindStringSubmatch(stmtText); m != nil {
				verb = strings.ToUpper(m[1])
			} else {
				diags = append(diags, types.Diagnostic{
					Line: sentenceLines[si], Actual: firstWord(stmtText),
					Expected: []string{"statement verb"},
					Message:  "unrecognized statement, retained as opaque text",
				})
			}
			sentNode.Children = append(sentNode.Children, &types.Node{
				Kind: types.NodeStatement, Verb: verb, Text: stmtText,
				Span: types.Span{Start: sentenceLines[si], End: sentenceLines[si]},
			})
		}
		root.Children = append(root.Children, sentNode)
	}
	if len(root.Children) > 0 {
		root.Span.End = root.Children[len(root.Children)-1].Span.End
	} else {
		root.Span.End = baseLine
	}
	return root, diags
}

// splitSentences splits lines into '.'-terminated sentences, tracking which
// physical (baseLine-relative) line each sentence started on. Periods
// inside quoted literals do not terminate a sentence.
func splitSentences(lines []string, baseLine int) ([]string, []int) {
	var sentences []string
	var startLines []int
	var buf strings.Builder
	curStart := -1
	inQuote := byte(0)

	flush := func() {
		if strings.TrimSpace(buf.String()) != "" {
			sentences = append(sentences, buf.String())
			startLines = append(startLines, curStart)
		}
		buf.Reset()
		curStart = -1
	}

	for i, line := range lines {
		lineNo := baseLine + i
		if curStart == -1 && strings.TrimSpace(line) != "" {
			curStart = lineNo
		}
		for j := 0; j < len(line); j++ {
			c := line[j]
			if inQuote != 0 {
				buf.WriteByte(c)
				if c == inQuote {
					inQuote = 0
				}
				continue
			}
			if c == '"' || c == '\'' {
				inQuote = c
				buf.WriteByte(c)
				continue
			}
			if c == '.' {
				buf.WriteByte(c)
				flush()
				continue
			}
			buf.WriteByte(c)
		}
		buf.WriteByte(' ')
	}
	flush()
	return sentences, startLines
}

// splitStatements splits a sentence into individual verb-led statements,
// e.g. "MOVE A TO B PERFORM X." -> ["MOVE A TO B", "PERFORM X."].
func splitStatements(sentence string) []string {
	var starts []int
	for _, loc := range wordRe.FindAllStringIndex(sentence, -1) {
		word := sentence[loc[0]:loc[1]]
		if verbRe.FindString(word) == word {
			starts = append(starts, loc[0])
		}
	}
	if len(starts) <= 1 {
		return []string{sentence}
	}
	var out []string
	for i, start := range starts {
		end := len(sentence)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		out = append(out, sentence[start:end])
	}
	return out
}

func firstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
