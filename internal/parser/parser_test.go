package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oxhq/coqu/internal/types"
)

func TestParseSegmentPrependsSyntheticHeader(t *testing.T) {
	f := NewFrontend()
	lines := []string{
		"       0000-MAIN-PARA.",
		"           PERFORM 1000-INIT-PARA.",
		"           STOP RUN.",
	}
	ast := f.ParseSegment(lines, 1, 3)
	require.False(t, ast.Degraded)

	var verbs []string
	walkStatements(ast.Root, func(n *types.Node) { verbs = append(verbs, n.Verb) })
	require.Contains(t, verbs, "PERFORM")
	require.Contains(t, verbs, "STOP")
}

func TestParseSegmentSkipsHeaderWhenAlreadyPresent(t *testing.T) {
	f := NewFrontend()
	lines := []string{
		"       PROCEDURE DIVISION.",
		"           STOP RUN.",
	}
	ast := f.ParseSegment(lines, 1, 2)
	require.NotNil(t, ast.Root)
	require.False(t, ast.Degraded)
}

func TestParseSegmentEmptyRangeReturnsLeafParagraph(t *testing.T) {
	f := NewFrontend()
	ast := f.ParseSegment([]string{"a", "b"}, 5, 2)
	require.Equal(t, types.NodeParagraph, ast.Root.Kind)
	require.Empty(t, ast.Root.Children)
}

func TestParseFullSetsProgramKind(t *testing.T) {
	f := NewFrontend()
	ast := f.ParseFull([]string{
		"           MOVE A TO B.",
		"           PERFORM X THRU Y.",
	})
	require.Equal(t, types.NodeProgram, ast.Root.Kind)
}

func TestParseUnrecognizedVerbEmitsDiagnostic(t *testing.T) {
	f := NewFrontend()
	ast := f.ParseFull([]string{"           FROBNICATE WS-THING."})
	require.Len(t, ast.Diagnostics, 1)
	require.Equal(t, "FROBNICATE", ast.Diagnostics[0].Actual)
}

func TestParseDegradedAboveThreshold(t *testing.T) {
	f := NewFrontend()
	f.DiagnosticThreshold = 3
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, fmt.Sprintf("           NOTAVERB%d X.", i))
	}
	ast := f.ParseFull(lines)
	require.True(t, ast.Degraded)
	require.Len(t, ast.Diagnostics, 5)
}

func TestParseNotDegradedAtThreshold(t *testing.T) {
	f := NewFrontend()
	f.DiagnosticThreshold = 5
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, fmt.Sprintf("           NOTAVERB%d X.", i))
	}
	ast := f.ParseFull(lines)
	require.False(t, ast.Degraded)
}

func TestSplitSentencesIgnoresPeriodsInQuotes(t *testing.T) {
	root, _ := DefaultGrammar{}.Parse(`           DISPLAY "A.B.C.".`, 1)
	require.Len(t, root.Children, 1)
	stmt := root.Children[0].Children[0]
	require.Equal(t, "DISPLAY", stmt.Verb)
	require.True(t, strings.Contains(stmt.Text, "A.B.C."))
}

func TestSplitStatementsMultipleVerbsPerSentence(t *testing.T) {
	root, _ := DefaultGrammar{}.Parse("           MOVE A TO B PERFORM X.", 1)
	require.Len(t, root.Children, 1)
	require.Len(t, root.Children[0].Children, 2)
	require.Equal(t, "MOVE", root.Children[0].Children[0].Verb)
	require.Equal(t, "PERFORM", root.Children[0].Children[1].Verb)
}

func walkStatements(n *types.Node, fn func(*types.Node)) {
	if n == nil {
		return
	}
	if n.Kind == types.NodeStatement {
		fn(n)
	}
	for _, c := range n.Children {
		walkStatements(c, fn)
	}
}
