package analyzer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oxhq/coqu/internal/types"
)

func TestAnalyzePerformSimple(t *testing.T) {
	refs := Analyze("MAIN-PARA", "           PERFORM 1000-INIT-PARA.", 10, nil)
	require.Len(t, refs, 1)
	require.Equal(t, types.RefPerform, refs[0].Kind)
	require.Equal(t, "1000-INIT-PARA", refs[0].Target)
	require.Equal(t, 10, refs[0].Line)
}

func TestAnalyzePerformThru(t *testing.T) {
	refs := Analyze("MAIN-PARA", "           PERFORM 1000-START THRU 1000-END.", 5, nil)
	require.Len(t, refs, 2)
	require.Equal(t, types.RefPerformThru, refs[0].Kind)
	require.Equal(t, "1000-START", refs[0].Target)
	require.Equal(t, "1000-END", refs[1].Target)
}

func TestAnalyzeCallLiteral(t *testing.T) {
	refs := Analyze("VALIDATE", `           CALL "AUDITLOG".`, 1, nil)
	require.Len(t, refs, 1)
	require.Equal(t, types.RefCallLiteral, refs[0].Kind)
	require.Equal(t, "AUDITLOG", refs[0].Target)
}

func TestAnalyzeCallIdentifier(t *testing.T) {
	refs := Analyze("DISPATCH", "           CALL WS-PROGRAM-NAME.", 1, nil)
	require.Len(t, refs, 1)
	require.Equal(t, types.RefCallIdent, refs[0].Kind)
	require.Equal(t, "WS-PROGRAM-NAME", refs[0].Target)
}

func TestAnalyzeGoTo(t *testing.T) {
	refs := Analyze("OLD-PARA", "           GO TO 9999-EXIT-PARA.", 1, nil)
	require.Len(t, refs, 1)
	require.Equal(t, types.RefGoTo, refs[0].Kind)
}

func TestAnalyzeMoveSingleTarget(t *testing.T) {
	refs := Analyze("UPDATE", "           MOVE WS-RECORD-COUNT TO WS-ERROR-COUNT.", 1, nil)
	var moveTo, moveFrom []types.Reference
	for _, r := range refs {
		switch r.Kind {
		case types.RefMoveTo:
			moveTo = append(moveTo, r)
		case types.RefMoveFrom:
			moveFrom = append(moveFrom, r)
		}
	}
	require.Len(t, moveTo, 1)
	require.Equal(t, "WS-ERROR-COUNT", moveTo[0].Target)
	require.Len(t, moveFrom, 1)
	require.Equal(t, "WS-RECORD-COUNT", moveFrom[0].Target)
}

func TestAnalyzeMoveMultipleTargets(t *testing.T) {
	refs := Analyze("INIT", "           MOVE SPACES TO WS-A, WS-B.", 1, nil)
	var targets []string
	for _, r := range refs {
		if r.Kind == types.RefMoveTo {
			targets = append(targets, r.Target)
		}
	}
	require.Equal(t, []string{"WS-A", "WS-B"}, targets)
}

func TestAnalyzeMoveFigurativeConstantNotAMoveFrom(t *testing.T) {
	for _, src := range []string{"SPACES", "SPACE", "ZERO", "ZEROES", "HIGH-VALUES", "LOW-VALUE", "QUOTES"} {
		refs := Analyze("INIT", "           MOVE "+src+" TO WS-FLAGS.", 1, nil)
		for _, r := range refs {
			require.NotEqual(t, types.RefMoveFrom, r.Kind, "figurative constant %q should not yield a move-from reference", src)
		}
	}
}

func TestAnalyzeNoReferences(t *testing.T) {
	refs := Analyze("CLEAN", "           STOP RUN.", 1, nil)
	require.Empty(t, refs)
}

func TestAnalyzePrefersASTWhenPresent(t *testing.T) {
	ast := &types.AST{Root: &types.Node{
		Kind: types.NodeParagraph,
		Children: []*types.Node{
			{Kind: types.NodeStatement, Verb: "PERFORM", Text: "PERFORM 1000-INIT-PARA.", Span: types.Span{Start: 7}},
		},
	}}
	refs := Analyze("MAIN-PARA", "ignored text", 1, ast)
	require.Len(t, refs, 1)
	require.Equal(t, types.RefPerform, refs[0].Kind)
	require.Equal(t, 7, refs[0].Line)
}
