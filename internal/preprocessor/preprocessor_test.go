package preprocessor

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oxhq/coqu/internal/format"
	"github.com/oxhq/coqu/internal/types"
)

func normalize(lines []string) []format.NormalizedLine {
	return format.Normalize(lines, types.FormatStandard)
}

func TestExpandResolvesCopy(t *testing.T) {
	p := New([]string{"../../tests/fixtures/copybooks"})
	lines := normalize([]string{
		"       WORKING-STORAGE SECTION.",
		"       COPY DATEUTIL.",
		"       PROCEDURE DIVISION.",
	})
	result, err := p.Expand("with_copy.cbl", lines)
	require.NoError(t, err)
	require.Len(t, result.Copies, 1)
	require.Equal(t, types.CopyResolved, result.Copies[0].Status)
	require.True(t, strings.Contains(strings.Join(result.Lines, "\n"), "CPY-CURRENT-YEAR"))
}

func TestExpandUnresolvedCopyEmitsPlaceholder(t *testing.T) {
	p := New([]string{"../../tests/fixtures/copybooks"})
	lines := normalize([]string{
		"       WORKING-STORAGE SECTION.",
		"       COPY NOSUCHBOOK.",
		"       PROCEDURE DIVISION.",
	})
	result, err := p.Expand("unresolved.cbl", lines)
	require.NoError(t, err)
	require.Len(t, result.Unresolved, 1)
	require.Equal(t, "NOSUCHBOOK", result.Unresolved[0].Name)
	require.Equal(t, types.CopyUnresolved, result.Unresolved[0].Status)
}

func TestExpandCyclicCopySkipped(t *testing.T) {
	dir := t.TempDir()
	p := New([]string{dir})
	writeFile(t, dir+"/SELF.cpy", "       COPY SELF.\n")

	lines := normalize([]string{"       COPY SELF."})
	result, err := p.Expand("root.cbl", lines)
	require.NoError(t, err)
	require.Len(t, result.Copies, 2) // root reference + the nested cyclic skip
	require.Equal(t, types.CopyCyclic, result.Copies[1].Status)
}

func TestExpandReplacingSubstitutesPseudoText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/TMPL.cpy", "       01  NAME-REC     PIC X(10).\n")
	p := New([]string{dir})

	lines := normalize([]string{"       COPY TMPL REPLACING ==NAME== BY ==CUSTOMER==."})
	result, err := p.Expand("root.cbl", lines)
	require.NoError(t, err)
	require.True(t, strings.Contains(strings.Join(result.Lines, "\n"), "CUSTOMER-REC"))
}

func TestExpandOriginMapTracksSourceLines(t *testing.T) {
	p := New(nil)
	lines := normalize([]string{
		"       IDENTIFICATION DIVISION.",
		"       PROGRAM-ID. X.",
	})
	result, err := p.Expand("root.cbl", lines)
	require.NoError(t, err)
	origin := result.Origins.Resolve(2)
	require.Equal(t, "root.cbl", origin.File)
	require.Equal(t, 2, origin.Line)
}

func TestExpandExecBlockPassesThroughVerbatim(t *testing.T) {
	p := New(nil)
	lines := normalize([]string{
		"       EXEC SQL",
		"           SELECT 1 INTO :WS-X FROM DUAL",
		"       END-EXEC.",
	})
	result, err := p.Expand("root.cbl", lines)
	require.NoError(t, err)
	require.Len(t, result.Execs, 1)
	require.Equal(t, types.ExecSQL, result.Execs[0].Kind)
	require.Contains(t, result.Execs[0].Body, "SELECT 1 INTO :WS-X FROM DUAL")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
