package reader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadSplitsLinesAndHashes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.cbl")
	content := "       IDENTIFICATION DIVISION.\n       PROGRAM-ID. X.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src, err := Read(path)
	require.NoError(t, err)
	require.Len(t, src.Lines, 2)
	require.Equal(t, "utf-8", src.Encoding)
	require.Len(t, src.Hash, 64)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read("/nonexistent/path/prog.cbl")
	require.Error(t, err)
}

func TestFromBytesLatin1Fallback(t *testing.T) {
	raw := []byte{0x49, 0x44, 0xE9, 0x0A} // "ID\xE9\n" - invalid UTF-8
	src, err := FromBytes("prog.cbl", raw)
	require.NoError(t, err)
	require.Equal(t, "latin-1", src.Encoding)
	require.Len(t, src.Lines, 1)
}

func TestSameContentSameHash(t *testing.T) {
	a, err := FromBytes("a.cbl", []byte("same text\n"))
	require.NoError(t, err)
	b, err := FromBytes("b.cbl", []byte("same text\n"))
	require.NoError(t, err)
	require.Equal(t, a.Hash, b.Hash)
}
