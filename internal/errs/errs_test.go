package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	e := New(KindUsage, "bad flag combination")
	require.Equal(t, "bad flag combination", e.Error())
	require.Equal(t, KindUsage, e.Kind)
}

func TestWrapCarriesDetail(t *testing.T) {
	inner := errors.New("no such file")
	e := Wrap(KindFileAccess, "reading source file", inner)
	require.Equal(t, "reading source file: no such file", e.Error())
	require.ErrorIs(t, e, inner)
}

func TestAtAttachesLocation(t *testing.T) {
	e := New(KindDecoding, "undecodable bytes").At("prog.cbl", 12, 3)
	require.Contains(t, e.Debug(), "prog.cbl:12:3")
}

func TestIsComparesKindOnly(t *testing.T) {
	a := New(KindQueryMiss, "paragraph not found")
	b := New(KindQueryMiss, "variable not found")
	require.True(t, a.Is(b))

	c := New(KindUsage, "bad flag")
	require.False(t, a.Is(c))
}

func TestJSONRoundTripsKind(t *testing.T) {
	e := New(KindCyclicCopy, "cycle detected")
	require.Contains(t, e.JSON(), `"kind":"CyclicCopy"`)
}
