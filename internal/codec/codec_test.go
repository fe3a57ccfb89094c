package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oxhq/coqu/internal/types"
)

func sampleEntry() *types.CacheEntry {
	return &types.CacheEntry{
		Meta: types.CacheMeta{
			SourcePath: "sample.cbl", SourceHash: "abc123", Lines: 42,
			CachedAt: time.Unix(0, 0).UTC(), Format: types.FormatStandard, ToolVersion: "coqu-test",
		},
		Index: &types.StructuralIndex{
			Divisions: []types.Division{{Name: types.DivisionProcedure, Span: types.Span{Start: 1, End: 10}}},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entry := sampleEntry()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, entry))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, entry.Meta.SourceHash, decoded.Meta.SourceHash)
	require.Equal(t, entry.Meta.ToolVersion, decoded.Meta.ToolVersion)
	require.Equal(t, entry.Index.Divisions, decoded.Index.Divisions)
	require.Nil(t, decoded.AST)
}

func TestEncodeDecodeWithAST(t *testing.T) {
	entry := sampleEntry()
	entry.AST = &types.AST{Root: &types.Node{Kind: types.NodeProgram}}

	data, err := EncodeToBytes(entry)
	require.NoError(t, err)
	decoded, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.NotNil(t, decoded.AST)
	require.Equal(t, types.NodeProgram, decoded.AST.Root.Kind)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("XXXX\x00\x01")))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.Write([]byte{0xFF, 0xFF}) // bogus version, big-endian
	_, err := Decode(&buf)
	require.ErrorIs(t, err, ErrVersionMismatch)
}
