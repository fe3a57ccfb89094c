// Package codec implements the L7 AST/Index Serialization: a
// self-describing binary framing for cache entries (spec.md §4.6/§6):
// magic bytes, codec version, length-prefixed tool-version string,
// length-prefixed JSON header, length-prefixed index record, and an
// optional length-prefixed AST record.
//
// Grounded on internal/db/migrate.go and internal/db/encrypt.go's
// discipline of gating trust on a magic/version check before decoding a
// blob, adapted from SQLite pragmas to a plain binary envelope.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/oxhq/coqu/internal/types"
)

// Magic is the 4-byte header identifying a coqu cache entry.
var Magic = [4]byte{'C', 'O', 'Q', 'U'}

// CodecVersion is bumped whenever the on-disk framing changes
// incompatibly. Readers reject entries with a mismatched version as a
// miss, per spec.md §4.6.
const CodecVersion uint16 = 1

// ErrBadMagic/ErrVersionMismatch are returned by Decode for headers that do
// not look like a coqu cache entry, or look like one from an incompatible
// codec generation. Callers (Cache Manager) should treat either as a miss.
var (
	ErrBadMagic        = fmt.Errorf("codec: bad magic bytes")
	ErrVersionMismatch = fmt.Errorf("codec: codec version mismatch")
)

// Encode writes a self-describing cache entry to w.
func Encode(w io.Writer, entry *types.CacheEntry) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, CodecVersion); err != nil {
		return err
	}
	if err := writeLenPrefixed(w, []byte(entry.Meta.ToolVersion)); err != nil {
		return err
	}

	headerBytes, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	if err := writeLenPrefixed(w, headerBytes); err != nil {
		return err
	}

	indexBytes, err := json.Marshal(entry.Index)
	if err != nil {
		return err
	}
	if err := writeLenPrefixed(w, indexBytes); err != nil {
		return err
	}

	var astBytes []byte
	if entry.AST != nil {
		astBytes, err = json.Marshal(entry.AST)
		if err != nil {
			return err
		}
	}
	return writeLenPrefixed(w, astBytes) // zero-length = "no AST"
}

// Decode reads a cache entry previously written by Encode. It returns
// ErrBadMagic/ErrVersionMismatch for headers that don't match; any other
// error indicates a truncated or corrupt record.
func Decode(r io.Reader) (*types.CacheEntry, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != CodecVersion {
		return nil, ErrVersionMismatch
	}

	toolVersion, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}

	headerBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	var meta types.CacheMeta
	if err := json.Unmarshal(headerBytes, &meta); err != nil {
		return nil, err
	}
	meta.ToolVersion = string(toolVersion)

	indexBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	var index types.StructuralIndex
	if err := json.Unmarshal(indexBytes, &index); err != nil {
		return nil, err
	}

	astBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	var ast *types.AST
	if len(astBytes) > 0 {
		ast = &types.AST{}
		if err := json.Unmarshal(astBytes, ast); err != nil {
			return nil, err
		}
	}

	return &types.CacheEntry{Meta: meta, Index: &index, AST: ast}, nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeToBytes is a convenience wrapper used by tests and by callers that
// need the framed bytes before writing them atomically.
func EncodeToBytes(entry *types.CacheEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
