// Package reader implements the L1 Source Reader: it loads a COBOL source
// file into a logical line sequence, detecting UTF-8 vs. Latin-1 encoding
// and preserving original line numbers for later OriginMap construction.
package reader

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/oxhq/coqu/internal/errs"
)

// Source is the result of reading a file: raw bytes, content hash, and the
// decoded line sequence (decoding only affects how bytes are interpreted
// as text; the hash is always over the raw bytes per spec.md §4.6).
type Source struct {
	Path    string
	Raw     []byte
	Hash    string // hex SHA-256 of Raw
	Lines   []string
	Encoding string // "utf-8" or "latin-1"
}

// Read loads path, computing its content hash and decoding it to a line
// sequence. EBCDIC is a declared future extension and is not attempted
// (spec.md §4.1).
func Read(path string) (*Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindFileAccess, "source file not found", err).At(path, 0, 0)
		}
		return nil, errs.Wrap(errs.KindFileAccess, "reading source file", err).At(path, 0, 0)
	}
	return FromBytes(path, raw)
}

// FromBytes decodes already-read bytes, useful for callers that stream or
// mmap the file themselves.
func FromBytes(path string, raw []byte) (*Source, error) {
	sum := sha256.Sum256(raw)

	encoding := "utf-8"
	text := raw
	if !utf8.Valid(raw) {
		encoded, offset, ok := decodeLatin1(raw)
		if !ok {
			return nil, errs.New(errs.KindDecoding,
				fmt.Sprintf("undecodable bytes at offset %d after UTF-8 and Latin-1 fallback", offset)).At(path, 0, 0)
		}
		text = encoded
		encoding = "latin-1"
	}

	lines, err := splitLines(text)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecoding, "splitting source into lines", err).At(path, 0, 0)
	}

	return &Source{
		Path:     path,
		Raw:      raw,
		Hash:     hex.EncodeToString(sum[:]),
		Lines:    lines,
		Encoding: encoding,
	}, nil
}

// decodeLatin1 re-encodes raw bytes (assumed Latin-1/ISO-8859-1) as UTF-8.
// Every byte is a valid Latin-1 code point, so this never fails; it exists
// as its own function to keep the "both attempts" failure reporting of
// spec.md §4.1 honest if a future encoding needs to reject input.
func decodeLatin1(raw []byte) ([]byte, int, bool) {
	var buf bytes.Buffer
	buf.Grow(len(raw) * 2)
	for _, b := range raw {
		buf.WriteRune(rune(b))
	}
	return buf.Bytes(), -1, true
}

// splitLines splits text into lines, tolerating \n, \r\n, and a final line
// without a trailing newline.
func splitLines(text []byte) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
