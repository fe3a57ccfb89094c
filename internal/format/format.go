// Package format implements the L2 Format Detector/Normalizer: it
// classifies a COBOL source's physical layout (standard, sequence-numbered,
// or Panvalet) and strips the non-code columns, preserving the stripped
// content's original line numbers. Grounded on the sampling-heuristic
// style of the teacher's internal/scanner.go (sample-then-classify).
package format

import (
	"regexp"
	"strings"

	"github.com/oxhq/coqu/internal/types"
)

const sampleSize = 200

var (
	sequenceColsRe = regexp.MustCompile(`^\d{6}`)
	panvaletMarkerRe = regexp.MustCompile(`^[+\-*]`)
)

// NormalizedLine is one line of post-normalization source paired with its
// original (pre-normalization) line number, plus the preserved comment
// indicator column.
type NormalizedLine struct {
	Text        string
	OriginalLine int
	CommentCol  int // 1-based column of a `*`/`/` comment indicator, 0 if none
}

// Detect classifies the physical layout of lines by sampling the first
// sampleSize non-empty lines (spec.md §4.1).
func Detect(lines []string) types.SourceFormat {
	sampled := 0
	seqHits, panHits := 0, 0
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		sampled++
		if len(l) >= 6 && sequenceColsRe.MatchString(l[:6]) {
			seqHits++
		}
		if len(l) >= 1 && panvaletMarkerRe.MatchString(l[:1]) {
			panHits++
		}
		if sampled >= sampleSize {
			break
		}
	}
	if sampled == 0 {
		return types.FormatStandard
	}
	if float64(seqHits)/float64(sampled) >= 0.90 {
		return types.FormatSequence
	}
	if float64(panHits)/float64(sampled) >= 0.05 {
		return types.FormatPanvalet
	}
	return types.FormatStandard
}

// Normalize strips columns 1-6 and column 73+ for sequence format, strips
// the Panvalet marker column for panvalet format, and passes standard
// format through unchanged (columns are still inspected for the column-7
// comment indicator). Normalization is idempotent: renormalizing already
// normalized text with the same detected format returns the same text,
// since Detect on stripped standard-format text again reports "standard".
func Normalize(lines []string, f types.SourceFormat) []NormalizedLine {
	out := make([]NormalizedLine, 0, len(lines))
	for i, l := range lines {
		origLine := i + 1
		var text string
		commentCol := 0

		switch f {
		case types.FormatSequence:
			body := l
			if len(body) > 6 {
				body = body[6:]
			} else {
				body = ""
			}
			if len(body) > 66 { // column 73 overall = column 67 after stripping 6
				body = body[:66]
			}
			text = body
			commentCol = detectCommentCol(body)
		case types.FormatPanvalet:
			body := l
			if len(body) > 0 && panvaletMarkerRe.MatchString(body[:1]) {
				body = body[1:]
			}
			text = body
			commentCol = detectCommentCol(body)
		default:
			text = l
			commentCol = detectCommentCol(l)
		}

		out = append(out, NormalizedLine{Text: text, OriginalLine: origLine, CommentCol: commentCol})
	}
	return out
}

// detectCommentCol reports the 1-based column of a `*` or `/` comment
// indicator at column 7 (area preceding area A), or 0 if absent.
func detectCommentCol(body string) int {
	if len(body) >= 7 {
		c := body[6]
		if c == '*' || c == '/' {
			return 7
		}
	}
	return 0
}
