// Package indexer implements the L4 Structural Indexer: a family of
// compiled regular expressions driven over normalized source in a single
// linear pass, producing the StructuralIndex skeleton of spec.md §3
// without building a full AST.
//
// Grounded on internal/matcher/matcher.go's span-returning Matcher
// abstraction, generalized from "find all spans for one pattern" to "walk
// the whole file classifying each line".
package indexer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/oxhq/coqu/internal/types"
)

var (
	divisionRe  = regexp.MustCompile(`(?i)^\s*(IDENTIFICATION|ENVIRONMENT|DATA|PROCEDURE)\s+DIVISION\s*\.`)
	sectionRe   = regexp.MustCompile(`(?i)^\s*([A-Z0-9][A-Z0-9-]*)\s+SECTION\s*(?:USING\s+[^.]*)?\s*\.`)
	paragraphRe = regexp.MustCompile(`(?i)^\s*([A-Z0-9][A-Z0-9-]*)\s*\.\s*$`)
	dataItemRe  = regexp.MustCompile(`^\s*(\d{1,2})\s+([A-Z0-9][A-Z0-9-]*)\b(.*)$`)
	picRe       = regexp.MustCompile(`(?i)PIC(?:TURE)?\s+(?:IS\s+)?(\S+)`)
)

// Build runs the structural indexer over a program's expanded lines,
// reconstructing spans with a single linear pass: each header closes its
// predecessor's span at the previous line (spec.md §4.3).
func Build(lines []string) *types.StructuralIndex {
	idx := &types.StructuralIndex{}

	var curDivision *types.Division
	var curSection *types.Section
	var dataStack []types.DataItem // level-ordered stack for parent resolution

	n := len(lines)

	closeDivision := func(endLine int) {
		if curDivision != nil {
			curDivision.Span.End = endLine
			idx.Divisions = append(idx.Divisions, *curDivision)
			curDivision = nil
		}
	}
	closeSection := func(endLine int) {
		if curSection != nil {
			curSection.Span.End = endLine
			idx.Sections = append(idx.Sections, *curSection)
			curSection = nil
		}
	}
	closeOpenParagraph := func(endLine int) {
		if len(idx.Paragraphs) > 0 {
			last := &idx.Paragraphs[len(idx.Paragraphs)-1]
			if last.Span.End == 0 {
				last.Span.End = endLine
			}
		}
	}

	for i := 0; i < n; i++ {
		lineNo := i + 1
		raw := lines[i]
		trimmed := strings.TrimSpace(raw)

		if trimmed == "" {
			continue
		}
		if commentClass(raw) != "" {
			idx.Comments = append(idx.Comments, types.Comment{
				Line: lineNo, Col: 7, Text: raw, Class: commentClass(raw),
			})
			continue
		}

		if m := divisionRe.FindStringSubmatch(raw); m != nil {
			closeOpenParagraph(lineNo - 1)
			closeSection(lineNo - 1)
			closeDivision(lineNo - 1)
			curDivision = &types.Division{Name: types.DivisionName(strings.ToUpper(m[1])), Span: types.Span{Start: lineNo}}
			continue
		}

		if curDivision != nil && curDivision.Name == types.DivisionProcedure {
			if m := sectionRe.FindStringSubmatch(raw); m != nil && !looksLikeDivisionHeader(raw) {
				closeOpenParagraph(lineNo - 1)
				closeSection(lineNo - 1)
				curSection = &types.Section{Name: strings.ToUpper(m[1]), ParentDivision: curDivision.Name, Span: types.Span{Start: lineNo}}
				continue
			}
			if m := paragraphRe.FindStringSubmatch(raw); m != nil {
				closeOpenParagraph(lineNo - 1)
				parentSection := ""
				if curSection != nil {
					parentSection = curSection.Name
				}
				idx.Paragraphs = append(idx.Paragraphs, types.Paragraph{
					Name: strings.ToUpper(m[1]), ParentSection: parentSection, ParentDivision: curDivision.Name,
					Span: types.Span{Start: lineNo},
				})
				continue
			}
		} else if curDivision != nil {
			if m := sectionRe.FindStringSubmatch(raw); m != nil {
				closeSection(lineNo - 1)
				curSection = &types.Section{Name: strings.ToUpper(m[1]), ParentDivision: curDivision.Name, Span: types.Span{Start: lineNo}}
				continue
			}
		}

		if curDivision != nil && curDivision.Name == types.DivisionData {
			if m := dataItemRe.FindStringSubmatch(raw); m != nil {
				level, err := strconv.Atoi(m[1])
				if err == nil {
					name := strings.ToUpper(m[2])
					pic := ""
					if pm := picRe.FindStringSubmatch(m[3]); pm != nil {
						pic = pm[1]
					}
					parentLine := findParentLine(dataStack, level)
					item := types.DataItem{Level: level, Name: name, Line: lineNo, PicClause: pic, ParentLine: parentLine}
					idx.DataItems = append(idx.DataItems, item)
					dataStack = pushDataStack(dataStack, item)
				}
				continue
			}
		}
	}

	closeOpenParagraph(n)
	closeSection(n)
	closeDivision(n)

	return idx
}

// looksLikeDivisionHeader guards the section-header pattern from
// accidentally matching a DIVISION header line (both end in "<word> ... .").
func looksLikeDivisionHeader(raw string) bool {
	return divisionRe.MatchString(raw)
}

// commentClass classifies a line carrying a column-7 comment indicator.
// Header comments are the leading block of comments before any division;
// inline comments interrupt code; orphan comments trail after the last
// division closes. The indexer only has local context, so it conservatively
// reports "inline" for any `*`/`/` indicator line; the query engine
// reclassifies header/orphan using the surrounding StructuralIndex when a
// `comments --header`/`--orphan` query is issued.
func commentClass(raw string) types.CommentClass {
	if len(raw) >= 7 {
		c := raw[6]
		if c == '*' || c == '/' {
			return types.CommentInline
		}
	}
	return ""
}

// findParentLine walks the level-ordered stack to find the most recent
// item with a strictly smaller level than `level`; 88-level condition
// names bind to the most recent non-88/non-66 parent (spec.md §4.3 edge
// case).
func findParentLine(stack []types.DataItem, level int) int {
	for i := len(stack) - 1; i >= 0; i-- {
		candidate := stack[i]
		if level == 88 {
			if candidate.Level != 88 && candidate.Level != 66 && candidate.Level < 88 {
				return candidate.Line
			}
			continue
		}
		if candidate.Level < level {
			return candidate.Line
		}
	}
	return 0
}

// pushDataStack maintains a level-ordered stack: items with a level >= the
// new item's level are popped first (they cannot be its ancestor), unless
// the new item is itself level 88/66 which never pops deeper structure.
func pushDataStack(stack []types.DataItem, item types.DataItem) []types.DataItem {
	if item.Level == 88 || item.Level == 66 {
		return append(stack, item)
	}
	for len(stack) > 0 && stack[len(stack)-1].Level >= item.Level {
		stack = stack[:len(stack)-1]
	}
	return append(stack, item)
}
