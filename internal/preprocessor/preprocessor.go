// Package preprocessor implements the L3 Preprocessor: COPY/REPLACING
// expansion, REPLACE ... OFF, EXEC SQL/CICS/DLI pass-through, and the
// OriginMap that ties expanded lines back to their source file and line.
//
// Grounded on the teacher's internal/parser/universal.go tokenizer/parser
// split (manual recursive structure rather than a generated grammar) and
// internal/util/remap.go's index-remapping discipline, generalized here
// from byte offsets to line numbers.
package preprocessor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/oxhq/coqu/internal/errs"
	"github.com/oxhq/coqu/internal/format"
	"github.com/oxhq/coqu/internal/types"
)

// copyExtensions are tried in order, per spec.md §4.2.
var copyExtensions = []string{".cpy", ".copy", ".CPY", ".COPY", ""}

var (
	copyDirectiveRe = regexp.MustCompile(`(?is)\bCOPY\s+([A-Z0-9][A-Z0-9-]*)(?:\s+OF\s+([A-Z0-9][A-Z0-9-]*))?(\s+REPLACING\s+.*?)?\.`)
	replaceOnRe     = regexp.MustCompile(`(?is)\bREPLACE\s+(==.*?==\s+BY\s+==.*?==(?:\s*,?\s*==.*?==\s+BY\s+==.*?==)*)\s*\.`)
	replaceOffRe    = regexp.MustCompile(`(?i)\bREPLACE\s+OFF\s*\.`)
	execStartRe     = regexp.MustCompile(`(?i)\bEXEC\s+(SQL|CICS|DLI)\b`)
	execEndRe       = regexp.MustCompile(`(?i)END-EXEC\b\.?`)
	pseudoPairRe    = regexp.MustCompile(`(?s)==(.*?)==\s+BY\s+==(.*?)==`)
)

// Resolver locates copybooks on the configured search paths.
type Resolver struct {
	SearchPaths []string
}

// Resolve finds the first matching file for a copybook name, trying each
// search root with each allowed extension, first match wins.
func (r *Resolver) Resolve(name, library string) (string, bool) {
	candidates := []string{name}
	if library != "" {
		candidates = []string{filepath.Join(library, name)}
	}
	for _, root := range r.SearchPaths {
		for _, cand := range candidates {
			for _, ext := range copyExtensions {
				p := filepath.Join(root, cand+ext)
				if st, err := os.Stat(p); err == nil && !st.IsDir() {
					return p, true
				}
			}
		}
	}
	return "", false
}

// replacePair is one REPLACING/REPLACE substitution.
type replacePair struct {
	from        string
	to          string
	partialWord bool // :TAG: form
}

// Result is the output of expansion: the line-flattened expanded source,
// the map back to pre-expansion (file, line), and the directives/blocks
// discovered along the way.
type Result struct {
	Lines      []string
	Origins    *types.OriginMap
	Copies     []types.CopyDirective
	Execs      []types.ExecBlock
	Unresolved []types.CopyDirective
}

// Preprocessor expands COPY/REPLACE/REPLACING and passes EXEC blocks
// through verbatim.
type Preprocessor struct {
	resolver *Resolver
	maxDepth int
}

// New creates a Preprocessor searching the given copybook roots.
func New(searchPaths []string) *Preprocessor {
	return &Preprocessor{resolver: &Resolver{SearchPaths: searchPaths}, maxDepth: 64}
}

type expansionState struct {
	active  map[string]bool // copybook names currently being expanded (cycle guard)
	result  *Result
	outLine int // next expanded line number to assign
}

// Expand runs preprocessing over already-normalized lines from a root
// program file. programPath identifies the root file for OriginMap
// entries.
func (p *Preprocessor) Expand(programPath string, lines []format.NormalizedLine) (*Result, error) {
	st := &expansionState{
		active: map[string]bool{},
		result: &Result{Origins: types.NewOriginMap(len(lines) * 2)},
	}
	globalTable := []replacePair{} // REPLACE ... OFF scope, program-wide
	if err := p.expandLines(programPath, lines, &globalTable, st, 0); err != nil {
		return nil, err
	}
	return st.result, nil
}

// expandLines processes one file's normalized lines, recursing into COPY
// targets. depth guards against runaway nesting independent of the
// same-name cycle check (e.g. a long chain of distinct copybooks).
func (p *Preprocessor) expandLines(path string, lines []format.NormalizedLine, globalTable *[]replacePair, st *expansionState, depth int) error {
	if depth > p.maxDepth {
		return errs.New(errs.KindCyclicCopy, "copybook nesting exceeds maximum depth").At(path, 0, 0)
	}

	i := 0
	for i < len(lines) {
		nl := lines[i]
		text := nl.Text

		if nl.CommentCol > 0 {
			st.emit(applyTable(text, *globalTable), path, nl.OriginalLine)
			i++
			continue
		}

		if loc := execStartRe.FindStringIndex(text); loc != nil {
			blockLines, consumed, ok := p.collectExecBlock(lines, i)
			if ok {
				kind := types.ExecKind(strings.ToUpper(execStartRe.FindStringSubmatch(text)[1]))
				startOrig := nl.OriginalLine
				body := strings.Join(blockLines, "\n")
				for _, bl := range lines[i : i+consumed] {
					st.emit(bl.Text, path, bl.OriginalLine)
				}
				endOrig := lines[i+consumed-1].OriginalLine
				st.result.Execs = append(st.result.Execs, types.ExecBlock{
					Kind: kind,
					Span: types.Span{Start: startOrig, End: endOrig},
					Body: body,
				})
				i += consumed
				continue
			}
		}

		if replaceOffRe.MatchString(text) {
			*globalTable = nil
			st.emit(text, path, nl.OriginalLine)
			i++
			continue
		}

		if m := replaceOnRe.FindStringSubmatch(text); m != nil {
			pairs := parsePseudoPairs(m[1])
			*globalTable = pairs
			st.emit(text, path, nl.OriginalLine)
			i++
			continue
		}

		if m, span, consumed, complete := p.matchCopyDirective(lines, i); complete {
			name, library, replacingClause := m[1], m[2], strings.TrimSpace(m[3])
			localPairs := parseReplacingClause(replacingClause)

			directiveLine := nl.OriginalLine
			resolvedPath, ok := p.resolver.Resolve(name, library)
			if !ok {
				st.result.Unresolved = append(st.result.Unresolved, types.CopyDirective{
					Name: name, Line: directiveLine, Replacing: replacingClause, Status: types.CopyUnresolved,
				})
				st.result.Copies = append(st.result.Copies, types.CopyDirective{
					Name: name, Line: directiveLine, Replacing: replacingClause, Status: types.CopyUnresolved,
				})
				st.emit(fmt.Sprintf("      * [unresolved COPY %s]", name), path, directiveLine)
				i += consumed
				continue
			}

			if st.active[strings.ToUpper(name)] {
				st.result.Copies = append(st.result.Copies, types.CopyDirective{
					Name: name, Line: directiveLine, Replacing: replacingClause, Status: types.CopyCyclic, ResolvedPath: resolvedPath,
				})
				st.emit(fmt.Sprintf("      * [cyclic COPY %s skipped]", name), path, directiveLine)
				i += consumed
				continue
			}

			raw, err := os.ReadFile(resolvedPath)
			if err != nil {
				return errs.Wrap(errs.KindFileAccess, "reading resolved copybook", err).At(resolvedPath, 0, 0)
			}
			copyLines, err := splitKeepLines(string(raw))
			if err != nil {
				return err
			}
			detected := format.Detect(copyLines)
			normalized := format.Normalize(copyLines, detected)

			st.result.Copies = append(st.result.Copies, types.CopyDirective{
				Name: name, Line: directiveLine, Replacing: replacingClause, Status: types.CopyResolved, ResolvedPath: resolvedPath,
			})

			st.active[strings.ToUpper(name)] = true
			combinedTable := append(append([]replacePair{}, *globalTable...), localPairs...)
			nestedGlobal := append([]replacePair{}, *globalTable...)
			for idx := range normalized {
				normalized[idx].Text = applyTable(normalized[idx].Text, combinedTable)
			}
			if err := p.expandLines(resolvedPath, normalized, &nestedGlobal, st, depth+1); err != nil {
				delete(st.active, strings.ToUpper(name))
				return err
			}
			delete(st.active, strings.ToUpper(name))

			_ = span
			i += consumed
			continue
		}

		st.emit(applyTable(text, *globalTable), path, nl.OriginalLine)
		i++
	}
	return nil
}

// emit appends one expanded line and records its origin.
func (st *expansionState) emit(text, file string, origLine int) {
	st.result.Lines = append(st.result.Lines, text)
	st.outLine++
	st.result.Origins.Set(st.outLine, file, origLine)
}

// matchCopyDirective looks for a COPY ... . directive possibly spanning
// multiple physical lines (accumulated until a line ending in '.').
func (p *Preprocessor) matchCopyDirective(lines []format.NormalizedLine, start int) ([]string, types.Span, int, bool) {
	if !regexp.MustCompile(`(?i)\bCOPY\b`).MatchString(lines[start].Text) {
		return nil, types.Span{}, 0, false
	}
	var acc strings.Builder
	end := start
	for j := start; j < len(lines) && j < start+20; j++ {
		acc.WriteString(lines[j].Text)
		acc.WriteString(" ")
		end = j
		if strings.Contains(lines[j].Text, ".") {
			break
		}
	}
	m := copyDirectiveRe.FindStringSubmatch(acc.String())
	if m == nil {
		return nil, types.Span{}, 0, false
	}
	return m, types.Span{Start: lines[start].OriginalLine, End: lines[end].OriginalLine}, end - start + 1, true
}

// collectExecBlock accumulates lines from an EXEC header through the
// matching END-EXEC, inclusive.
func (p *Preprocessor) collectExecBlock(lines []format.NormalizedLine, start int) ([]string, int, bool) {
	var body []string
	for j := start; j < len(lines); j++ {
		body = append(body, lines[j].Text)
		if execEndRe.MatchString(lines[j].Text) {
			return body, j - start + 1, true
		}
	}
	return nil, 0, false
}

// parseReplacingClause parses "REPLACING ==a== BY ==b== [, ==c== BY ==d==]"
// text (the clause captured inline with a COPY directive).
func parseReplacingClause(clause string) []replacePair {
	clause = regexp.MustCompile(`(?i)^\s*REPLACING\s+`).ReplaceAllString(clause, "")
	return parsePseudoPairs(clause)
}

// parsePseudoPairs parses a sequence of "==from== BY ==to==" pairs,
// whitespace-insensitive inside the delimiters, recognizing the partial-word
// ":TAG:" form (spec.md §4.2, COBOL-85 §6.3.4).
func parsePseudoPairs(s string) []replacePair {
	var pairs []replacePair
	for _, m := range pseudoPairRe.FindAllStringSubmatch(s, -1) {
		from := collapseWhitespace(m[1])
		to := collapseWhitespace(m[2])
		partial := strings.HasPrefix(from, ":") && strings.HasSuffix(from, ":") && len(from) > 2
		if partial {
			from = strings.Trim(from, ":")
		}
		pairs = append(pairs, replacePair{from: from, to: to, partialWord: partial})
	}
	return pairs
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// applyTable applies a scoped REPLACING/REPLACE table to one line of text.
// Matching for whole-token pairs is whitespace-insensitive and
// case-insensitive (pseudo-text semantics); partial-word pairs substitute
// a literal substring anywhere within a larger token.
func applyTable(text string, pairs []replacePair) string {
	if len(pairs) == 0 {
		return text
	}
	out := text
	for _, pr := range pairs {
		if pr.from == "" {
			continue
		}
		if pr.partialWord {
			out = replaceCaseInsensitive(out, pr.from, pr.to)
			continue
		}
		pattern := regexp.QuoteMeta(pr.from)
		pattern = strings.ReplaceAll(pattern, ` `, `\s+`)
		re := regexp.MustCompile(`(?i)\b` + pattern + `\b`)
		out = re.ReplaceAllString(out, pr.to)
	}
	return out
}

func replaceCaseInsensitive(s, old, new string) string {
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(old))
	return re.ReplaceAllString(s, new)
}

func splitKeepLines(s string) ([]string, error) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n"), nil
}
