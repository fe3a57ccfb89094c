// Package query implements the L10 Query Engine: dispatch of the command
// surface in spec.md §6 over a Workspace snapshot. Listing queries read
// only the StructuralIndex; body queries read source lines for a resolved
// span; semantic queries invoke the Chunk Analyzer on demand; none of them
// trigger a full parse.
//
// Grounded on the teacher's internal/cli/dispatcher.go `Output` result
// shape (Results/ExitCode/Error) and internal/parser/universal.go's
// query-object-plus-dispatch pattern, generalized from "transform rules"
// to "read-only structural/semantic questions".
package query

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/oxhq/coqu/internal/analyzer"
	"github.com/oxhq/coqu/internal/errs"
	"github.com/oxhq/coqu/internal/types"
	"github.com/oxhq/coqu/internal/workspace"
)

// Item is one row of a query result. Not every field applies to every
// query; zero-valued fields are simply omitted by presentation layers.
type Item struct {
	Name   string `json:"name,omitempty"`
	Parent string `json:"parent,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Line   int    `json:"line,omitempty"`
	EndLine int   `json:"end_line,omitempty"`
	Text   string `json:"text,omitempty"`
	Target string `json:"target,omitempty"`
	Source string `json:"source,omitempty"`
}

// Result is the structured outcome of one query, mirroring the teacher's
// dispatcher `Output` shape (Results/ExitCode/Error) generalized to
// read-only queries.
type Result struct {
	Items    []Item
	Count    int
	ExitCode int
	Err      error
}

// Query is a pre-tokenized command: the tokenizer itself is an external
// collaborator per spec.md §1/§6.
type Query struct {
	Program     string
	Command     string
	Args        []string
	Flags       map[string]string // presence-only flags map to ""
	LineNumbers bool
	CountOnly   bool
}

func (q Query) flag(name string) (string, bool) {
	v, ok := q.Flags[name]
	return v, ok
}

// Engine dispatches queries against a Workspace.
type Engine struct {
	ws *workspace.Workspace
}

// New creates an Engine reading from ws.
func New(ws *workspace.Workspace) *Engine {
	return &Engine{ws: ws}
}

// Execute dispatches q to its handler and applies the --count/--line-numbers
// modifiers uniformly (spec.md §6 "modifiers on every query").
func (e *Engine) Execute(q Query) *Result {
	prog, err := e.ws.Get(q.Program)
	if err != nil {
		return &Result{ExitCode: 3, Err: err}
	}

	handler, ok := handlers[q.Command]
	if !ok {
		return &Result{ExitCode: 2, Err: errs.New(errs.KindUsage, fmt.Sprintf("unknown query %q", q.Command))}
	}

	res, err := handler(prog, q)
	if err != nil {
		var code int
		if c, ok := err.(*errs.Coqu); ok && c.Kind == errs.KindQueryMiss {
			code = 0 // structured empty result, not an error (spec.md §7)
		} else {
			code = 4
		}
		if res == nil {
			res = &Result{}
		}
		res.Err = err
		res.ExitCode = code
		return res
	}

	res.Count = len(res.Items)
	if !q.LineNumbers {
		for i := range res.Items {
			res.Items[i].Line = stripLine(res.Items[i].Line, q.LineNumbers)
			res.Items[i].EndLine = stripLine(res.Items[i].EndLine, q.LineNumbers)
		}
	}
	if q.CountOnly {
		res.Items = nil
	}
	return res
}

func stripLine(n int, keep bool) int {
	if keep {
		return n
	}
	return 0
}

type handlerFunc func(prog *types.Program, q Query) (*Result, error)

var handlers = map[string]handlerFunc{
	"divisions":        handleDivisions,
	"division":         handleDivision,
	"sections":         handleSections,
	"section":          handleSection,
	"paragraphs":       handleParagraphs,
	"paragraph":        handleParagraph,
	"working-storage":  handleWorkingStorage,
	"variable":         handleVariable,
	"file-section":     handleFileSection,
	"linkage":          handleLinkage,
	"copybooks":        handleCopybooks,
	"copybook":         handleCopybook,
	"copybook-deps":    handleCopybookDeps,
	"calls":            handleCalls,
	"performs":         handlePerforms,
	"moves":            handleMoves,
	"sql":              handleSQL,
	"cics":             handleCICS,
	"comments":         handleComments,
	"find":             handleFind,
	"references":       handleReferences,
}

func handleDivisions(prog *types.Program, q Query) (*Result, error) {
	var items []Item
	for _, d := range prog.Index.Divisions {
		items = append(items, Item{Name: string(d.Name), Line: d.Span.Start, EndLine: d.Span.End, Kind: "division"})
	}
	return &Result{Items: items}, nil
}

func findDivision(prog *types.Program, name string) (*types.Division, bool) {
	for i := range prog.Index.Divisions {
		if strings.EqualFold(string(prog.Index.Divisions[i].Name), name) {
			return &prog.Index.Divisions[i], true
		}
	}
	return nil, false
}

func handleDivision(prog *types.Program, q Query) (*Result, error) {
	if len(q.Args) == 0 {
		return nil, errs.New(errs.KindUsage, "division requires a name")
	}
	d, ok := findDivision(prog, q.Args[0])
	if !ok {
		return nil, errs.New(errs.KindQueryMiss, fmt.Sprintf("division %q not found", q.Args[0]))
	}
	item := Item{Name: string(d.Name), Line: d.Span.Start, EndLine: d.Span.End, Kind: "division"}
	if _, body := q.flag("body"); body {
		item.Text = sourceSlice(prog, d.Span)
	}
	return &Result{Items: []Item{item}}, nil
}

func handleSections(prog *types.Program, q Query) (*Result, error) {
	filter, hasFilter := q.flag("division")
	var items []Item
	for _, s := range prog.Index.Sections {
		if hasFilter && !strings.EqualFold(string(s.ParentDivision), filter) {
			continue
		}
		items = append(items, Item{Name: s.Name, Parent: string(s.ParentDivision), Line: s.Span.Start, EndLine: s.Span.End, Kind: "section"})
	}
	return &Result{Items: items}, nil
}

func findSection(prog *types.Program, name string) (*types.Section, bool) {
	for i := range prog.Index.Sections {
		if strings.EqualFold(prog.Index.Sections[i].Name, name) {
			return &prog.Index.Sections[i], true
		}
	}
	return nil, false
}

func handleSection(prog *types.Program, q Query) (*Result, error) {
	if len(q.Args) == 0 {
		return nil, errs.New(errs.KindUsage, "section requires a name")
	}
	s, ok := findSection(prog, q.Args[0])
	if !ok {
		return nil, errs.New(errs.KindQueryMiss, fmt.Sprintf("section %q not found", q.Args[0]))
	}
	item := Item{Name: s.Name, Parent: string(s.ParentDivision), Line: s.Span.Start, EndLine: s.Span.End, Kind: "section"}
	if _, body := q.flag("body"); body {
		item.Text = sourceSlice(prog, s.Span)
	}
	return &Result{Items: []Item{item}}, nil
}

func handleParagraphs(prog *types.Program, q Query) (*Result, error) {
	filter, hasFilter := q.flag("section")
	var items []Item
	for _, p := range prog.Index.Paragraphs {
		if hasFilter && !strings.EqualFold(p.ParentSection, filter) {
			continue
		}
		items = append(items, Item{Name: p.Name, Parent: p.ParentSection, Line: p.Span.Start, EndLine: p.Span.End, Kind: "paragraph"})
	}
	return &Result{Items: items}, nil
}

func findParagraph(prog *types.Program, name string) (*types.Paragraph, bool) {
	for i := range prog.Index.Paragraphs {
		if strings.EqualFold(prog.Index.Paragraphs[i].Name, name) {
			return &prog.Index.Paragraphs[i], true
		}
	}
	return nil, false
}

func handleParagraph(prog *types.Program, q Query) (*Result, error) {
	if len(q.Args) == 0 {
		return nil, errs.New(errs.KindUsage, "paragraph requires a name")
	}
	p, ok := findParagraph(prog, q.Args[0])
	if !ok {
		return nil, errs.New(errs.KindQueryMiss, fmt.Sprintf("paragraph %q not found", q.Args[0]))
	}
	item := Item{Name: p.Name, Parent: p.ParentSection, Line: p.Span.Start, EndLine: p.Span.End, Kind: "paragraph"}
	if _, body := q.flag("body"); body {
		item.Text = sourceSlice(prog, p.Span)
	}

	items := []Item{item}

	if _, calls := q.flag("calls"); calls {
		for _, ref := range chunkRefs(prog, p.Name, p.Span) {
			if isCallKind(ref.Kind) {
				items = append(items, Item{Name: ref.Source, Target: ref.Target, Kind: string(ref.Kind), Line: ref.Line})
			}
		}
	}
	if _, calledBy := q.flag("called-by"); calledBy {
		items = append(items, callersOf(prog, p.Name)...)
	}
	if _, analyze := q.flag("analyze"); analyze {
		for _, ref := range chunkRefs(prog, p.Name, p.Span) {
			items = append(items, Item{Name: ref.Source, Target: ref.Target, Kind: string(ref.Kind), Line: ref.Line})
		}
	}
	return &Result{Items: items}, nil
}

// chunkRefs runs the Chunk Analyzer over a paragraph/section span, preferring
// AST-derived edges when prog.AST is already populated (spec.md §4.5).
func chunkRefs(prog *types.Program, chunkName string, span types.Span) []types.Reference {
	text := sourceSlice(prog, span)
	if prog.AST == nil {
		return analyzer.Analyze(chunkName, text, span.Start, nil)
	}
	// prog.AST covers the whole program: keep only the edges inside span.
	var refs []types.Reference
	for _, ref := range analyzer.Analyze(chunkName, text, span.Start, prog.AST) {
		if span.Contains(ref.Line) {
			refs = append(refs, ref)
		}
	}
	return refs
}

func isCallKind(k types.RefKind) bool {
	return k == types.RefCallLiteral || k == types.RefCallIdent
}

// callersOf scans every paragraph's chunk for PERFORM edges targeting name
// (spec.md §6 `--called-by`).
func callersOf(prog *types.Program, name string) []Item {
	var items []Item
	for _, p := range prog.Index.Paragraphs {
		for _, ref := range chunkRefs(prog, p.Name, p.Span) {
			if ref.Kind != types.RefPerform && ref.Kind != types.RefPerformThru {
				continue
			}
			if strings.EqualFold(ref.Target, name) {
				items = append(items, Item{Name: p.Name, Target: ref.Target, Kind: string(ref.Kind), Line: ref.Line})
			}
		}
	}
	return items
}

func handleWorkingStorage(prog *types.Program, q Query) (*Result, error) {
	sec, ok := findSection(prog, "WORKING-STORAGE")
	if !ok {
		return &Result{}, nil
	}
	levelFilter, hasLevel := q.flag("level")
	var level int
	if hasLevel {
		level, _ = strconv.Atoi(levelFilter)
	}
	var items []Item
	for _, di := range prog.Index.DataItems {
		if !sec.Span.Contains(di.Line) {
			continue
		}
		if hasLevel && di.Level != level {
			continue
		}
		items = append(items, Item{Name: di.Name, Line: di.Line, Kind: fmt.Sprintf("%02d", di.Level), Text: di.PicClause})
	}
	return &Result{Items: items}, nil
}

func handleVariable(prog *types.Program, q Query) (*Result, error) {
	if len(q.Args) == 0 {
		return nil, errs.New(errs.KindUsage, "variable requires a name")
	}
	name := q.Args[0]
	var found *types.DataItem
	for i := range prog.Index.DataItems {
		if strings.EqualFold(prog.Index.DataItems[i].Name, name) {
			found = &prog.Index.DataItems[i]
			break
		}
	}
	if found == nil {
		return nil, errs.New(errs.KindQueryMiss, fmt.Sprintf("variable %q not found", name))
	}
	item := Item{Name: found.Name, Line: found.Line, Kind: fmt.Sprintf("%02d", found.Level), Text: found.PicClause}
	if _, body := q.flag("body"); body {
		item.Text = sourceSlice(prog, types.Span{Start: found.Line, End: found.Line})
	}
	items := []Item{item}
	if _, refs := q.flag("references"); refs {
		items = append(items, referencesTo(prog, name, true, true)...)
	}
	return &Result{Items: items}, nil
}

func handleFileSection(prog *types.Program, q Query) (*Result, error) {
	return sectionDataItems(prog, "FILE")
}

func handleLinkage(prog *types.Program, q Query) (*Result, error) {
	return sectionDataItems(prog, "LINKAGE")
}

func sectionDataItems(prog *types.Program, sectionName string) (*Result, error) {
	sec, ok := findSection(prog, sectionName)
	if !ok {
		return &Result{}, nil
	}
	var items []Item
	for _, di := range prog.Index.DataItems {
		if sec.Span.Contains(di.Line) {
			items = append(items, Item{Name: di.Name, Line: di.Line, Kind: fmt.Sprintf("%02d", di.Level), Text: di.PicClause})
		}
	}
	return &Result{Items: items}, nil
}

func handleCopybooks(prog *types.Program, q Query) (*Result, error) {
	var items []Item
	for _, c := range prog.Index.Copies {
		items = append(items, Item{Name: c.Name, Line: c.Line, Kind: string(c.Status), Text: c.ResolvedPath})
	}
	return &Result{Items: items}, nil
}

func handleCopybook(prog *types.Program, q Query) (*Result, error) {
	if len(q.Args) == 0 {
		return nil, errs.New(errs.KindUsage, "copybook requires a name")
	}
	name := q.Args[0]
	var match *types.CopyDirective
	for i := range prog.Index.Copies {
		if strings.EqualFold(prog.Index.Copies[i].Name, name) {
			match = &prog.Index.Copies[i]
			break
		}
	}
	if match == nil {
		return nil, errs.New(errs.KindQueryMiss, fmt.Sprintf("copybook %q not found", name))
	}
	item := Item{Name: match.Name, Line: match.Line, Kind: string(match.Status), Text: match.ResolvedPath}
	if _, contents := q.flag("contents"); contents && match.Status == types.CopyResolved {
		if body, err := os.ReadFile(match.ResolvedPath); err == nil {
			item.Text = string(body)
		}
	}
	items := []Item{item}
	if _, usedBy := q.flag("used-by"); usedBy {
		items = append(items, Item{Name: prog.Name, Target: match.Name, Line: match.Line, Kind: "used-by"})
	}
	return &Result{Items: items}, nil
}

// handleCopybookDeps renders the copy dependency graph for one program.
// The preprocessor flattens nested COPY expansion into a single ordered
// list rather than tracking parent->child nesting, so this is a one-level
// program->copybook edge set, not a true transitive tree (see DESIGN.md).
func handleCopybookDeps(prog *types.Program, q Query) (*Result, error) {
	format, _ := q.flag("format")
	var items []Item
	for _, c := range prog.Index.Copies {
		if c.Status != types.CopyResolved {
			continue
		}
		items = append(items, Item{Source: prog.Name, Target: c.Name, Line: c.Line, Kind: "copy"})
	}
	if format == "dot" {
		var b strings.Builder
		b.WriteString("digraph copybook_deps {\n")
		for _, it := range items {
			fmt.Fprintf(&b, "  %q -> %q;\n", it.Source, it.Target)
		}
		b.WriteString("}\n")
		return &Result{Items: []Item{{Kind: "dot", Text: b.String()}}}, nil
	}
	return &Result{Items: items}, nil
}

func handleCalls(prog *types.Program, q Query) (*Result, error) {
	_, external := q.flag("external")
	programFilter, hasProgramFilter := q.flag("program")
	if hasProgramFilter && !strings.EqualFold(prog.Name, programFilter) {
		return &Result{}, nil
	}
	var items []Item
	for _, p := range prog.Index.Paragraphs {
		for _, ref := range chunkRefs(prog, p.Name, p.Span) {
			if !isCallKind(ref.Kind) {
				continue
			}
			if external && ref.Kind != types.RefCallLiteral {
				continue
			}
			items = append(items, Item{Source: p.Name, Target: ref.Target, Kind: string(ref.Kind), Line: ref.Line})
		}
	}
	return &Result{Items: items}, nil
}

func handlePerforms(prog *types.Program, q Query) (*Result, error) {
	_, thru := q.flag("thru")
	paraFilter, hasParaFilter := q.flag("paragraph")
	var items []Item
	for _, p := range prog.Index.Paragraphs {
		if hasParaFilter && !strings.EqualFold(p.Name, paraFilter) {
			continue
		}
		for _, ref := range chunkRefs(prog, p.Name, p.Span) {
			if thru && ref.Kind != types.RefPerformThru {
				continue
			}
			if !thru && ref.Kind != types.RefPerform && ref.Kind != types.RefPerformThru {
				continue
			}
			items = append(items, Item{Source: p.Name, Target: ref.Target, Kind: string(ref.Kind), Line: ref.Line})
		}
	}
	return &Result{Items: items}, nil
}

func handleMoves(prog *types.Program, q Query) (*Result, error) {
	toFilter, hasTo := q.flag("to")
	fromFilter, hasFrom := q.flag("from")
	var items []Item
	for _, p := range prog.Index.Paragraphs {
		for _, ref := range chunkRefs(prog, p.Name, p.Span) {
			switch ref.Kind {
			case types.RefMoveTo:
				if hasTo && !strings.EqualFold(ref.Target, toFilter) {
					continue
				}
				items = append(items, Item{Source: p.Name, Target: ref.Target, Kind: string(ref.Kind), Line: ref.Line})
			case types.RefMoveFrom:
				if hasFrom && !strings.EqualFold(ref.Target, fromFilter) {
					continue
				}
				items = append(items, Item{Source: p.Name, Target: ref.Target, Kind: string(ref.Kind), Line: ref.Line})
			}
		}
	}
	return &Result{Items: items}, nil
}

func handleSQL(prog *types.Program, q Query) (*Result, error) {
	return execBlocks(prog, types.ExecSQL, q)
}

func handleCICS(prog *types.Program, q Query) (*Result, error) {
	return execBlocks(prog, types.ExecCICS, q)
}

func execBlocks(prog *types.Program, kind types.ExecKind, q Query) (*Result, error) {
	_, body := q.flag("body")
	var items []Item
	for _, ex := range prog.Index.Execs {
		if ex.Kind != kind {
			continue
		}
		item := Item{Line: ex.Span.Start, EndLine: ex.Span.End, Kind: string(ex.Kind)}
		if body {
			item.Text = ex.Body
		}
		items = append(items, item)
	}
	return &Result{Items: items}, nil
}

func handleComments(prog *types.Program, q Query) (*Result, error) {
	_, orphan := q.flag("orphan")
	_, header := q.flag("header")
	forName, hasFor := q.flag("for")

	var containingSpan *types.Span
	if hasFor {
		if d, ok := findDivision(prog, forName); ok {
			containingSpan = &d.Span
		} else if s, ok := findSection(prog, forName); ok {
			containingSpan = &s.Span
		} else if p, ok := findParagraph(prog, forName); ok {
			containingSpan = &p.Span
		}
	}

	comments := classifyComments(prog)

	var items []Item
	for _, c := range comments {
		if orphan && c.Class != types.CommentOrphan {
			continue
		}
		if header && c.Class != types.CommentHeader {
			continue
		}
		if containingSpan != nil && !containingSpan.Contains(c.Line) {
			continue
		}
		items = append(items, Item{Line: c.Line, Kind: string(c.Class), Text: c.Text})
	}
	return &Result{Items: items}, nil
}

// classifyComments reclassifies header/orphan comments using the
// surrounding StructuralIndex: comments before the first Division are
// "header"; comments after the last Division's end are "orphan"; the
// indexer itself only has local context and conservatively tags every
// comment "inline" (internal/indexer doc comment).
func classifyComments(prog *types.Program) []types.Comment {
	out := make([]types.Comment, len(prog.Index.Comments))
	copy(out, prog.Index.Comments)

	firstDivLine, lastDivEnd := 0, 0
	for _, d := range prog.Index.Divisions {
		if firstDivLine == 0 || d.Span.Start < firstDivLine {
			firstDivLine = d.Span.Start
		}
		if d.Span.End > lastDivEnd {
			lastDivEnd = d.Span.End
		}
	}
	for i := range out {
		switch {
		case firstDivLine > 0 && out[i].Line < firstDivLine:
			out[i].Class = types.CommentHeader
		case lastDivEnd > 0 && out[i].Line > lastDivEnd:
			out[i].Class = types.CommentOrphan
		}
	}
	return out
}

func handleFind(prog *types.Program, q Query) (*Result, error) {
	if len(q.Args) == 0 {
		return nil, errs.New(errs.KindUsage, "find requires a regex")
	}
	re, err := regexp.Compile(q.Args[0])
	if err != nil {
		return nil, errs.Wrap(errs.KindUsage, "invalid regex", err)
	}

	scope, hasScope := q.flag("in")
	var limit *types.Span
	if hasScope {
		if d, ok := findDivision(prog, scope); ok {
			limit = &d.Span
		} else if s, ok := findSection(prog, scope); ok {
			limit = &s.Span
		} else if p, ok := findParagraph(prog, scope); ok {
			limit = &p.Span
		}
	}

	lines := strings.Split(string(prog.Source), "\n")
	var items []Item
	for i, line := range lines {
		expandedLine := i + 1
		origin := prog.Origins.Resolve(expandedLine)
		origLine := origin.Line
		if origLine == 0 {
			origLine = expandedLine
		}
		if limit != nil && !limit.Contains(origLine) {
			continue
		}
		if re.MatchString(line) {
			items = append(items, Item{Line: origLine, Text: line})
		}
	}
	return &Result{Items: items}, nil
}

func handleReferences(prog *types.Program, q Query) (*Result, error) {
	if len(q.Args) == 0 {
		return nil, errs.New(errs.KindUsage, "references requires a name")
	}
	_, writes := q.flag("writes")
	_, reads := q.flag("reads")
	if !writes && !reads {
		writes, reads = true, true
	}
	return &Result{Items: referencesTo(prog, q.Args[0], writes, reads)}, nil
}

func referencesTo(prog *types.Program, name string, writes, reads bool) []Item {
	var items []Item
	for _, p := range prog.Index.Paragraphs {
		for _, ref := range chunkRefs(prog, p.Name, p.Span) {
			if !strings.EqualFold(ref.Target, name) {
				continue
			}
			switch ref.Kind {
			case types.RefMoveTo:
				if writes {
					items = append(items, Item{Source: p.Name, Target: ref.Target, Kind: string(ref.Kind), Line: ref.Line})
				}
			case types.RefMoveFrom:
				if reads {
					items = append(items, Item{Source: p.Name, Target: ref.Target, Kind: string(ref.Kind), Line: ref.Line})
				}
			}
		}
	}
	return items
}

// WhereUsed reverse-indexes the copybook search across every Program
// currently loaded in the workspace (spec.md §6 `where-used`). Unlike the
// other handlers this one is workspace-wide, not single-program, so it is
// not registered in the per-program `handlers` table.
func (e *Engine) WhereUsed(copybook string) *Result {
	var items []Item
	for _, summary := range e.ws.List() {
		prog, err := e.ws.Get(summary.Name)
		if err != nil {
			continue
		}
		for _, c := range prog.Index.Copies {
			if strings.EqualFold(c.Name, copybook) {
				items = append(items, Item{Source: prog.Name, Target: c.Name, Line: c.Line, Kind: string(c.Status)})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Source < items[j].Source })
	return &Result{Items: items, Count: len(items)}
}

func sourceSlice(prog *types.Program, span types.Span) string {
	lines := strings.Split(string(prog.Source), "\n")
	start, end := span.Start, span.End
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if end < start {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
