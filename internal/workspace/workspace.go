// Package workspace implements the L9 Workspace Registry: the
// program-name -> Program mapping, copybook search roots, and the
// load/load_glob/unload/reload/list operations of spec.md §4.7.
//
// Grounded on internal/scanner/scanner.go (gitignore-aware directory
// walking, symlink handling, dedup) generalized from "files to transform"
// to "programs to index", and internal/cli/dispatcher.go's worker-pool
// batch-processing shape for parallel multi-file loads (spec.md §5: "a
// batch load of multiple files may parallelize at the file granularity").
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/oxhq/coqu/internal/cache"
	"github.com/oxhq/coqu/internal/config"
	"github.com/oxhq/coqu/internal/errs"
	"github.com/oxhq/coqu/internal/format"
	"github.com/oxhq/coqu/internal/indexer"
	"github.com/oxhq/coqu/internal/parser"
	"github.com/oxhq/coqu/internal/preprocessor"
	"github.com/oxhq/coqu/internal/reader"
	"github.com/oxhq/coqu/internal/store"
	"github.com/oxhq/coqu/internal/types"
)

// Phase is the passive progress indicator of spec.md §9 ("Callback-threaded
// progress → passive observer"): the external UI may poll it; it plays no
// part in correctness.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseIndexing Phase = "indexing"
	PhaseCaching Phase = "caching"
)

// Workspace owns all loaded Programs exclusively (spec.md §3 ownership
// note).
type Workspace struct {
	mu        sync.RWMutex
	programs  map[string]*types.Program
	copyPaths []string
	pathsMu   sync.Mutex // guards copyPaths

	ctx     *config.Context
	cache   *cache.Manager
	history *store.Store // optional; nil disables audit recording

	phase atomic.Value
}

// New creates an empty Workspace.
func New(ctx *config.Context, cacheMgr *cache.Manager, hist *store.Store) *Workspace {
	w := &Workspace{
		programs: map[string]*types.Program{},
		ctx:      ctx,
		cache:    cacheMgr,
		history:  hist,
	}
	w.phase.Store(PhaseIdle)
	return w
}

// Phase reports the current passive progress indicator.
func (w *Workspace) Phase() Phase { return w.phase.Load().(Phase) }

func (w *Workspace) setPhase(p Phase) { w.phase.Store(p) }

// AddCopyPath appends a copybook search root, holding pathsMu for the whole
// call. It does not wait for active loads: Load takes a snapshot of the list
// when it starts, so a root added during a load applies to later loads only.
func (w *Workspace) AddCopyPath(path string) {
	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()
	w.copyPaths = append(w.copyPaths, path)
}

// ClearCopyPaths empties the copybook search root list.
func (w *Workspace) ClearCopyPaths() {
	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()
	w.copyPaths = nil
}

// CopyPaths returns a snapshot of the current search roots.
func (w *Workspace) CopyPaths() []string {
	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()
	out := make([]string, len(w.copyPaths))
	copy(out, w.copyPaths)
	return out
}

// Load performs Source Reader -> Format Normalizer -> hash -> Cache.Get,
// rehydrating on a hit or running Preprocessor+Indexer on a miss (spec.md
// §4.7). Full parsing is deferred unless full is true. Load is cancellable
// at two safe points: after format detection, and after structural
// indexing (spec.md §5).
func (w *Workspace) Load(ctx context.Context, path string, full bool) (*types.Program, error) {
	defer w.setPhase(PhaseIdle)
	w.setPhase(PhaseLoading)

	src, err := reader.Read(path)
	if err != nil {
		return nil, err
	}

	sourceFormat := format.Detect(src.Lines)
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}

	if entry, hit := w.cache.Get(src.Hash); hit {
		prog := w.rehydrate(path, src, entry)
		w.register(prog)
		w.recordHistory(prog, "load", true, "")
		return prog, nil
	}

	w.setPhase(PhaseIndexing)
	normalized := format.Normalize(src.Lines, sourceFormat)
	pp := preprocessor.New(append(w.CopyPaths(), filepath.Dir(path)))
	result, err := pp.Expand(path, normalized)
	if err != nil {
		return nil, err
	}

	idx := indexer.Build(result.Lines)
	idx.Copies = result.Copies
	idx.Execs = append(idx.Execs, result.Execs...)

	if err := checkCancel(ctx); err != nil {
		return nil, err
	}

	prog := &types.Program{
		Name:             deriveName(path),
		Path:             path,
		Hash:             src.Hash,
		Lines:            len(src.Lines),
		Format:           sourceFormat,
		Source:           []byte(strings.Join(result.Lines, "\n")),
		Origins:          result.Origins,
		Index:            idx,
		UnresolvedCopies: result.Unresolved,
		LoadedAt:         time.Now(),
	}

	if full {
		front := parser.NewFrontend()
		prog.AST = front.ParseFull(result.Lines)
	}

	w.setPhase(PhaseCaching)
	entry := &types.CacheEntry{
		Meta: types.CacheMeta{
			SourcePath: path, SourceHash: src.Hash, Lines: prog.Lines,
			Format: sourceFormat, ToolVersion: w.ctx.ToolVersion, CachedAt: time.Now(),
		},
		Index: idx,
		AST:   prog.AST,
	}
	if err := w.cache.Put(src.Hash, entry); err != nil {
		// CacheError degrades silently per spec.md §7; the Program is still usable.
		_ = err
	}

	w.register(prog)
	w.recordHistory(prog, "load", false, "")
	return prog, nil
}

// rehydrate reconstructs a Program from a cache hit plus a freshly read
// source: the cached index and AST are reused, and the source is normalized
// and re-expanded (needed for body/search queries, which the cache entry
// does not retain). If re-expansion fails, the raw lines are kept.
func (w *Workspace) rehydrate(path string, src *reader.Source, entry *types.CacheEntry) *types.Program {
	prog := &types.Program{
		Name:    deriveName(path),
		Path:    path,
		Hash:    src.Hash,
		Lines:   len(src.Lines),
		Format:  entry.Meta.Format,
		Source:  []byte(strings.Join(src.Lines, "\n")),
		Origins: types.NewOriginMap(0),
		Index:   entry.Index,
		AST:     entry.AST,
		LoadedAt: time.Now(),
	}
	pp := preprocessor.New(append(w.CopyPaths(), filepath.Dir(path)))
	if result, err := pp.Expand(path, format.Normalize(src.Lines, entry.Meta.Format)); err == nil {
		prog.Source = []byte(strings.Join(result.Lines, "\n"))
		prog.Origins = result.Origins
		prog.UnresolvedCopies = result.Unresolved
	}
	return prog
}

// register assigns a unique workspace name (uppercased file stem,
// uniquified with a numeric suffix on collision) and stores the Program.
func (w *Workspace) register(prog *types.Program) {
	w.mu.Lock()
	defer w.mu.Unlock()

	base := prog.Name
	name := base
	suffix := 1
	for {
		if _, exists := w.programs[name]; !exists {
			break
		}
		suffix++
		name = base + "-" + strconv.Itoa(suffix)
	}
	prog.Name = name
	w.programs[name] = prog
}

// LoadGlob resolves a doublestar glob pattern and loads every matching
// file (spec.md §4.7 `load_glob`).
func (w *Workspace) LoadGlob(ctx context.Context, pattern string) ([]*types.Program, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, errs.Wrap(errs.KindUsage, "invalid glob pattern", err)
	}
	return w.loadBatch(ctx, matches)
}

// LoadDir recursively loads every file under dir, honoring the nearest
// .gitignore the way internal/scanner.go does, skipping hidden and
// cache/vendor-style directories.
func (w *Workspace) LoadDir(ctx context.Context, dir string) ([]*types.Program, error) {
	gi := loadGitignore(dir)
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		if d.IsDir() {
			if d.Name() != "." && (strings.HasPrefix(d.Name(), ".") || d.Name() == "vendor" || d.Name() == "node_modules") {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindFileAccess, "walking directory", err)
	}
	return w.loadBatch(ctx, files)
}

func loadGitignore(dir string) *ignore.GitIgnore {
	p := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(p)
	if err != nil {
		return nil
	}
	return gi
}

// loadBatch parallelizes loads at file granularity across a bounded worker
// pool (spec.md §5), one goroutine's parse pipeline remaining sequential.
func (w *Workspace) loadBatch(ctx context.Context, files []string) ([]*types.Program, error) {
	numWorkers := runtime.NumCPU()
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}
	if numWorkers == 0 {
		return nil, nil
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var results []*types.Program
	var firstErr error

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				prog, err := w.Load(ctx, path, false)
				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = err
				} else if prog != nil {
					results = append(results, prog)
				}
				mu.Unlock()
			}
		}()
	}
	for _, f := range files {
		jobs <- f
	}
	close(jobs)
	wg.Wait()

	return results, firstErr
}

// Unload removes a Program from the registry. Unloading a name that was
// never loaded is a QueryMiss, not an error that changes workspace state.
func (w *Workspace) Unload(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.programs[name]; !ok {
		return errs.New(errs.KindQueryMiss, fmt.Sprintf("program %q not loaded", name))
	}
	delete(w.programs, name)
	return nil
}

// Reload re-runs Load for an already-loaded program's path, bypassing the
// cache read but writing the refreshed entry, then atomically swapping the
// pointer in the registry: the old Program remains queryable until the new
// one is fully built (spec.md §4.7, §5).
func (w *Workspace) Reload(ctx context.Context, name string) (*types.Program, error) {
	w.mu.RLock()
	old, ok := w.programs[name]
	w.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindQueryMiss, fmt.Sprintf("program %q not loaded", name))
	}

	if err := w.cache.Delete(old.Hash); err != nil {
		return nil, err
	}

	fresh, err := w.Load(ctx, old.Path, old.AST != nil)
	if err != nil {
		return nil, err
	}

	diff := unifiedDiff(string(old.Source), string(fresh.Source), old.Path)

	w.mu.Lock()
	delete(w.programs, fresh.Name) // register() may have uniquified; collapse back onto old name
	fresh.Name = name
	w.programs[name] = fresh
	w.mu.Unlock()

	w.recordHistory(fresh, "reload", false, diff)
	return fresh, nil
}

// ReloadAll reloads every currently loaded program.
func (w *Workspace) ReloadAll(ctx context.Context) ([]*types.Program, error) {
	w.mu.RLock()
	names := make([]string, 0, len(w.programs))
	for n := range w.programs {
		names = append(names, n)
	}
	w.mu.RUnlock()

	var out []*types.Program
	for _, n := range names {
		p, err := w.Reload(ctx, n)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// List returns a lightweight summary of every loaded Program.
func (w *Workspace) List() []types.ProgramSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]types.ProgramSummary, 0, len(w.programs))
	for _, p := range w.programs {
		out = append(out, types.ProgramSummary{
			Name: p.Name, Path: p.Path, Hash: p.Hash, Lines: p.Lines,
			Format: p.Format, HasAST: p.AST != nil,
		})
	}
	return out
}

// Get returns a loaded Program by name, or a QueryMiss error.
func (w *Workspace) Get(name string) (*types.Program, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.programs[name]
	if !ok {
		return nil, errs.New(errs.KindQueryMiss, fmt.Sprintf("program %q not loaded", name))
	}
	return p, nil
}

func (w *Workspace) recordHistory(prog *types.Program, event string, cacheHit bool, diff string) {
	if w.history == nil {
		return
	}
	ev := store.LoadEvent{
		ProgramName: prog.Name, Path: prog.Path, Hash: prog.Hash,
		Lines: prog.Lines, Format: string(prog.Format),
		Event: event, CacheHit: cacheHit, Diff: diff,
	}
	if prog.AST != nil {
		ev.Degraded = prog.AST.Degraded
		var lines []int
		for _, d := range prog.AST.Diagnostics {
			lines = append(lines, d.Line)
		}
		ev.Diagnostics = store.EncodeDiagnostics(store.DiagnosticSummary{Count: len(prog.AST.Diagnostics), Lines: lines})
	}
	_ = w.history.Record(ev)
}

func deriveName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ToUpper(stem)
}

func checkCancel(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.KindInterrupted, "load cancelled", ctx.Err())
	default:
		return nil
	}
}

func unifiedDiff(oldText, newText, path string) string {
	d := difflib.UnifiedDiff{
		A: difflib.SplitLines(oldText), B: difflib.SplitLines(newText),
		FromFile: path + " (previous)", ToFile: path + " (reloaded)", Context: 3,
	}
	text, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return ""
	}
	return text
}
