// Command coqu is a one-shot reference driver exercising the core library
// end to end: load a program, run one query command, print the structured
// result. It is deliberately not the interactive REPL described in
// spec.md §1 — no tab completion, history file, or script reader; those
// remain external collaborators. Flag parsing here is a minimal smoke-test
// surface, grounded on cmd/parser/main.go's cobra wiring shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oxhq/coqu/internal/cache"
	"github.com/oxhq/coqu/internal/config"
	"github.com/oxhq/coqu/internal/query"
	"github.com/oxhq/coqu/internal/store"
	"github.com/oxhq/coqu/internal/workspace"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		loadPath     string
		configPath   string
		copyPaths    []string
		flagPairs    []string
		full         bool
		lineNumbers  bool
		countOnly    bool
		debug        bool
	)

	root := &cobra.Command{
		Use:           "coqu <query-command> [args...]",
		Short:         "query a COBOL program's structural index and AST",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
	}
	root.Flags().StringVar(&loadPath, "load", "", "path to the COBOL program to load (required)")
	root.Flags().StringVar(&configPath, "config", "", "TOML config file path")
	root.Flags().StringArrayVar(&copyPaths, "copypath", nil, "copybook search root (repeatable)")
	root.Flags().StringArrayVar(&flagPairs, "flag", nil, "query flag as key=value or bare key (repeatable)")
	root.Flags().BoolVar(&full, "full", false, "force a full parse on load")
	root.Flags().BoolVar(&lineNumbers, "line-numbers", false, "include line numbers in results")
	root.Flags().BoolVar(&countOnly, "count", false, "report only the result count")
	root.Flags().BoolVar(&debug, "debug", false, "render errors with full diagnostic context")

	var exitCode int
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if loadPath == "" {
			exitCode = 2
			return fmt.Errorf("--load is required")
		}

		ctx, err := loadConfig(configPath)
		if err != nil {
			exitCode = 2
			return err
		}
		ctx.Debug = ctx.Debug || debug
		ctx.CopybookPaths = append(ctx.CopybookPaths, copyPaths...)

		cacheMgr, err := cache.New(ctx.CacheDir)
		if err != nil {
			exitCode = 3
			return err
		}

		historyPath := filepath.Join(filepath.Dir(ctx.CacheDir), "history.db")
		hist, err := store.Open(historyPath)
		if err != nil {
			exitCode = 3
			return err
		}
		defer hist.Close()

		ws := workspace.New(ctx, cacheMgr, hist)
		for _, p := range ctx.CopybookPaths {
			ws.AddCopyPath(p)
		}

		prog, err := ws.Load(context.Background(), loadPath, full)
		if err != nil {
			exitCode = 3
			return err
		}

		engine := query.New(ws)
		q := query.Query{
			Program:     prog.Name,
			Command:     args[0],
			Args:        args[1:],
			Flags:       parseFlagPairs(flagPairs),
			LineNumbers: lineNumbers,
			CountOnly:   countOnly,
		}

		var res *query.Result
		if q.Command == "where-used" {
			if len(q.Args) == 0 {
				exitCode = 2
				return fmt.Errorf("where-used requires a copybook name")
			}
			res = engine.WhereUsed(q.Args[0])
		} else {
			res = engine.Execute(q)
		}

		exitCode = res.ExitCode
		if res.Err != nil {
			return res.Err
		}
		return printResult(res)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "coqu:", err)
		if exitCode == 0 {
			exitCode = 4
		}
	}
	return exitCode
}

func loadConfig(path string) (*config.Context, error) {
	if path == "" {
		ctx := config.Default()
		ctx.ApplyEnv()
		return ctx, nil
	}
	ctx, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	ctx.ApplyEnv()
	return ctx, nil
}

// parseFlagPairs turns repeated --flag key=value (or bare key) arguments
// into the presence/value map the Query Engine expects.
func parseFlagPairs(pairs []string) map[string]string {
	out := map[string]string{}
	for _, p := range pairs {
		if k, v, ok := strings.Cut(p, "="); ok {
			out[k] = v
		} else {
			out[p] = ""
		}
	}
	return out
}

func printResult(res *query.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"count": res.Count, "items": res.Items})
}
