// Package config defines the explicit context structure threaded through
// every core operation (spec.md §9: "Global-ish configuration → explicit
// context"). Copybook paths, cache directory, parse-mode, and the debug
// flag travel through this struct rather than a process-wide singleton.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ParseMode controls how eagerly the Full Parser Frontend runs.
type ParseMode string

const (
	ParseModeAuto      ParseMode = "auto"
	ParseModeFull      ParseMode = "full"
	ParseModeIndexOnly ParseMode = "index-only"
)

// Context is the explicit configuration every operation receives.
// Built either from LoadFile (TOML, §6) or Default, then adjusted by env
// vars via ApplyEnv — both are convenience constructors an external
// config-loading collaborator may call; the core itself never re-reads
// files mid-operation.
type Context struct {
	ParseMode    ParseMode
	MemoryLimit  int64 // bytes, advisory ceiling for full-parse only
	Debug        bool
	CopybookPaths []string
	CacheDir     string
	CacheMaxSize int64 // bytes, 0 = unlimited
	ToolVersion  string
}

// Default returns the documented defaults (spec.md §6).
func Default() *Context {
	home, _ := os.UserHomeDir()
	state := filepath.Join(home, ".coqu")
	return &Context{
		ParseMode:   ParseModeAuto,
		MemoryLimit: 0,
		Debug:       false,
		CacheDir:    filepath.Join(state, "cache"),
		CacheMaxSize: 0,
		ToolVersion: "coqu-dev",
	}
}

// fileShape mirrors the TOML layout documented in spec.md §6.
type fileShape struct {
	General struct {
		ParseMode   string `toml:"parse_mode"`
		MemoryLimit string `toml:"memory_limit"`
		Debug       bool   `toml:"debug"`
	} `toml:"general"`
	Copybooks struct {
		Paths []string `toml:"paths"`
	} `toml:"copybooks"`
	Cache struct {
		Directory string `toml:"directory"`
		MaxSize   string `toml:"max_size"`
	} `toml:"cache"`
}

// LoadFile decodes a TOML config file into a Context, starting from
// Default() and overriding recognized fields. This is a parsing primitive,
// not the REPL's config-loading collaborator: it neither watches the file
// nor owns [repl] options, which are REPL-only per spec.md §6.
func LoadFile(path string) (*Context, error) {
	ctx := Default()
	var shape fileShape
	if _, err := toml.DecodeFile(path, &shape); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", path, err)
	}

	if shape.General.ParseMode != "" {
		ctx.ParseMode = ParseMode(shape.General.ParseMode)
	}
	if shape.General.MemoryLimit != "" {
		n, err := ParseSize(shape.General.MemoryLimit)
		if err != nil {
			return nil, fmt.Errorf("parsing memory_limit: %w", err)
		}
		ctx.MemoryLimit = n
	}
	ctx.Debug = ctx.Debug || shape.General.Debug
	if len(shape.Copybooks.Paths) > 0 {
		ctx.CopybookPaths = append(ctx.CopybookPaths, shape.Copybooks.Paths...)
	}
	if shape.Cache.Directory != "" {
		ctx.CacheDir = shape.Cache.Directory
	}
	if shape.Cache.MaxSize != "" {
		n, err := ParseSize(shape.Cache.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("parsing cache.max_size: %w", err)
		}
		ctx.CacheMaxSize = n
	}
	return ctx, nil
}

// ApplyEnv overlays recognized environment variables (spec.md §6) onto ctx,
// mutating it in place. COQU_HOME overrides the state directory (and thus
// the cache directory, if it still holds the default); COQU_COPYLIB
// appends search paths; COQU_DEBUG enables debug mode.
func (ctx *Context) ApplyEnv() {
	if home := os.Getenv("COQU_HOME"); home != "" && ctx.CacheDir == Default().CacheDir {
		ctx.CacheDir = filepath.Join(home, "cache")
	}
	if lib := os.Getenv("COQU_COPYLIB"); lib != "" {
		sep := ":"
		if strings.Contains(lib, ";") {
			sep = ";"
		}
		for _, p := range strings.Split(lib, sep) {
			if p != "" {
				ctx.CopybookPaths = append(ctx.CopybookPaths, p)
			}
		}
	}
	if v := os.Getenv("COQU_DEBUG"); v == "1" {
		ctx.Debug = true
	}
}

// ParseSize parses a human size string ("128MB", "0", "1GiB") into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	upper := strings.ToUpper(s)
	units := []struct {
		suffix string
		mult   int64
	}{
		{"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
		{"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
		{"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			numPart := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			f, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			return int64(f * float64(u.mult)), nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n, nil
}
