package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	ctx := Default()
	require.Equal(t, ParseModeAuto, ctx.ParseMode)
	require.Zero(t, ctx.MemoryLimit)
	require.False(t, ctx.Debug)
	require.Zero(t, ctx.CacheMaxSize)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coqu.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[general]
parse_mode = "full"
memory_limit = "256MB"
debug = true

[copybooks]
paths = ["/opt/copybooks", "/opt/more"]

[cache]
directory = "/var/cache/coqu"
max_size = "1GiB"
`), 0o644))

	ctx, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, ParseModeFull, ctx.ParseMode)
	require.Equal(t, int64(256e6), ctx.MemoryLimit)
	require.True(t, ctx.Debug)
	require.Equal(t, []string{"/opt/copybooks", "/opt/more"}, ctx.CopybookPaths)
	require.Equal(t, "/var/cache/coqu", ctx.CacheDir)
	require.Equal(t, int64(1<<30), ctx.CacheMaxSize)
}

func TestLoadFileMissingFileErrors(t *testing.T) {
	_, err := LoadFile("/nonexistent/coqu.toml")
	require.Error(t, err)
}

func TestApplyEnvOverridesCacheDirAndCopyPath(t *testing.T) {
	t.Setenv("COQU_HOME", "/tmp/coqu-home")
	t.Setenv("COQU_COPYLIB", "/a:/b")
	t.Setenv("COQU_DEBUG", "1")

	ctx := Default()
	ctx.ApplyEnv()

	require.Equal(t, filepath.Join("/tmp/coqu-home", "cache"), ctx.CacheDir)
	require.Equal(t, []string{"/a", "/b"}, ctx.CopybookPaths)
	require.True(t, ctx.Debug)
}

func TestApplyEnvSemicolonSeparator(t *testing.T) {
	t.Setenv("COQU_COPYLIB", `C:\copy1;C:\copy2`)
	ctx := Default()
	ctx.ApplyEnv()
	require.Equal(t, []string{`C:\copy1`, `C:\copy2`}, ctx.CopybookPaths)
}

func TestParseSizeVariants(t *testing.T) {
	cases := map[string]int64{
		"0":      0,
		"":       0,
		"128":    128,
		"1KB":    1000,
		"1KiB":   1024,
		"2MB":    2e6,
		"2MiB":   2 << 20,
		"1GB":    1e9,
		"1GiB":   1 << 30,
		"512B":   512,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseSizeInvalid(t *testing.T) {
	_, err := ParseSize("not-a-size")
	require.Error(t, err)
}
