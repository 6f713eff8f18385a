package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegrep/internal/indexer"
	"github.com/dshills/codegrep/internal/storage"
	"github.com/dshills/codegrep/pkg/types"
)

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	v := NewViper()
	v.Set(RootKey, root)

	cfg, err := Load(v, filepath.Join(root, FileName))
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, filepath.Join(root, DefaultCacheDirName), cfg.CacheDir)
	assert.Equal(t, filepath.Join(root, DefaultCacheDirName, DefaultLogFileName), cfg.Log.Filename)
	assert.Equal(t, runtime.NumCPU(), cfg.Index.Workers)
	assert.Equal(t, Duration(indexer.DefaultTimeout), cfg.Index.Timeout)
	assert.Equal(t, "xxh3", cfg.Index.Fingerprint)
	assert.Equal(t, "string-literal", cfg.Search.Kind)
	assert.Equal(t, Duration(100*time.Millisecond), cfg.Watch.Debounce)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	content := `cache_dir = "cache"

[index]
workers = 2
timeout = "30s"
fingerprint = "sha256"
parse_failure_policy = "advance"
prune = true

[search]
kind = "function-decl"
mode = "regex"

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v := NewViper()
	v.Set(RootKey, root)
	cfg, err := Load(v, path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "cache"), cfg.CacheDir)
	assert.Equal(t, 2, cfg.Index.Workers)
	assert.Equal(t, Duration(30*time.Second), cfg.Index.Timeout)
	assert.True(t, cfg.Index.Prune)
	assert.Equal(t, "debug", cfg.Log.Level)

	ic, err := cfg.IndexerConfig()
	require.NoError(t, err)
	assert.Equal(t, indexer.FingerprintSHA256, ic.Fingerprint)
	assert.Equal(t, indexer.PolicyAdvance, ic.ParseFailurePolicy)
	assert.Equal(t, 30*time.Second, ic.Timeout)
	assert.Equal(t, cfg.CacheDir, ic.CacheDir)

	kind, mode, field, err := cfg.SearchDefaults()
	require.NoError(t, err)
	assert.Equal(t, types.KindFunctionDecl, kind)
	assert.Equal(t, storage.ModeRegex, mode)
	assert.Equal(t, storage.FieldContent, field)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CODEGREP_INDEX_WORKERS", "3")
	t.Setenv("CODEGREP_SEARCH_MODE", "fuzzy")

	v := NewViper()
	v.Set(RootKey, t.TempDir())
	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Index.Workers)
	assert.Equal(t, "fuzzy", cfg.Search.Mode)
}

func TestLoad_MalformedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	require.NoError(t, os.WriteFile(path, []byte("[index\nworkers ="), 0644))

	_, err := Load(NewViper(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fingerprint", func(c *Config) { c.Index.Fingerprint = "mtime" }},
		{"policy", func(c *Config) { c.Index.ParseFailurePolicy = "skip" }},
		{"kind", func(c *Config) { c.Search.Kind = "closure" }},
		{"mode", func(c *Config) { c.Search.Mode = "vector" }},
		{"field", func(c *Config) { c.Search.Field = "body" }},
		{"cache size", func(c *Config) { c.Search.CacheSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolve_AbsoluteCacheDir(t *testing.T) {
	cache := t.TempDir()
	cfg := Default()
	cfg.CacheDir = cache
	cfg.Log.Filename = "/var/log/codegrep.log"

	require.NoError(t, cfg.Resolve())
	assert.True(t, filepath.IsAbs(cfg.Root))
	assert.Equal(t, cache, cfg.CacheDir)
	assert.Equal(t, "/var/log/codegrep.log", cfg.Log.Filename)
}

func TestWriteDefault(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)

	require.NoError(t, WriteDefault(path, false))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# codegrep configuration file")
	assert.Contains(t, string(data), `timeout = "5m0s"`)

	assert.Error(t, WriteDefault(path, false), "existing file is kept")
	require.NoError(t, WriteDefault(path, true))

	v := NewViper()
	v.Set(RootKey, root)
	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, Duration(indexer.DefaultTimeout), cfg.Index.Timeout)
	assert.Equal(t, "phrase", cfg.Search.Mode)
	require.NoError(t, cfg.Validate())
}
