// Package config loads codegrep settings from defaults, an optional
// .codegrep.toml file, CODEGREP_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/dshills/codegrep/internal/indexer"
	"github.com/dshills/codegrep/internal/storage"
	"github.com/dshills/codegrep/pkg/types"
)

const (
	// FileName is the project configuration file looked up in the root
	FileName = ".codegrep.toml"
	// DefaultCacheDirName is the cache root created inside the project
	DefaultCacheDirName = ".codegrep"
	// DefaultLogFileName is the log file created inside the cache root
	DefaultLogFileName = "codegrep.log"

	envPrefix = "CODEGREP"
)

// Keys shared by the config file, environment and flag bindings
const (
	RootKey                    = "root"
	CacheDirKey                = "cache_dir"
	IndexWorkersKey            = "index.workers"
	IndexTimeoutKey            = "index.timeout"
	IndexFingerprintKey        = "index.fingerprint"
	IndexParseFailurePolicyKey = "index.parse_failure_policy"
	IndexIncludeHiddenKey      = "index.include_hidden"
	IndexPruneKey              = "index.prune"
	SearchKindKey              = "search.kind"
	SearchModeKey              = "search.mode"
	SearchFieldKey             = "search.field"
	SearchCacheSizeKey         = "search.cache_size"
	WatchDebounceKey           = "watch.debounce"
	LogLevelKey                = "log.level"
	LogFilenameKey             = "log.filename"
	LogMaxSizeKey              = "log.max_size"
	LogMaxBackupsKey           = "log.max_backups"
	LogMaxAgeKey               = "log.max_age"
	LogCompressKey             = "log.compress"
)

// Config is the resolved configuration of one invocation
type Config struct {
	Root     string       `mapstructure:"root" toml:"root"`
	CacheDir string       `mapstructure:"cache_dir" toml:"cache_dir"`
	Index    IndexConfig  `mapstructure:"index" toml:"index"`
	Search   SearchConfig `mapstructure:"search" toml:"search"`
	Watch    WatchConfig  `mapstructure:"watch" toml:"watch"`
	Log      LogConfig    `mapstructure:"log" toml:"log"`
}

// IndexConfig controls revalidation
type IndexConfig struct {
	Workers            int      `mapstructure:"workers" toml:"workers"`
	Timeout            Duration `mapstructure:"timeout" toml:"timeout"`
	Fingerprint        string   `mapstructure:"fingerprint" toml:"fingerprint"`
	ParseFailurePolicy string   `mapstructure:"parse_failure_policy" toml:"parse_failure_policy"`
	IncludeHidden      bool     `mapstructure:"include_hidden" toml:"include_hidden"`
	Prune              bool     `mapstructure:"prune" toml:"prune"`
}

// SearchConfig holds search defaults
type SearchConfig struct {
	Kind      string `mapstructure:"kind" toml:"kind"`
	Mode      string `mapstructure:"mode" toml:"mode"`
	Field     string `mapstructure:"field" toml:"field"`
	CacheSize int    `mapstructure:"cache_size" toml:"cache_size"`
}

// WatchConfig controls the file watcher
type WatchConfig struct {
	Debounce Duration `mapstructure:"debounce" toml:"debounce"`
}

// LogConfig controls the rotating log file
type LogConfig struct {
	Level      string `mapstructure:"level" toml:"level"`
	Filename   string `mapstructure:"filename" toml:"filename"`
	MaxSize    int    `mapstructure:"max_size" toml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" toml:"max_age"`
	Compress   bool   `mapstructure:"compress" toml:"compress"`
}

// Duration is a time.Duration written as "5m0s" in TOML files
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// durationHook decodes "5m" strings and plain nanosecond integers into
// Duration fields
func durationHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Root: ".",
		Index: IndexConfig{
			Workers:            runtime.NumCPU(),
			Timeout:            Duration(indexer.DefaultTimeout),
			Fingerprint:        string(indexer.FingerprintXXH3),
			ParseFailurePolicy: string(indexer.PolicyRetry),
		},
		Search: SearchConfig{
			Kind:      string(types.KindStringLiteral),
			Mode:      string(storage.ModePhrase),
			Field:     string(storage.FieldContent),
			CacheSize: 1000,
		},
		Watch: WatchConfig{
			Debounce: Duration(100 * time.Millisecond),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
	}
}

// NewViper returns a viper instance with defaults and environment
// bindings applied
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault(RootKey, d.Root)
	v.SetDefault(CacheDirKey, d.CacheDir)
	v.SetDefault(IndexWorkersKey, d.Index.Workers)
	v.SetDefault(IndexTimeoutKey, time.Duration(d.Index.Timeout).String())
	v.SetDefault(IndexFingerprintKey, d.Index.Fingerprint)
	v.SetDefault(IndexParseFailurePolicyKey, d.Index.ParseFailurePolicy)
	v.SetDefault(IndexIncludeHiddenKey, d.Index.IncludeHidden)
	v.SetDefault(IndexPruneKey, d.Index.Prune)
	v.SetDefault(SearchKindKey, d.Search.Kind)
	v.SetDefault(SearchModeKey, d.Search.Mode)
	v.SetDefault(SearchFieldKey, d.Search.Field)
	v.SetDefault(SearchCacheSizeKey, d.Search.CacheSize)
	v.SetDefault(WatchDebounceKey, time.Duration(d.Watch.Debounce).String())
	v.SetDefault(LogLevelKey, d.Log.Level)
	v.SetDefault(LogFilenameKey, d.Log.Filename)
	v.SetDefault(LogMaxSizeKey, d.Log.MaxSize)
	v.SetDefault(LogMaxBackupsKey, d.Log.MaxBackups)
	v.SetDefault(LogMaxAgeKey, d.Log.MaxAge)
	v.SetDefault(LogCompressKey, d.Log.Compress)
	return v
}

// Load reads configFile into v when it exists and decodes the result.
// A missing file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(durationHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve makes paths absolute and fills the derived defaults: the cache
// root lives in the project and the log file in the cache root
func (c *Config) Resolve() error {
	if c.Root == "" {
		c.Root = "."
	}
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root %s: %w", c.Root, err)
	}
	c.Root = root

	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(root, DefaultCacheDirName)
	} else if !filepath.IsAbs(c.CacheDir) {
		c.CacheDir = filepath.Join(root, c.CacheDir)
	}

	if c.Log.Filename == "" {
		c.Log.Filename = filepath.Join(c.CacheDir, DefaultLogFileName)
	}
	return nil
}

// IndexerConfig converts the index section for the revalidation manager
func (c *Config) IndexerConfig() (*indexer.Config, error) {
	algo, err := indexer.ParseFingerprintAlgo(c.Index.Fingerprint)
	if err != nil {
		return nil, err
	}
	policy, err := indexer.ParseParseFailurePolicy(c.Index.ParseFailurePolicy)
	if err != nil {
		return nil, err
	}
	return &indexer.Config{
		Workers:            c.Index.Workers,
		Timeout:            time.Duration(c.Index.Timeout),
		CacheDir:           c.CacheDir,
		Fingerprint:        algo,
		ParseFailurePolicy: policy,
		IncludeHidden:      c.Index.IncludeHidden,
		Prune:              c.Index.Prune,
	}, nil
}

// SearchDefaults validates and converts the search section
func (c *Config) SearchDefaults() (types.Kind, storage.SearchMode, storage.SearchField, error) {
	kind, err := types.ParseKind(c.Search.Kind)
	if err != nil {
		return "", "", "", err
	}
	q, err := storage.NormalizeQuery(storage.Query{
		Term:  "-",
		Kind:  kind,
		Mode:  storage.SearchMode(strings.ToLower(c.Search.Mode)),
		Field: storage.SearchField(strings.ToLower(c.Search.Field)),
	})
	if err != nil {
		return "", "", "", err
	}
	return kind, q.Mode, q.Field, nil
}

// Validate checks every enumerated setting
func (c *Config) Validate() error {
	if _, err := c.IndexerConfig(); err != nil {
		return fmt.Errorf("invalid index config: %w", err)
	}
	if _, _, _, err := c.SearchDefaults(); err != nil {
		return fmt.Errorf("invalid search config: %w", err)
	}
	if c.Search.CacheSize <= 0 {
		return fmt.Errorf("invalid search config: cache_size must be positive")
	}
	return nil
}

// WriteDefault writes the built-in configuration as TOML. An existing file
// is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() { _ = file.Close() }()

	fmt.Fprintln(file, "# codegrep configuration file")
	fmt.Fprintln(file, "# Values can be overridden with CODEGREP_* environment variables and flags")
	fmt.Fprintln(file, "")

	cfg := Default()
	// machine-specific values are left to the runtime defaults
	cfg.Index.Workers = 0
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
