// Package cli provides the codegrep command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dshills/codegrep/internal/config"
)

// Exit codes follow grep: a match, no match, or trouble
const (
	ExitMatch   = 0
	ExitNoMatch = 1
	ExitError   = 2
)

const (
	rootFlagName          = "root"
	cacheDirFlagName      = "cache-dir"
	configFlagName        = "config"
	debugFlagName         = "debug"
	verboseDebugFlagName  = "verbose-debug"
	workersFlagName       = "workers"
	timeoutFlagName       = "timeout"
	policyFlagName        = "parse-failure-policy"
	includeHiddenFlagName = "include-hidden"
	pruneFlagName         = "prune"
	kindFlagName          = "kind"
)

const rootLongDescription = `codegrep indexes source code into structural Units (declarations,
literals, imports, type definitions) and searches them like grep.

Every search first revalidates the index of the project root: files whose
content changed are parsed again, and everything else is served from the
cache directory.

Exit status is 0 when something matched, 1 when nothing matched and 2 on
error.`

// BuildInfo identifies the running binary
type BuildInfo struct {
	Version   string
	BuildTime string
}

// exitError carries an exit status through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// errNoMatch ends a search without output on stderr
var errNoMatch = &exitError{code: ExitNoMatch}

// app holds the state shared by the commands of one invocation
type app struct {
	v      *viper.Viper
	build  BuildInfo
	stdout io.Writer
	stderr io.Writer

	configFile   string
	debug        bool
	verboseDebug bool
	search       searchOptions

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newApp(build BuildInfo, stdout, stderr io.Writer) *app {
	return &app{
		v:      config.NewViper(),
		build:  build,
		stdout: stdout,
		stderr: stderr,
		logger: slog.Default(),
	}
}

// newRootCmd builds the command tree of one invocation
func (a *app) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "codegrep [flags] PATTERN",
		Short:         "Structural grep over an incrementally indexed codebase",
		Long:          rootLongDescription,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(a.search.keyTerms) == 0 {
				return cmd.Help()
			}
			return a.runSearch(cmd.Context(), firstArg(args))
		},
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	a.configureRootFlags(cmd)

	cmd.AddCommand(
		a.newSearchCmd(),
		a.newIndexCmd(),
		a.newStatusCmd(),
		a.newKeysCmd(),
		a.newWatchCmd(),
		a.newServeCmd(),
		a.newConfigCmd(),
		a.newVersionCmd(),
	)
	return cmd
}

func (a *app) configureRootFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.String(rootFlagName, a.v.GetString(config.RootKey), "project root to index and search")
	a.bindFlagToConfig(flags.Lookup(rootFlagName), config.RootKey)

	flags.String(cacheDirFlagName, a.v.GetString(config.CacheDirKey), "cache directory (default: <root>/.codegrep)")
	a.bindFlagToConfig(flags.Lookup(cacheDirFlagName), config.CacheDirKey)

	flags.StringVar(&a.configFile, configFlagName, "", "config file (default: <root>/"+config.FileName+")")

	flags.BoolVarP(&a.debug, debugFlagName, "D", false, "mirror debug logs to stderr")
	flags.BoolVar(&a.verboseDebug, verboseDebugFlagName, false, "like --debug, with source locations")

	flags.Int(workersFlagName, a.v.GetInt(config.IndexWorkersKey), "number of parse workers")
	a.bindFlagToConfig(flags.Lookup(workersFlagName), config.IndexWorkersKey)

	flags.Duration(timeoutFlagName, a.v.GetDuration(config.IndexTimeoutKey), "bound on one revalidation")
	a.bindFlagToConfig(flags.Lookup(timeoutFlagName), config.IndexTimeoutKey)

	flags.String(policyFlagName, a.v.GetString(config.IndexParseFailurePolicyKey), "retry or advance after a parse failure")
	a.bindFlagToConfig(flags.Lookup(policyFlagName), config.IndexParseFailurePolicyKey)

	flags.Bool(includeHiddenFlagName, a.v.GetBool(config.IndexIncludeHiddenKey), "index dot files and dot directories")
	a.bindFlagToConfig(flags.Lookup(includeHiddenFlagName), config.IndexIncludeHiddenKey)

	flags.Bool(pruneFlagName, a.v.GetBool(config.IndexPruneKey), "drop indexed files that no longer exist")
	a.bindFlagToConfig(flags.Lookup(pruneFlagName), config.IndexPruneKey)

	flags.StringP(kindFlagName, "k", a.v.GetString(config.SearchKindKey), "unit kind to match, or \"any\"")
	a.bindFlagToConfig(flags.Lookup(kindFlagName), config.SearchKindKey)

	a.addSearchFlags(flags)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func (a *app) bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(a.v.BindPFlag(key, flag))
}

// loadConfig reads the config file of the selected root and sets up logging
func (a *app) loadConfig() error {
	root, err := filepath.Abs(a.v.GetString(config.RootKey))
	if err != nil {
		return err
	}

	configFile := a.configFile
	if configFile == "" {
		configFile = filepath.Join(root, config.FileName)
	}

	cfg, err := config.Load(a.v, configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, a.logCloser = configureLogger(cfg.Log, a.debug, a.verboseDebug, a.stderr)
	a.logger.Debug("configuration loaded",
		"root", cfg.Root,
		"cache_dir", cfg.CacheDir,
		"config_file", configFile,
	)
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// Run executes the command line in args and returns the exit status
func Run(ctx context.Context, build BuildInfo, args []string, stdout, stderr io.Writer) int {
	a := newApp(build, stdout, stderr)
	defer a.close()

	cmd := a.newRootCmd()
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitMatch
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(stderr, exitErr.err)
		}
		return exitErr.code
	}

	fmt.Fprintln(stderr, "codegrep:", err)
	return ExitError
}

// Execute runs the command line of the process
func Execute(ctx context.Context, build BuildInfo) int {
	return Run(ctx, build, os.Args[1:], os.Stdout, os.Stderr)
}
