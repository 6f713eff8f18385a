package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dshills/codegrep/internal/indexer"
	"github.com/dshills/codegrep/internal/output"
	"github.com/dshills/codegrep/internal/parser"
	"github.com/dshills/codegrep/internal/searcher"
	"github.com/dshills/codegrep/internal/storage"
	"github.com/dshills/codegrep/pkg/types"
)

// searchOptions are the grep-like flags of a search
type searchOptions struct {
	regex            bool
	fuzzy            bool
	keys             bool
	keyTerms         []string
	maxEdits         int
	count            bool
	filesWithMatches bool
	quiet            bool
	skipCache        bool
}

func (a *app) addSearchFlags(flags *pflag.FlagSet) {
	flags.BoolVarP(&a.search.regex, "regex", "R", false, "treat PATTERN as a regular expression")
	flags.BoolVar(&a.search.fuzzy, "fuzzy", false, "match every word of PATTERN within a small edit distance")
	flags.IntVar(&a.search.maxEdits, "max-edits", 0, "edit distance per word for --fuzzy")
	flags.BoolVar(&a.search.keys, "keys", false, "search flattened key paths instead of content")
	flags.StringArrayVar(&a.search.keyTerms, "key", nil, "require a unit to carry this exact key path (repeatable)")
	flags.BoolVarP(&a.search.count, "count", "c", false, "print match counts per file")
	flags.BoolVarP(&a.search.filesWithMatches, "files-with-matches", "l", false, "print only the paths of matching files")
	flags.BoolVarP(&a.search.quiet, "quiet", "q", false, "print nothing, report through the exit status")
	flags.BoolVar(&a.search.skipCache, "skip-cache", false, "index into a throwaway cache and search it")
}

func (a *app) newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [PATTERN]",
		Short: "Revalidate the index and search it (same as codegrep PATTERN)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(a.search.keyTerms) == 0 {
				return errors.New("search needs a PATTERN or at least one --key")
			}
			return a.runSearch(cmd.Context(), firstArg(args))
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// searchRequest combines the configured defaults with the flags
func (a *app) searchRequest(pattern string) (searcher.SearchRequest, error) {
	kind, mode, field, err := a.cfg.SearchDefaults()
	if err != nil {
		return searcher.SearchRequest{}, err
	}

	switch {
	case a.search.regex && a.search.fuzzy:
		return searcher.SearchRequest{}, errors.New("--regex and --fuzzy are mutually exclusive")
	case a.search.regex:
		mode = storage.ModeRegex
	case a.search.fuzzy:
		mode = storage.ModeFuzzy
	}
	if a.search.keys {
		field = storage.FieldKeys
	}

	return searcher.SearchRequest{
		Term:     pattern,
		Kind:     kind,
		Mode:     mode,
		Field:    field,
		MaxEdits: a.search.maxEdits,
		KeyTerms: a.search.keyTerms,
	}, nil
}

func (a *app) outputMode() output.Mode {
	switch {
	case a.search.quiet:
		return output.ModeQuiet
	case a.search.count:
		return output.ModeCount
	case a.search.filesWithMatches:
		return output.ModeFilesWithMatches
	default:
		return output.ModeHuman
	}
}

// openStore opens the index of the configured cache directory. A failure
// is fatal with exit status 2.
func (a *app) openStore(cacheDir string) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cacheDir, storage.WithLogger(a.logger))
	if err != nil {
		return nil, &exitError{code: ExitError, err: fmt.Errorf("codegrep: %w", err)}
	}
	return store, nil
}

// runSearch revalidates the root, searches and prints the results
func (a *app) runSearch(ctx context.Context, pattern string) error {
	req, err := a.searchRequest(pattern)
	if err != nil {
		return err
	}

	cacheDir := a.cfg.CacheDir
	if a.search.skipCache {
		tmp, err := os.MkdirTemp("", "codegrep-")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		cacheDir = tmp
		a.logger.Debug("using throwaway cache", "cache_dir", cacheDir)
	}

	store, err := a.openStore(cacheDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	lock := &indexer.IndexLock{}
	if _, err := a.revalidate(ctx, store, lock, cacheDir, !a.search.quiet); err != nil {
		return err
	}

	s, err := searcher.NewSearcher(store,
		searcher.WithLogger(a.logger),
		searcher.WithLock(lock),
		searcher.WithCacheSize(a.cfg.Search.CacheSize),
	)
	if err != nil {
		return err
	}

	resp, err := s.Search(ctx, req)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	a.logger.Debug("search complete",
		"term", req.Term,
		"keys", req.KeyTerms,
		"kind", req.Kind,
		"mode", resp.Mode,
		"files", resp.Results.Len(),
		"matches", resp.Results.Total(),
		"evicted", len(resp.Evicted),
		"duration", resp.Duration,
	)

	printer := output.NewPrinter(a.stdout,
		output.WithMode(a.outputMode()),
		output.WithColor(output.IsTerminal(a.stdout)),
		output.WithErrorWriter(a.stderr),
	)
	printer.PrintResults(resp.Results)

	switch {
	case printer.HadError():
		return &exitError{code: ExitError}
	case resp.Results.IsEmpty():
		return errNoMatch
	default:
		return nil
	}
}

func (a *app) newIndexer(store storage.Storage, lock *indexer.IndexLock, opts ...indexer.Option) *indexer.Indexer {
	opts = append([]indexer.Option{indexer.WithLogger(a.logger), indexer.WithLock(lock)}, opts...)
	return indexer.New(store, parser.DefaultRegistry(), opts...)
}

// revalidate brings the index up to date, showing a spinner on an
// interactive stderr. A timeout is reported and the committed part of the
// run is searched anyway.
func (a *app) revalidate(ctx context.Context, store storage.Storage, lock *indexer.IndexLock, cacheDir string, showProgress bool) (*indexer.Statistics, error) {
	cfg, err := a.cfg.IndexerConfig()
	if err != nil {
		return nil, err
	}
	cfg.CacheDir = cacheDir

	var opts []indexer.Option
	var spinner *pterm.SpinnerPrinter
	if showProgress && output.IsTerminal(a.stderr) {
		spinner, _ = pterm.DefaultSpinner.WithStyle(pterm.NewStyle(pterm.FgCyan)).
			WithSequence("⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏").
			WithDelay(100).WithRemoveWhenDone(true).WithWriter(a.stderr).
			Start("Revalidating index...")
		if spinner != nil {
			opts = append(opts, indexer.WithProgress(func(p indexer.Progress) {
				spinner.UpdateText(fmt.Sprintf("Revalidating index (%s %d/%d)...", p.Phase, p.Done, p.Total))
			}))
		}
	}

	idx := a.newIndexer(store, lock, opts...)
	stats, err := idx.Revalidate(ctx, a.cfg.Root, cfg)
	if spinner != nil {
		_ = spinner.Stop()
	}

	switch {
	case errors.Is(err, indexer.ErrRevalidationTimeout):
		a.logger.Warn("revalidation timed out, searching committed state", "timeout", cfg.Timeout)
		fmt.Fprintf(a.stderr, "codegrep: %v after %s, results may be stale\n", err, cfg.Timeout)
	case errors.Is(err, types.ErrFileAccess):
		return nil, &exitError{code: ExitError, err: fmt.Errorf("codegrep: %w", err)}
	case err != nil:
		return nil, &exitError{code: ExitError, err: fmt.Errorf("codegrep: revalidation failed: %w", err)}
	}

	if stats != nil {
		a.logger.Info("revalidated",
			"run_id", stats.RunID,
			"scanned", stats.FilesScanned,
			"indexed", stats.FilesIndexed,
			"parse_failures", stats.ParseFailures,
			"duration", stats.Duration,
		)
		for _, msg := range stats.ErrorMessages {
			a.logger.Debug("revalidation error", "message", msg)
		}
	}
	return stats, nil
}
