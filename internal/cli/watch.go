package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codegrep/internal/indexer"
	"github.com/dshills/codegrep/internal/parser"
	"github.com/dshills/codegrep/internal/watcher"
)

func (a *app) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the index current while files change",
		Long: `Watch the project root and revalidate the index once changes settle.
Deleted files are pruned from the index. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(a.cfg.CacheDir)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cfg, err := a.cfg.IndexerConfig()
			if err != nil {
				return err
			}

			registry := parser.DefaultRegistry()
			idx := indexer.New(store, registry, indexer.WithLogger(a.logger))
			out := cmd.OutOrStdout()

			w, err := watcher.New(a.cfg.Root, idx, cfg,
				watcher.WithDebounce(time.Duration(a.cfg.Watch.Debounce)),
				watcher.WithFilter(registry.IsValidFile),
				watcher.WithLogger(a.logger),
				watcher.OnRevalidate(func(stats *indexer.Statistics, err error) {
					if a.search.quiet {
						return
					}
					if err != nil {
						fmt.Fprintf(a.stderr, "codegrep: %v\n", err)
						return
					}
					if stats.FilesInvalidated > 0 || stats.FilesPruned > 0 {
						fmt.Fprintf(out, "%s indexed %d, pruned %d, failed %d (%s)\n",
							time.Now().Format(time.TimeOnly),
							stats.FilesIndexed, stats.FilesPruned, stats.FilesFailed,
							stats.Duration.Round(time.Millisecond))
					}
				}),
			)
			if err != nil {
				return err
			}

			if !a.search.quiet {
				fmt.Fprintf(out, "Watching %s\n", a.cfg.Root)
			}
			return w.Run(cmd.Context())
		},
	}
}
