package cli

import (
	"github.com/spf13/cobra"

	"github.com/dshills/codegrep/internal/indexer"
	"github.com/dshills/codegrep/internal/output"
)

func (a *app) newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Revalidate the index without searching",
		Long: `Revalidate the index of the project root: walk it, compare every file's
fingerprint with the stored one, parse what changed and commit the batch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(a.cfg.CacheDir)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := a.revalidate(cmd.Context(), store, &indexer.IndexLock{}, a.cfg.CacheDir, !a.search.quiet)
			if err != nil {
				return err
			}
			if !a.search.quiet {
				output.RenderStats(cmd.OutOrStdout(), stats)
			}
			return nil
		},
	}
}
