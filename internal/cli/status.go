package cli

import (
	"github.com/spf13/cobra"

	"github.com/dshills/codegrep/internal/output"
)

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(a.cfg.CacheDir)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			status, err := store.GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			output.RenderStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}
