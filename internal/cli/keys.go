package cli

import (
	"github.com/spf13/cobra"

	"github.com/dshills/codegrep/internal/output"
)

func (a *app) newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys [PREFIX]",
		Short: "List the generalized key paths of indexed units",
		Long: `List the generalized key paths recorded for every indexed unit. Leaf
values are shown as {STRING} and array positions as [], so the output is
the vocabulary available to --keys searches.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			store, err := a.openStore(a.cfg.CacheDir)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			shapes, err := store.KeyShapes(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			printer := output.NewPrinter(cmd.OutOrStdout(), output.WithMode(a.outputMode()))
			printer.PrintKeys(shapes)
			if len(shapes) == 0 {
				return errNoMatch
			}
			return nil
		},
	}
}
