package cli

import (
	"github.com/spf13/cobra"

	"github.com/dshills/codegrep/internal/mcp"
	"github.com/dshills/codegrep/internal/storage"
)

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the index to MCP clients over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
index_codebase, search_code, get_status and list_key_shapes tools for the
project root. Logs go to the log file only, since stdout carries the
protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger.Info("MCP server starting",
				"version", a.build.Version,
				"sqlite_build", storage.BuildMode,
				"driver", storage.DriverName,
				"root", a.cfg.Root,
			)

			server, err := mcp.NewServer(a.cfg, a.logger)
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}

			// Serve closes the server's store on return
			err = server.Serve(cmd.Context())
			a.logger.Info("MCP server stopped", "error", err)
			return err
		},
	}
}
