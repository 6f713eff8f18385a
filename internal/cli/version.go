package cli

import (
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/dshills/codegrep/internal/parser"
	"github.com/dshills/codegrep/internal/storage"
)

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version information",
		Long: `Displays the build version, the Go version, the SQLite driver compiled in
and the Python grammar. The Python grammar links C code, so every build
needs cgo.`,
		Args: cobra.NoArgs,
		// version needs no project configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			version := a.build.Version
			goVersion := "unknown"
			if info, ok := debug.ReadBuildInfo(); ok {
				goVersion = info.GoVersion
				if version == "" || version == "dev" {
					if info.Main.Version != "" && info.Main.Version != "(devel)" {
						version = info.Main.Version
					}
				}
			}
			if version == "" {
				version = "dev"
			}

			cmd.Println("codegrep version\t", version)
			if a.build.BuildTime != "" {
				cmd.Println("build time\t", a.build.BuildTime)
			}
			cmd.Println("go version\t", goVersion)
			cmd.Println("sqlite driver\t", storage.DriverName)
			cmd.Println("sqlite build\t", storage.BuildMode)
			cmd.Println("python grammar\t", parser.PythonGrammar)
		},
	}
}
