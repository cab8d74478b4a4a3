package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/index"
)

var (
	// Version information, set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print build information and the supported file format versions.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s version %s\n", BinName(), Version)
		fmt.Fprintf(out, "  Git Commit:   %s\n", GitCommit)
		fmt.Fprintf(out, "  Build Time:   %s\n", BuildTime)
		fmt.Fprintf(out, "  Go Version:   %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:      %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "  File Format:  %d..%d\n", format.MinSupportedVersion, format.CurrentVersion)
		fmt.Fprintf(out, "  Index Format: %d\n", index.FormatVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
