// Package cli implements the kitool command line.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X ...cli.version=..."
var version = "0.1.0"

// Exit statuses of Execute
const (
	ExitOK         = 0
	ExitToolFailed = 1 // the tool ran and its result starts with "error:"
	ExitError      = 2 // bad flags, bad config or the call never ran
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "kitool",
	Short: "kitool - tool execution layer for agent loops",
	Long: `kitool runs the tools an agent loop calls: shell commands, text files,
spreadsheet analysis and sandboxed snippets. Every call returns plain text;
failures start with "error:".`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kitool/kitool.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
}

// Execute runs the command line and returns the process exit status.
// Tool failures were already printed as the result text, so only other
// errors are reported on stderr.
func Execute() int {
	err := rootCmd.Execute()
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrToolFailed):
		return ExitToolFailed
	default:
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return ExitError
	}
}
