package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/harun/kitool/internal/config"
	"github.com/spf13/cobra"
)

var (
	configureForce  bool
	configureStdout bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the effective configuration",
	Long: `Resolve the configuration (defaults, the existing file, then KITOOL_*
variables), validate it and write it back to the config file for editing.
With --stdout the result is printed instead and nothing is written.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	configureCmd.Flags().BoolVar(&configureStdout, "stdout", false, "print the configuration instead of writing it")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.Path()

	if !configureStdout && !configureForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if configureStdout {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	if err := loader.Save(cfg); err != nil {
		return err
	}
	cmd.Printf("Configuration written to %s\n", path)
	return nil
}
