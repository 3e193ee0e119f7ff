package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the tool server",
	Long: `Stop a tool server started with "kitool serve".
Sends SIGTERM so in-flight calls can finish, then SIGKILL once the
timeout passes.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "how long to wait before killing the server")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pidFile := pidFilePath(cfg.DataDir)

	server, err := findServer(pidFile)
	if errors.Is(err, errNotRunning) {
		return fmt.Errorf("server is not running (PID file: %s)", pidFile)
	}
	if err != nil {
		return err
	}

	killed, err := server.stop(stopTimeout)
	if err != nil {
		return err
	}
	if killed {
		cmd.Printf("Server did not stop within %s and was killed\n", stopTimeout)
		return nil
	}
	cmd.Println("Server stopped")
	return nil
}
