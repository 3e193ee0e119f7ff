package cli

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tool server status",
	Long: `Show whether a tool server started with "kitool serve" is running and,
when it answers its health check, how many tools it serves and which
session lanes are busy.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	server, err := findServer(pidFilePath(cfg.DataDir))
	if errors.Is(err, errNotRunning) {
		cmd.Println("Status: stopped")
		return nil
	}
	if err != nil {
		return err
	}

	cmd.Println("Status: running")
	cmd.Printf("PID: %d\n", server.pid)
	cmd.Printf("Address: %s\n", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	cmd.Printf("Uptime: %s\n", time.Since(server.started).Round(time.Second))

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()
	report, err := probeHealth(ctx, cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		cmd.Printf("Health: unreachable (%v)\n", err)
		return nil
	}
	cmd.Printf("Health: %s\n", report.Status)
	cmd.Printf("Tools: %d\n", report.Tools)
	if len(report.Lanes) == 0 {
		return nil
	}

	lanes := make([]string, 0, len(report.Lanes))
	for lane := range report.Lanes {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	cmd.Println()
	_, _ = w.Write([]byte("LANE\tRUNNING\tQUEUED\n"))
	for _, lane := range lanes {
		stats := report.Lanes[lane]
		_, _ = w.Write([]byte(lane + "\t" + strconv.Itoa(stats["running"]) + "\t" + strconv.Itoa(stats["queued"]) + "\n"))
	}
	return w.Flush()
}
