package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/kitool/internal/config"
	"github.com/harun/kitool/pkg/history"
	"github.com/spf13/cobra"
)

var (
	historySession string
	historyTool    string
	historyStatus  string
	historyLimit   int
	historyJSON    bool
	pruneOlderThan time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded tool calls",
	Long:  `List recorded tool calls, newest first. Calls from the CLI, HTTP and the WebSocket gateway share one history.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete recorded calls older than the retention window",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.Flags().StringVar(&historySession, "session", "", "only calls of this session")
	historyCmd.Flags().StringVar(&historyTool, "tool", "", "only calls of this tool")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only calls with this status (success, validation, execution, timeout)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of calls, 0 for all")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print entries as JSON")
	historyPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "override history.retention")
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*config.Config, *history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.History.Enabled {
		return nil, nil, fmt.Errorf("history is disabled (history.enabled=false)")
	}
	store, err := history.Open(cfg.History.Path, cfg.History.MaxOutputChars)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 0 {
		return fmt.Errorf("--limit must be >= 0")
	}
	_, store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), history.Query{
		SessionKey: historySession,
		Tool:       historyTool,
		Status:     historyStatus,
		Limit:      historyLimit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		if entries == nil {
			entries = []history.Entry{}
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTOOL\tSTATUS\tDURATION\tSESSION\tACTOR\tINVOCATION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Tool, e.Status, e.DurationMS,
			orDash(e.SessionKey), e.Actor, e.InvocationID)
	}
	return tw.Flush()
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	cfg, store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	retention := cfg.History.Retention
	if pruneOlderThan > 0 {
		retention = pruneOlderThan
	}
	pruner, err := history.NewPruner(store, retention, cfg.History.PruneSchedule)
	if err != nil {
		return err
	}

	removed, err := pruner.PruneNow(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries older than %s\n", removed, retention)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
