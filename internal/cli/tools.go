package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/harun/kitool/pkg/gateway"
	"github.com/spf13/cobra"
)

// ErrToolFailed is returned by call when the tool result is an error text.
// The text itself has already been printed.
var ErrToolFailed = errors.New("tool call failed")

var (
	toolsJSON   bool
	callArgs    string
	callSession string
	callWorkDir string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools",
	Long:  `List every registered tool with its category and description, in registration order.`,
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Call one tool and print its text result",
	Long: `Call one tool with a JSON object of arguments and print the result.
Use --args - to read the arguments from stdin. A failed call prints its
"error:" text and exits with status 1.`,
	Example: `  kitool call sh --args '{"cmd":"ls -la"}'
  kitool call read_excel --args '{"path":"sales.xlsx","sheet":null,"head":5}'
  echo '{"code":"print(1+1)"}' | kitool call py --args -`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print full descriptors as JSON")
	callCmd.Flags().StringVar(&callArgs, "args", "{}", "tool arguments as a JSON object, or - for stdin")
	callCmd.Flags().StringVar(&callSession, "session", "", "session key recorded with the call")
	callCmd.Flags().StringVar(&callWorkDir, "workdir", "", "directory relative paths resolve against")
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(callCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newToolRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	if toolsJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rt.executor.Descriptors())
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tDESCRIPTION")
	for _, def := range rt.executor.Descriptors() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", def.Name, def.Category, def.Description)
	}
	return tw.Flush()
}

func runCall(cmd *cobra.Command, args []string) error {
	toolArgs, err := parseCallArgs(callArgs, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newToolRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.openDispatcher(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := rt.dispatcher.Call(ctx, gateway.CallRequest{
		Tool:       args[0],
		Args:       toolArgs,
		SessionKey: callSession,
		WorkingDir: callWorkDir,
		Actor:      "cli",
	})
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), result.Text)
	if !strings.HasSuffix(result.Text, "\n") {
		fmt.Fprintln(cmd.OutOrStdout())
	}

	if result.IsError {
		return ErrToolFailed
	}
	return nil
}

// parseCallArgs decodes the --args value; "-" reads it from stdin.
func parseCallArgs(raw string, stdin io.Reader) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read arguments from stdin: %w", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}, nil
	}

	var toolArgs map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &toolArgs); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	if toolArgs == nil {
		toolArgs = map[string]interface{}{}
	}
	return toolArgs, nil
}
