package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/morezero/capability-bridge/internal/client"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [args...]",
	Short: "Call a provider method through the bridge",
	Long: `Call a provider method through the bridge.

Each argument is sent as JSON when it parses as JSON and as a plain string
otherwise, so  bridge call summarize "some text" '{"length":"short"}'  sends a
string and an options object.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringP("output", "o", "", "Output format (json)")
	callCmd.Flags().Duration("timeout", 0, "Per-call timeout (default BRIDGE_CALL_TIMEOUT)")
}

// parseArgs turns command-line words into positional call arguments.
func parseArgs(words []string) []interface{} {
	args := make([]interface{}, 0, len(words))
	for _, w := range words {
		if gjson.Valid(w) {
			args = append(args, gjson.Parse(w).Value())
			continue
		}
		args = append(args, w)
	}
	return args
}

func runCall(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "" && output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if timeout > 0 {
		cfg.CallTimeout = timeout
	}

	s, err := client.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.Client.Call(cmd.Context(), args[0], parseArgs(args[1:])...)
	if err != nil {
		return err
	}

	if text, ok := result.(string); ok && output == "" {
		pterm.Println(text)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
