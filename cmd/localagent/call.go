package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holon-run/localagent/pkg/client"
	"github.com/spf13/cobra"
)

var callRPCURL string

var callCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Send one JSON-RPC request to a running server",
	Long: `Send a single JSON-RPC request to a running "localagent serve" and print
the result as indented JSON.

Example:
  localagent call search/start '{"directory":".","pattern":"*.go"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var params json.RawMessage
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("params must be valid JSON")
			}
			params = json.RawMessage(args[1])
		}

		rpcURL := callRPCURL
		if rpcURL == "" {
			rpcURL = fmt.Sprintf("http://%s/rpc", cfg.Server.Listen)
		}

		c := client.NewRPCClient(rpcURL)
		result, err := c.CallRaw(cmd.Context(), args[0], params)
		if err != nil {
			var rpcErr *client.RPCError
			if errors.As(err, &rpcErr) && len(rpcErr.Data) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "data: %s\n", rpcErr.Data)
			}
			return err
		}

		var out bytes.Buffer
		if err := json.Indent(&out, result, "", "  "); err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.String())
		return nil
	},
}

func init() {
	callCmd.Flags().StringVar(&callRPCURL, "rpc", "", "RPC endpoint URL (default http://<server.listen>/rpc)")
	rootCmd.AddCommand(callCmd)
}
