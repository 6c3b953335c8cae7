package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var appendCmd = &cobra.Command{
	Use:   "append <feature> <json|->",
	Short: "Append an event to the ledger",
	Long: `Append records a JSON payload under a feature label. Pass - to read the
payload from stdin.

  tsa append "Order Placed" '{"item":"Mulch","quantity":3}'
  echo '{"note":"manual"}' | tsa append "Water Simulator" -`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(args[1], cmd.InOrStdin())
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		entry, err := c.Append(context.Background(), args[0], payload)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("appended #%d %s", entry.Index, entry.Hash)
		return nil
	},
}

// readPayload returns arg as JSON, or stdin when arg is "-".
func readPayload(arg string, stdin io.Reader) (json.RawMessage, error) {
	raw := []byte(arg)
	if arg == "-" {
		var err error
		if raw, err = io.ReadAll(io.LimitReader(stdin, 1<<20)); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
