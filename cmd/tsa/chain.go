package main

import (
	"context"

	"github.com/spf13/cobra"
)

// ── chain ────────────────────────────────────────────────────────────────────

var (
	chainSince  int
	chainFormat string
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Print the ledger",
	Long: `Chain prints every entry of the ledger, or those from --since onward.

  tsa chain --since 10
  tsa chain --format json > chain.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.Chain(context.Background(), chainSince)
		if err != nil {
			return err
		}
		return printEntries(entries, chainFormat)
	},
}

func init() {
	chainCmd.Flags().IntVar(&chainSince, "since", 0, "only entries with index >= since")
	chainCmd.Flags().StringVar(&chainFormat, "format", "text", "Output format: text or json")
}

// ── logs ─────────────────────────────────────────────────────────────────────

var (
	logsKey    string
	logsFormat string
)

var logsCmd = &cobra.Command{
	Use:   "logs <feature>",
	Short: "Print the entries recorded under a feature",
	Long: `Logs prints the entries recorded under one feature label. --key keeps
only entries whose payload has that key:

  tsa logs "Water Simulator" --key input`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.FeatureLogs(context.Background(), args[0], logsKey)
		if err != nil {
			return err
		}
		return printEntries(entries, logsFormat)
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsKey, "key", "", "only entries whose payload has this key")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format: text or json")
}
