package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmerrifield20/tsa-ledger/pkg/client"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var tailFeature string

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow new ledger entries as they are appended",
	Long: `Tail holds a WebSocket to the server and prints each entry as it is
appended, until interrupted.

  tsa tail --feature "Crop Planner"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pterm.Info.Printfln("following %s (Ctrl-C to stop)", serverURL)
		err = c.Tail(ctx, func(e client.Entry) error {
			if tailFeature != "" && e.Feature != tailFeature {
				return nil
			}
			pterm.Println(strings.Join(entryRow(e), "  "))
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	tailCmd.Flags().StringVar(&tailFeature, "feature", "", "only print entries with this feature label")
}
