package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var verifyFile string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the ledger",
	Long: `Verify walks the hash chain from genesis and reports the first broken link.

Without --file the server verifies its own chain. With --file a chain.json
export is verified locally, without contacting any server:

  tsa verify --file chain.json`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFile, "file", "", "verify a local chain.json instead of the server's chain")
}

// errChainInvalid makes the command exit non-zero after the report is printed.
var errChainInvalid = errors.New("chain failed verification")

// fileReport is the outcome of verifying a chain file.
type fileReport struct {
	Entries int
	Root    string
	Break   *eventledger.ChainBreak
}

func verifyChainFile(path string) (fileReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileReport{}, fmt.Errorf("read %s: %w", path, err)
	}
	entries, err := eventledger.DecodeChain(data)
	if err != nil {
		return fileReport{}, err
	}

	report := fileReport{Entries: len(entries)}
	if len(entries) > 0 {
		report.Root = entries[len(entries)-1].Hash
	}
	if err := eventledger.VerifyEntries(entries); err != nil {
		var brk *eventledger.ChainBreak
		if !errors.As(err, &brk) {
			return fileReport{}, err
		}
		report.Break = brk
	}
	return report, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	if verifyFile != "" {
		report, err := verifyChainFile(verifyFile)
		if err != nil {
			return err
		}
		if report.Break != nil {
			pterm.Error.Printfln("%s: broken at index %d: %s", verifyFile, report.Break.Index, report.Break.Reason)
			return errChainInvalid
		}
		pterm.Success.Printfln("%s: %d entries verified, root %s", verifyFile, report.Entries, report.Root)
		return nil
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.Verify(context.Background())
	if err != nil {
		return err
	}
	if !res.Valid {
		if res.BrokenIndex != nil {
			pterm.Error.Printfln("%s: broken at index %d: %s", serverURL, *res.BrokenIndex, res.Error)
		} else {
			pterm.Error.Printfln("%s: %s", serverURL, res.Error)
		}
		return errChainInvalid
	}
	pterm.Success.Printfln("%s: %d entries verified", serverURL, res.Entries)
	return nil
}
