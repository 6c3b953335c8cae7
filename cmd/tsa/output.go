package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmerrifield20/tsa-ledger/pkg/client"
	"github.com/pterm/pterm"
)

const (
	hashWidth    = 12
	payloadWidth = 60
)

var entryHeader = []string{"INDEX", "TIMESTAMP", "FEATURE", "HASH", "PAYLOAD"}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func entryRow(e client.Entry) []string {
	return []string{
		strconv.Itoa(e.Index),
		e.Timestamp.UTC().Format(time.RFC3339),
		e.Feature,
		shorten(e.Hash, hashWidth),
		shorten(string(e.Payload), payloadWidth),
	}
}

func entryRows(entries []client.Entry) [][]string {
	rows := make([][]string, 0, len(entries)+1)
	rows = append(rows, entryHeader)
	for _, e := range entries {
		rows = append(rows, entryRow(e))
	}
	return rows
}

func printEntries(entries []client.Entry, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text", "":
		if len(entries) == 0 {
			pterm.Info.Println("no entries")
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithData(entryRows(entries)).Render()
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}
}
