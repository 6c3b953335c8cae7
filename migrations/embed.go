// Package migrations embeds the PostgreSQL schema for the event ledger's
// Postgres backend.
package migrations

import "embed"

// FS holds every *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
