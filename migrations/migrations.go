// Package migrations embeds the schema of the relational store the analytics
// service reads from.
package migrations

import "embed"

// FS holds the versioned up/down SQL files.
//
//go:embed *.sql
var FS embed.FS
