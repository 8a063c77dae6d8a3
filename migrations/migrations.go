// Package migrations holds the checkpoint database schema. The SQL files are
// compiled into the binary so the agent can migrate without a checkout.
package migrations

import "embed"

// Files contains every up and down migration.
//
//go:embed *.sql
var Files embed.FS
