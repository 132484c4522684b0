// Package migrations carries the schema migration files applied to the
// conversation store at startup.
package migrations

import "embed"

// FS exposes the migration SQL to the iofs source driver.
//
//go:embed *.sql
var FS embed.FS
