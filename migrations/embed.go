// Package migrations embeds the SQL schema so binaries can apply it without a checkout.
package migrations

import "embed"

// FS holds every NNN_description.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
