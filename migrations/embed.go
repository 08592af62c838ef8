// Package migrations holds the application database schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
