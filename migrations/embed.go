// Package migrations embeds the SQL migrations applied by "rips-server migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
