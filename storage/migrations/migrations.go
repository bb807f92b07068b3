// Package migrations embeds the storage schema so the consumer can migrate
// on startup without a migrations directory next to the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
