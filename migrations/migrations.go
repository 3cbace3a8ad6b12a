// Package migrations embeds the schema of the workflow stores.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Postgres returns the Postgres migrations
func Postgres() fs.FS {
	sub, _ := fs.Sub(files, "postgres")
	return sub
}

// ClickHouse returns the ClickHouse migrations
func ClickHouse() fs.FS {
	sub, _ := fs.Sub(files, "clickhouse")
	return sub
}
