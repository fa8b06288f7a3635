// Package migrations embeds the schema migrations for every supported
// storage driver.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// FS returns the migrations for driver ("postgres" or "sqlite").
func FS(driver string) (fs.FS, error) {
	return fs.Sub(files, driver)
}
