//go:build sqlite_cgo

package sqlitedb

// Build with: CGO_ENABLED=1 go build -tags sqlite_cgo ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver name.
	DriverName = "sqlite3"

	// BuildMode describes the driver selected at build time.
	BuildMode = "cgo"
)
