//go:build !sqlite_cgo

package sqlitedb

// Pure Go driver, no C toolchain required. This is the default build.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver name.
	DriverName = "sqlite"

	// BuildMode describes the driver selected at build time.
	BuildMode = "purego"
)
