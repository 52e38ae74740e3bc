//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Default build: pure Go driver, no C toolchain. Semantic candidates are
// scored in Go after the filters have been applied in SQL.
//
//   CGO_ENABLED=0 go build -tags "purego" ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether vec_distance_cosine is callable
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
