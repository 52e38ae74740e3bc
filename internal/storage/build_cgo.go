//go:build sqlite_vec && !purego
// +build sqlite_vec,!purego

package storage

// Compiled with CGO and the sqlite_vec tag. Semantic candidates are ranked
// in SQL by vec_distance_cosine over the stored float32 blobs.
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether vec_distance_cosine is callable
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
