//go:build !sqlite3_cgo

package db

// pure Go (wasm) sqlite, no cgo toolchain required
import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
