//go:build cgo && sqlite3_cgo

package db

// build with -tags sqlite3_cgo to use the C sqlite library
import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)
