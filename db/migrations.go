// Package db holds the postgres schema migrations compiled into the binary
package db

import (
	"embed"
	"io/fs"
)

//go:embed pg/*.sql
var files embed.FS

// Migrations returns the postgres migration files rooted at their folder
func Migrations() fs.FS {
	sub, err := fs.Sub(files, "pg")
	if err != nil {
		panic(err)
	}
	return sub
}
