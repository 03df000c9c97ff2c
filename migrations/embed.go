// Package migrations хранит SQL-миграции схемы и отдает их встроенной FS.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
