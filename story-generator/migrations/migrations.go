package migrations

import "embed"

// FS содержит SQL миграции воркера, вшитые в бинарник.
//
//go:embed *.sql
var FS embed.FS
