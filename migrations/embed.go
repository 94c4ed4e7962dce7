package migrations

import "embed"

// Files exposes embedded SQL migration files, one directory per dialect,
// ordered lexicographically inside each directory.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
