package assets

import (
	"embed"
)

// SQL store migrations, one directory per dialect
//
//go:embed migrations
var Migrations embed.FS
