// Package appfs embeds the static assets the app needs at runtime,
// the goose migration scripts in particular.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
