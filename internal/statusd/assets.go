package statusd

import (
	"embed"
	"io/fs"
)

//go:embed all:web
var webAssets embed.FS

// WebFS returns the dashboard's static assets rooted at web/, ready to pass
// to New.
func WebFS() fs.FS {
	sub, err := fs.Sub(webAssets, "web")
	if err != nil {
		panic(err) // web/ is embedded at build time; this cannot fail at runtime
	}
	return sub
}
