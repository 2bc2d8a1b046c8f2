// Package webui exposes the embedded dashboard. It lives at the module root
// to embed the sibling "web/" directory.
package webui

import "embed"

// FS is the embedded web directory tree.
//
//go:embed web
var FS embed.FS
