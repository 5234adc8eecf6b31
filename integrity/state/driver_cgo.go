//go:build cgo

package state

// The embedded libsql driver is cgo-only; registering it from a cgo-gated
// file keeps the rest of the package buildable with CGO_ENABLED=0.
import _ "github.com/tursodatabase/go-libsql"
