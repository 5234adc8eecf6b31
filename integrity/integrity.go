// Package integrity holds application-wide defaults shared across the
// assistant's packages.
package integrity

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	DefaultAppName      = "integrity-assistant"
	DefaultConfigName   = "integrity"
	DefaultDatabaseType = "libsql"
	DefaultAPIBaseURL   = "https://integrity-api.railway.app"

	// ScreenBufferCapacity is roughly 15 seconds of history at 2Hz.
	ScreenBufferCapacity    = 30
	KeystrokeBufferCapacity = 100
)

// DefaultRedactionMarkers are substrings that mark the surrounding input as a
// credential field. Matching is case-insensitive.
var DefaultRedactionMarkers = []string{
	"password", "passwd", "pwd", "pin", "credit", "card",
	"cvv", "ssn", "social", "secret",
}

// StateDir returns the per-user application data directory. It is not
// created here; callers that persist state create it on first use.
func StateDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "IntegrityAssistant")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".integrity_assistant"
	}
	return filepath.Join(home, ".integrity_assistant")
}

// DefaultDatabaseDSN locates the state database inside StateDir.
func DefaultDatabaseDSN() string {
	return "file:" + filepath.Join(StateDir(), "integrity.db")
}
