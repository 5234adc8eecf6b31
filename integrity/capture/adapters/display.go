package adapters

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/integritydesk/integrity-assistant/integrity/capture"
)

// grabberSpec names a screenshot tool and how to ask it for a PNG at dest.
type grabberSpec struct {
	binary string
	args   func(dest string) []string
}

// grabberCandidates lists known screenshot tools per OS in preference order.
var grabberCandidates = map[string][]grabberSpec{
	"darwin": {
		{binary: "screencapture", args: func(dest string) []string {
			return []string{"-x", "-t", "png", dest}
		}},
	},
	"linux": {
		{binary: "gnome-screenshot", args: func(dest string) []string {
			return []string{"-f", dest}
		}},
		{binary: "scrot", args: func(dest string) []string {
			return []string{"-o", dest}
		}},
		{binary: "import", args: func(dest string) []string {
			return []string{"-window", "root", dest}
		}},
	},
}

// DisplayOptions configures the display grabber.
type DisplayOptions struct {
	// Binary is an explicit grabber path. When set it must resolve to one
	// of the known tools; when empty the candidates for GOOS are probed.
	Binary string

	// GOOS overrides runtime.GOOS.
	GOOS string

	// TempDir receives the intermediate frame files. Defaults to os.TempDir.
	TempDir string

	// LookPath resolves candidate binaries. Defaults to exec.LookPath.
	LookPath func(string) (string, error)

	// Runner executes the grabber. Defaults to a process spawn.
	Runner Runner

	Logger zerolog.Logger
}

// DisplayGrabber captures the primary display by invoking an external
// screenshot tool and reading back the PNG it wrote.
type DisplayGrabber struct {
	binary  string
	args    func(dest string) []string
	tempDir string
	run     Runner
	log     zerolog.Logger
}

var _ capture.ScreenSource = (*DisplayGrabber)(nil)

// NewDisplayGrabber probes for a usable screenshot tool and returns a
// grabber bound to it. The error wraps capture.ErrUnavailable when no tool
// is installed for this OS.
func NewDisplayGrabber(opts DisplayOptions) (*DisplayGrabber, error) {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	run := opts.Runner
	if run == nil {
		run = runCommand
	}
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	log := opts.Logger.With().Str("component", "display").Logger()

	spec, path, err := resolveGrabber(goos, opts.Binary, lookPath)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("grabber", path).Msg("screen grabber selected")

	return &DisplayGrabber{
		binary:  path,
		args:    spec.args,
		tempDir: tempDir,
		run:     run,
		log:     log,
	}, nil
}

func resolveGrabber(goos, explicit string, lookPath func(string) (string, error)) (grabberSpec, string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		base := filepath.Base(explicit)
		for _, specs := range grabberCandidates {
			for _, spec := range specs {
				if spec.binary == base {
					return spec, explicit, nil
				}
			}
		}
		return grabberSpec{}, "", fmt.Errorf("unsupported screen grabber %q", explicit)
	}

	candidates := grabberCandidates[goos]
	if len(candidates) == 0 {
		return grabberSpec{}, "", fmt.Errorf("%w: no screen grabber known for %s", capture.ErrUnavailable, goos)
	}
	for _, spec := range candidates {
		if path, err := lookPath(spec.binary); err == nil {
			return spec, path, nil
		}
	}
	return grabberSpec{}, "", fmt.Errorf("%w: none of the known screen grabbers found on PATH", capture.ErrUnavailable)
}

// Capture grabs one frame of the primary display as PNG bytes.
func (g *DisplayGrabber) Capture(ctx context.Context) ([]byte, error) {
	tmp, err := os.CreateTemp(g.tempDir, "integrity-frame-*.png")
	if err != nil {
		return nil, fmt.Errorf("create frame file: %w", err)
	}
	dest := tmp.Name()
	tmp.Close()
	defer os.Remove(dest)

	if _, err := g.run(ctx, g.binary, g.args(dest), nil); err != nil {
		return nil, fmt.Errorf("grab display: %w", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		return nil, fmt.Errorf("read captured frame: %w", err)
	}
	return data, nil
}
