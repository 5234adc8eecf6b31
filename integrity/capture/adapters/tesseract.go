package adapters

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/integritydesk/integrity-assistant/integrity/capture"
)

const (
	// DefaultTesseractBinary is the binary probed on PATH when no explicit
	// path is configured.
	DefaultTesseractBinary = "tesseract"

	// DefaultPageSegMode is tesseract's fully automatic page segmentation.
	DefaultPageSegMode = 3
)

// TesseractOptions configures the tesseract-backed recognizer.
type TesseractOptions struct {
	// Binary is the tesseract executable name or path.
	Binary string

	// Languages passed as a combined -l argument. Defaults to eng.
	Languages []string

	// PageSegMode is the --psm value. Defaults to DefaultPageSegMode.
	PageSegMode int

	// LookPath resolves the binary. Defaults to exec.LookPath.
	LookPath func(string) (string, error)

	// Runner executes the command. Defaults to a process spawn.
	Runner Runner

	Logger zerolog.Logger
}

// TesseractRecognizer shells out to the tesseract CLI, feeding the image on
// stdin and reading the recognized text from stdout.
type TesseractRecognizer struct {
	binary   string
	langArg  string
	psm      string
	lookPath func(string) (string, error)
	run      Runner
	log      zerolog.Logger
}

var _ capture.TextRecognizer = (*TesseractRecognizer)(nil)

// NewTesseractRecognizer builds a recognizer from opts.
func NewTesseractRecognizer(opts TesseractOptions) *TesseractRecognizer {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = DefaultTesseractBinary
	}

	languages := make([]string, 0, len(opts.Languages))
	for _, lang := range opts.Languages {
		if trimmed := strings.TrimSpace(lang); trimmed != "" {
			languages = append(languages, trimmed)
		}
	}
	if len(languages) == 0 {
		languages = []string{"eng"}
	}

	psm := opts.PageSegMode
	if psm <= 0 {
		psm = DefaultPageSegMode
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	run := opts.Runner
	if run == nil {
		run = runCommand
	}

	return &TesseractRecognizer{
		binary:   binary,
		langArg:  strings.Join(languages, "+"),
		psm:      strconv.Itoa(psm),
		lookPath: lookPath,
		run:      run,
		log:      opts.Logger.With().Str("component", "tesseract").Logger(),
	}
}

// Available reports whether the tesseract binary can be resolved.
func (r *TesseractRecognizer) Available() bool {
	_, err := r.lookPath(r.binary)
	return err == nil
}

// Recognize runs tesseract over the image and returns its raw text output.
func (r *TesseractRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	path, err := r.lookPath(r.binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found on PATH", capture.ErrUnavailable, r.binary)
	}

	args := []string{"stdin", "stdout", "-l", r.langArg, "--psm", r.psm}
	out, err := r.run(ctx, path, args, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return string(out), nil
}
