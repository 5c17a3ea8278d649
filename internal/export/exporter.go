// Package export shells out to pandoc to turn the manuscript into
// reader formats.
package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/ajmarsh/storyforge/internal/config"
)

// ExportError carries pandoc's stderr when a conversion fails.
type ExportError struct {
	Format string
	Stderr string
	Err    error
}

func (e *ExportError) Error() string {
	msg := fmt.Sprintf("pandoc %s export failed: %v", e.Format, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExportError) Unwrap() error { return e.Err }

// Metadata is the book-level information stamped into exports.
type Metadata struct {
	Title  string
	Author string
	// Cover is a path to a cover image, optional and EPUB-only.
	Cover string
}

// Exporter converts the manuscript via pandoc.
type Exporter struct {
	cfg    config.ExportConfig
	logger *slog.Logger

	// run is swapped out in tests.
	run func(ctx context.Context, args []string) (string, error)
}

// New creates an Exporter with the given format settings.
func New(cfg config.ExportConfig) *Exporter {
	return &Exporter{
		cfg:    cfg,
		logger: slog.Default(),
		run:    runPandoc,
	}
}

// CheckPandoc reports whether a pandoc binary is callable.
func CheckPandoc(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "pandoc", "--version").Run(); err != nil {
		return fmt.Errorf("pandoc not available: %w", err)
	}
	return nil
}

// EPUB converts the manuscript to an EPUB at outPath.
func (e *Exporter) EPUB(ctx context.Context, manuscript, outPath string, meta Metadata) error {
	args := buildEPUBArgs(manuscript, outPath, meta)
	e.logger.Info("exporting EPUB", "output", outPath)
	if stderr, err := e.run(ctx, args); err != nil {
		return &ExportError{Format: "epub", Stderr: stderr, Err: err}
	}
	return nil
}

// PDF converts the manuscript to a PDF at outPath.
func (e *Exporter) PDF(ctx context.Context, manuscript, outPath string, meta Metadata) error {
	args := buildPDFArgs(manuscript, outPath, meta, e.cfg.PDF)
	e.logger.Info("exporting PDF", "output", outPath, "engine", e.cfg.PDF.Engine)
	if stderr, err := e.run(ctx, args); err != nil {
		return &ExportError{Format: "pdf", Stderr: stderr, Err: err}
	}
	return nil
}

func buildEPUBArgs(manuscript, outPath string, meta Metadata) []string {
	args := []string{
		manuscript,
		"-o", outPath,
		"--toc",
		"--toc-depth=2",
		"--metadata", "title=" + meta.Title,
		"--metadata", "author=" + meta.Author,
	}
	if meta.Cover != "" {
		args = append(args, "--epub-cover-image="+meta.Cover)
	}
	return args
}

func buildPDFArgs(manuscript, outPath string, meta Metadata, pdf config.PDFFormat) []string {
	args := []string{
		manuscript,
		"-o", outPath,
		"--toc",
		"--toc-depth=2",
		"--metadata", "title=" + meta.Title,
		"--metadata", "author=" + meta.Author,
	}
	if pdf.Engine != "" {
		args = append(args, "--pdf-engine="+pdf.Engine)
	}
	if pdf.FontSize > 0 {
		args = append(args, fmt.Sprintf("--variable=fontsize:%dpt", pdf.FontSize))
	}
	if pdf.Margin != "" {
		args = append(args, "--variable=geometry:margin="+pdf.Margin)
	}
	return args
}

func runPandoc(ctx context.Context, args []string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "pandoc", args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}
