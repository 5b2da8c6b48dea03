package extract

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner lets tests stub the external pdftotext command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// PDFExtractor converts PDF bytes to text through poppler's pdftotext and
// runs the field extractor over the result.
type PDFExtractor struct {
	binary string
	runner Runner
	logger *slog.Logger
}

// NewPDFExtractor builds an extractor shelling out to binary, or "pdftotext"
// when empty.
func NewPDFExtractor(binary string, logger *slog.Logger) *PDFExtractor {
	if binary == "" {
		binary = "pdftotext"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFExtractor{
		binary: binary,
		runner: execRunner{},
		logger: logger.With("component", "pdf_extractor"),
	}
}

// WithRunner swaps the command runner, for tests.
func (e *PDFExtractor) WithRunner(r Runner) *PDFExtractor {
	e.runner = r
	return e
}

// FromPDF extracts receipt fields from PDF bytes. Extraction failures never
// error: a missing binary, a broken PDF or an empty text layer all degrade
// to a zero-confidence result carrying a diagnostic note.
func (e *PDFExtractor) FromPDF(ctx context.Context, pdfBytes []byte) Result {
	text, err := e.pdfToText(ctx, pdfBytes)
	if err != nil {
		e.logger.Warn("pdf text extraction failed", "error", err)
		return Result{
			Currency:   "USD",
			SourceType: SourcePDFAttachment,
			Notes:      []string{"PDF extraction error: " + err.Error()},
		}
	}
	if strings.TrimSpace(text) == "" {
		return Result{
			Currency:   "USD",
			SourceType: SourcePDFAttachment,
			Notes:      []string{"PDF text extraction returned empty content"},
		}
	}
	return FromText(text, SourcePDFAttachment)
}

func (e *PDFExtractor) pdfToText(ctx context.Context, pdfBytes []byte) (string, error) {
	tmpDir, err := os.MkdirTemp("", "receipt-pdf-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", err)
		}
	}()

	path := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(path, pdfBytes, 0o600); err != nil {
		return "", err
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, _, err := e.runner.Run(ctx, e.binary, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
