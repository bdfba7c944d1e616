/**
 * PDF Rasterizer - page count and page-by-page rendering
 *
 * pdfcpu parses and validates the document and reports its page count.
 * Rendering is delegated to poppler's pdftoppm, one page per invocation, so
 * only the current page image is ever held in memory.
 */

package pdf

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrRasterizerMissing is returned when the pdftoppm binary cannot be found.
var ErrRasterizerMissing = errors.New("pdftoppm not found")

// Rasterizer renders PDF pages to PNG.
type Rasterizer struct {
	DPI          int
	PdftoppmPath string
	TempDir      string
}

// NewRasterizer creates a rasterizer; empty values fall back to 190 DPI,
// "pdftoppm" on PATH and the system temp dir.
func NewRasterizer(dpi int, pdftoppmPath, tempDir string) *Rasterizer {
	if dpi <= 0 {
		dpi = 190
	}
	if pdftoppmPath == "" {
		pdftoppmPath = "pdftoppm"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Rasterizer{DPI: dpi, PdftoppmPath: pdftoppmPath, TempDir: tempDir}
}

// PageCount validates the PDF and returns its number of pages.
func (r *Rasterizer) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(f, conf)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF: %w", err)
	}
	return n, nil
}

// CheckAvailable reports ErrRasterizerMissing when pdftoppm cannot be run.
func (r *Rasterizer) CheckAvailable() error {
	if _, err := exec.LookPath(r.PdftoppmPath); err != nil {
		return fmt.Errorf("%w: %s", ErrRasterizerMissing, r.PdftoppmPath)
	}
	return nil
}

// RenderPage renders 1-based page n of the PDF at path and returns PNG bytes.
func (r *Rasterizer) RenderPage(ctx context.Context, path string, n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid page number %d", n)
	}

	dir, err := os.MkdirTemp(r.TempDir, "voterroll-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, r.PdftoppmPath, r.args(path, n, prefix)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if notStarted(cmd, err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrRasterizerMissing, r.PdftoppmPath, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", n, err, strings.TrimSpace(string(out)))
	}

	// -singlefile writes exactly <prefix>.png
	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("rendered page %d not found: %w", n, err)
	}
	return data, nil
}

// notStarted reports whether pdftoppm could not be launched at all: a bare
// name missing from PATH, or an explicit path that does not exist.
func notStarted(cmd *exec.Cmd, err error) bool {
	if cmd.ProcessState != nil {
		return false
	}
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

func (r *Rasterizer) args(path string, n int, prefix string) []string {
	page := strconv.Itoa(n)
	return []string{
		"-png",
		"-r", strconv.Itoa(r.DPI),
		"-f", page,
		"-l", page,
		"-singlefile",
		path,
		prefix,
	}
}
