// Package poppler renders PDF pages to images with the pdftoppm tool.
package poppler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/extraction"
)

const outputPrefix = "page"

// CommandRunner runs an external command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if message := strings.TrimSpace(stderr.String()); message != "" {
			return nil, fmt.Errorf("%w: %s", err, message)
		}
		return nil, err
	}
	return output, nil
}

type Rasterizer struct {
	logger logger.Logger
	binary string
	runner CommandRunner
}

// New returns a rasterizer running the pdftoppm executable at binary.
func New(logger logger.Logger, binary string) *Rasterizer {
	return NewWithRunner(logger, binary, execRunner{})
}

func NewWithRunner(logger logger.Logger, binary string, runner CommandRunner) *Rasterizer {
	if binary == "" {
		binary = "pdftoppm"
	}
	return &Rasterizer{logger: logger, binary: binary, runner: runner}
}

// Rasterize writes one grayscale PNG per page into a temporary directory.
// The returned cleanup removes it and must be called once the pages are used.
func (r *Rasterizer) Rasterize(ctx context.Context, pdf []byte, opts extraction.RasterOptions) ([]extraction.RasterPage, func(), error) {
	dir, err := os.MkdirTemp("", "jurisearch-raster-*")
	if err != nil {
		r.logger.Error("failed to create rasterization directory", "err", err.Error())
		return nil, nil, fmt.Errorf("failed to create rasterization directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove rasterization directory", "dir", dir, "err", err.Error())
		}
	}

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, pdf, 0600); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to write pdf for rasterization: %w", err)
	}

	args := []string{"-r", strconv.Itoa(opts.DPI), "-gray", "-png"}
	if opts.LastPage > 0 {
		args = append(args, "-l", strconv.Itoa(opts.LastPage))
	}
	args = append(args, input, filepath.Join(dir, outputPrefix))

	if _, err := r.runner.Run(ctx, r.binary, args...); err != nil {
		cleanup()
		r.logger.Error("pdftoppm failed", "binary", r.binary, "err", err.Error())
		return nil, nil, fmt.Errorf("pdftoppm failed: %w", err)
	}

	pages, err := collectPages(dir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if len(pages) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("pdftoppm produced no pages")
	}

	return pages, cleanup, nil
}

// collectPages finds the page-<n>.png files written by pdftoppm. The page
// number is zero-padded to the width of the page count, so files are ordered
// by the parsed number rather than by name.
func collectPages(dir string) ([]extraction.RasterPage, error) {
	paths, err := filepath.Glob(filepath.Join(dir, outputPrefix+"-*.png"))
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered pages: %w", err)
	}

	pages := make([]extraction.RasterPage, 0, len(paths))
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".png")
		number, err := strconv.Atoi(name[strings.LastIndex(name, "-")+1:])
		if err != nil {
			continue
		}
		pages = append(pages, extraction.RasterPage{Number: number, Load: pngLoader(path)})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func pngLoader(path string) func() (image.Image, error) {
	return func() (image.Image, error) {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		img, err := png.Decode(file)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
		}
		return img, nil
	}
}
