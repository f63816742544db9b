package extraction

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/meghashyamc/jurisearch/logger"
	"golang.org/x/sync/errgroup"
)

const (
	// FailurePlaceholderMarker starts the text stored in place of a document
	// whose extraction failed.
	FailurePlaceholderMarker = "[ERREUR D'EXTRACTION]"

	defaultMinDirectChars = 100
	defaultDPI            = 350
	defaultOCRWorkers     = 2
)

type Source string

const (
	SourceDirect Source = "direct"
	SourceOCR    Source = "ocr"
)

// TextLayerReader returns the embedded text of every page, in page order.
type TextLayerReader interface {
	ReadPages(ctx context.Context, pdf []byte) ([]string, error)
}

type RasterOptions struct {
	DPI int
	// LastPage stops rendering after this 1-based page; zero renders all.
	LastPage int
}

// RasterPage is a rendered page whose image is decoded on demand so that a
// long document is never held in memory at once.
type RasterPage struct {
	Number int
	Load   func() (image.Image, error)
}

type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, opts RasterOptions) (pages []RasterPage, cleanup func(), err error)
}

type Recognizer interface {
	Recognize(ctx context.Context, page image.Image) (string, error)
}

type Options struct {
	MinDirectChars int
	DPI            int
	OCRWorkers     int
	Timeout        time.Duration
	MaxPages       int
}

type Result struct {
	Text       string `json:"text"`
	Source     Source `json:"source"`
	PageErrors []int  `json:"page_errors,omitempty"`
}

// PageOutcome is the result of OCR on one page: either Text or Err is set.
type PageOutcome struct {
	Number int
	Text   string
	Err    error
}

type directOutcome struct {
	text      string
	pageCount int
	err       error
}

type Pipeline struct {
	logger     logger.Logger
	textLayer  TextLayerReader
	rasterizer Rasterizer
	recognizer Recognizer
	opts       Options
}

func New(logger logger.Logger, textLayer TextLayerReader, rasterizer Rasterizer, recognizer Recognizer, opts Options) *Pipeline {
	if opts.MinDirectChars <= 0 {
		opts.MinDirectChars = defaultMinDirectChars
	}
	if opts.DPI <= 0 {
		opts.DPI = defaultDPI
	}
	if opts.OCRWorkers <= 0 {
		opts.OCRWorkers = defaultOCRWorkers
	}

	return &Pipeline{
		logger:     logger,
		textLayer:  textLayer,
		rasterizer: rasterizer,
		recognizer: recognizer,
		opts:       opts,
	}
}

// PageErrorMarker is written in place of a page that OCR could not read.
func PageErrorMarker(pageNumber int) string {
	return "[ERREUR PAGE " + strconv.Itoa(pageNumber) + "]"
}

// FailurePlaceholder is the text stored for a document whose extraction
// failed, when the caller keeps a placeholder.
func FailurePlaceholder(err error) string {
	return FailurePlaceholderMarker + " " + err.Error()
}

// Extract returns the text of a PDF. The embedded text layer is used when it
// holds more than MinDirectChars characters, otherwise every page goes
// through OCR.
func (p *Pipeline) Extract(ctx context.Context, pdf []byte) (Result, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	direct := p.extractDirect(ctx, pdf)
	if direct.err == nil && utf8.RuneCountInString(direct.text) > p.opts.MinDirectChars {
		p.logger.Debug("text layer extracted", "pages", direct.pageCount, "chars", len(direct.text))
		return Result{Text: direct.text, Source: SourceDirect}, nil
	}
	if direct.err != nil {
		p.logger.Warn("direct text extraction failed, falling back to ocr", "err", direct.err.Error())
	}

	if p.opts.MaxPages > 0 && direct.pageCount > p.opts.MaxPages {
		return Result{}, &TimeoutError{Budget: BudgetPages, Limit: strconv.Itoa(p.opts.MaxPages)}
	}

	result, err := p.extractOCR(ctx, pdf)
	if err == nil {
		return result, nil
	}

	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		return Result{}, err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		p.logger.Error("extraction timed out", "timeout", p.opts.Timeout.String())
		return Result{}, &TimeoutError{Budget: BudgetTime, Limit: p.opts.Timeout.String()}
	case direct.err == nil && direct.text != "":
		p.logger.Warn("ocr failed, keeping short text layer", "err", err.Error())
		return Result{Text: direct.text, Source: SourceDirect}, nil
	}

	p.logger.Error("text extraction failed", "err", err.Error())
	return Result{}, &ExtractionError{Cause: err, DirectCause: direct.err}
}

func (p *Pipeline) extractDirect(ctx context.Context, pdf []byte) directOutcome {
	if p.textLayer == nil {
		return directOutcome{err: errors.New("no text layer reader configured")}
	}

	pages, err := p.textLayer.ReadPages(ctx, pdf)
	if err != nil {
		return directOutcome{err: err}
	}

	var builder strings.Builder
	for _, page := range pages {
		if page == "" {
			continue
		}
		builder.WriteString(page)
		builder.WriteString("\n")
	}

	return directOutcome{text: strings.TrimSpace(builder.String()), pageCount: len(pages)}
}

func (p *Pipeline) extractOCR(ctx context.Context, pdf []byte) (Result, error) {
	if p.rasterizer == nil || p.recognizer == nil {
		return Result{}, errors.New("ocr is not configured")
	}

	rasterOpts := RasterOptions{DPI: p.opts.DPI}
	if p.opts.MaxPages > 0 {
		// One page past the budget is enough to tell that it was exceeded.
		rasterOpts.LastPage = p.opts.MaxPages + 1
	}

	pages, cleanup, err := p.rasterizer.Rasterize(ctx, pdf, rasterOpts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to rasterize pdf: %w", err)
	}
	defer cleanup()

	if p.opts.MaxPages > 0 && len(pages) > p.opts.MaxPages {
		return Result{}, &TimeoutError{Budget: BudgetPages, Limit: strconv.Itoa(p.opts.MaxPages)}
	}

	outcomes := make([]PageOutcome, len(pages))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.opts.OCRWorkers)
	for i, page := range pages {
		group.Go(func() error {
			outcomes[i] = p.recognizePage(groupCtx, page)
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	texts := make([]string, len(outcomes))
	var pageErrors []int
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			texts[i] = PageErrorMarker(outcome.Number)
			pageErrors = append(pageErrors, outcome.Number)
			continue
		}
		texts[i] = outcome.Text
	}

	return Result{
		Text:       strings.TrimSpace(strings.Join(texts, "\n")),
		Source:     SourceOCR,
		PageErrors: pageErrors,
	}, nil
}

func (p *Pipeline) recognizePage(ctx context.Context, page RasterPage) PageOutcome {
	outcome := PageOutcome{Number: page.Number}
	if err := ctx.Err(); err != nil {
		outcome.Err = err
		return outcome
	}

	img, err := page.Load()
	if err != nil {
		p.logger.Error("failed to load rendered page", "page", page.Number, "err", err.Error())
		outcome.Err = fmt.Errorf("failed to load page %d: %w", page.Number, err)
		return outcome
	}

	text, err := p.recognizer.Recognize(ctx, preprocessPage(img))
	if err != nil {
		p.logger.Error("ocr failed for page", "page", page.Number, "err", err.Error())
		outcome.Err = fmt.Errorf("ocr failed for page %d: %w", page.Number, err)
		return outcome
	}

	p.logger.Info("page processed with ocr", "page", page.Number)
	outcome.Text = text
	return outcome
}
