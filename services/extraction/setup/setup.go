// Package setup assembles the extraction pipeline from configuration.
package setup

import (
	"github.com/meghashyamc/jurisearch/config"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/extraction"
	"github.com/meghashyamc/jurisearch/services/extraction/pdftext"
	"github.com/meghashyamc/jurisearch/services/extraction/poppler"
	"github.com/meghashyamc/jurisearch/services/extraction/tesseract"
)

func NewPipeline(logger logger.Logger, cfg *config.Config) *extraction.Pipeline {
	return extraction.New(
		logger,
		pdftext.New(),
		poppler.New(logger, cfg.GetPdftoppmPath()),
		tesseract.New(cfg.GetOCRLanguages(), cfg.GetTessdataPrefix()),
		Options(cfg),
	)
}

func Options(cfg *config.Config) extraction.Options {
	return extraction.Options{
		MinDirectChars: cfg.GetMinDirectChars(),
		DPI:            cfg.GetDPI(),
		OCRWorkers:     cfg.GetOCRWorkers(),
		Timeout:        cfg.GetExtractionTimeout(),
		MaxPages:       cfg.GetMaxPages(),
	}
}
