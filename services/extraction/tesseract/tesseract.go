// Package tesseract recognizes text in page images with the Tesseract engine.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer runs Tesseract in "uniform block of text" mode with interword
// spacing preserved. A fresh client is used per page so that pages can be
// recognized concurrently.
type Recognizer struct {
	languages      []string
	tessdataPrefix string
	clientFactory  func() *gosseract.Client
}

func New(languages []string, tessdataPrefix string) *Recognizer {
	if len(languages) == 0 {
		languages = []string{"fra", "eng"}
	}
	return &Recognizer{
		languages:      languages,
		tessdataPrefix: tessdataPrefix,
		clientFactory:  gosseract.NewClient,
	}
}

func (r *Recognizer) Recognize(ctx context.Context, page image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, page); err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}

	client := r.clientFactory()
	defer client.Close()

	if r.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(r.tessdataPrefix); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(r.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetVariable(gosseract.SettableVariable("preserve_interword_spaces"), "1"); err != nil {
		return "", fmt.Errorf("set preserve_interword_spaces: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
