package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal PDF with one page per entry. An empty entry
// yields a page without a content stream. Text is shown with a WinAnsi
// Helvetica font, so octal escapes such as \352 decode to accented letters.
func buildPDF(pageTexts ...string) []byte {
	bodies := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var kids []string
	for _, text := range pageTexts {
		pageNumber := len(bodies) + 1
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNumber))
		if text == "" {
			bodies = append(bodies, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] >>")
			continue
		}

		stream := "BT /F1 12 Tf 72 760 Td (" + text + ") Tj ET"
		bodies = append(bodies,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents %d 0 R >>", pageNumber+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}
	bodies[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /Resources << /Font << /F1 3 0 R >> >> >>",
		strings.Join(kids, " "), len(pageTexts))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(bodies))
	for i, body := range bodies {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(bodies)+1)
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(bodies)+1, xrefOffset)

	return buf.Bytes()
}

func TestReadPagesReturnsTextInPageOrder(t *testing.T) {
	assert := require.New(t)

	data := buildPDF("Premiere page du jugement", "", `Arr\352t de la cour`)
	pages, err := New().ReadPages(context.Background(), data)
	assert.NoError(err)
	assert.Len(pages, 3)

	assert.Equal("Premiere page du jugement", strings.TrimSpace(pages[0]))
	assert.Equal("", pages[1], "a page without content yields empty text")
	assert.Equal("Arrêt de la cour", strings.TrimSpace(pages[2]))
}

func TestReadPagesStopsOnCancelledContext(t *testing.T) {
	assert := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pages, err := New().ReadPages(ctx, buildPDF("Premiere page", "Seconde page"))
	assert.ErrorIs(err, context.Canceled)
	assert.Nil(pages)
}

func TestReadPagesRejectsInvalidPDF(t *testing.T) {
	assert := require.New(t)

	for _, data := range [][]byte{nil, []byte("not a pdf at all"), []byte("%PDF-1.4\n%%EOF")} {
		pages, err := New().ReadPages(context.Background(), data)
		assert.Error(err)
		assert.Nil(pages)
	}
}

func TestSanitize(t *testing.T) {
	assert := require.New(t)

	assert.Equal("arrêt", sanitize("arrêt"))
	assert.Equal("a�b", sanitize("a\xffb"))
}
