// Common test helpers
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/jurisearch/config"
	"github.com/meghashyamc/jurisearch/db/kvdb"
	"github.com/meghashyamc/jurisearch/db/searchdb"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/documents"
	"github.com/meghashyamc/jurisearch/services/extraction"
	"github.com/meghashyamc/jurisearch/services/search"
	"github.com/meghashyamc/jurisearch/validation"
	"github.com/stretchr/testify/require"
)

const testPDFHeader = "%PDF-1.4\n"

type testCase struct {
	name             string
	requestHeaders   map[string]string
	queryParams      map[string]string
	expectedStatus   int
	expectedResponse map[string]any
}

type testAttachment struct {
	name    string
	content []byte
}

func pdfAttachment(name string, text string) *testAttachment {
	return &testAttachment{name: name, content: []byte(testPDFHeader + text)}
}

// textExtractor treats everything after the PDF header as the text layer.
// A body containing UNREADABLE fails like a scan that OCR cannot read.
type textExtractor struct{}

func (textExtractor) Extract(ctx context.Context, pdf []byte) (extraction.Result, error) {
	text := strings.TrimPrefix(string(pdf), testPDFHeader)
	if strings.Contains(text, "UNREADABLE") {
		return extraction.Result{}, &extraction.ExtractionError{Cause: errors.New("no text recognized")}
	}
	return extraction.Result{Text: text, Source: extraction.SourceDirect}, nil
}

func newTestLogger() logger.Logger {

	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}

func setupTestServer(t *testing.T, assert *require.Assertions) (*gin.Engine, func()) {

	t.Setenv("ENV", "test")
	storagePath := t.TempDir()
	t.Setenv("STORAGE_PATH", storagePath)
	t.Setenv("KVDB_PATH", filepath.Join(storagePath, "documents.db"))

	cfg, err := config.Load()
	assert.NoError(err, "could not load config")

	testLogger := newTestLogger()

	searchDB, err := searchdb.New(testLogger, cfg)
	assert.NoError(err, "could not create search database")

	kvDB, err := kvdb.New(testLogger, cfg)
	assert.NoError(err, "could not create kv database")
	validator, err := validation.New(testLogger)
	assert.NoError(err, "could not create validator")

	ctx, cancel := context.WithCancel(context.Background())
	documentService := documents.New(ctx, testLogger, kvDB, textExtractor{}, searchDB, documents.OptionsFromConfig(cfg))
	searchService := search.New(testLogger, documentService.Store(), cfg.IncludePlaceholdersInSearch())

	gin.SetMode(gin.TestMode)
	router := gin.New()

	SetupDocuments(router, testLogger, documentService, validator, cfg.GetPageSize())
	SetupSearch(router, testLogger, searchService, validator)

	cleanup := func() {
		cancel()
		err := searchDB.Close()
		assert.NoError(err, "could not close search database")
		err = kvDB.Close()
		assert.NoError(err, "could not close kv database")
	}

	return router, cleanup
}

func makeTestHTTPRequest(router *gin.Engine, assert *require.Assertions, method string, endpoint string, headers map[string]string, queryParams map[string]string) *httptest.ResponseRecorder {

	w := httptest.NewRecorder()

	if len(queryParams) > 0 {
		values := url.Values{}
		for key, value := range queryParams {
			values.Set(key, value)
		}
		endpoint = endpoint + "?" + values.Encode()
	}

	slog.Info("Making test request", "method", method, "endpoint", endpoint, "headers", headers)

	req, err := http.NewRequest(method, endpoint, nil)
	assert.NoError(err)

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	router.ServeHTTP(w, req)

	return w
}

func makeMultipartTestRequest(router *gin.Engine, assert *require.Assertions, method string, endpoint string, fields map[string]string, attachment *testAttachment) *httptest.ResponseRecorder {

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		assert.NoError(writer.WriteField(key, value))
	}
	if attachment != nil {
		part, err := writer.CreateFormFile(attachmentFormField, attachment.name)
		assert.NoError(err)
		_, err = part.Write(attachment.content)
		assert.NoError(err)
	}
	assert.NoError(writer.Close())

	req, err := http.NewRequest(method, endpoint, &body)
	assert.NoError(err)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(assert *require.Assertions, w *httptest.ResponseRecorder) map[string]any {
	var responseMap map[string]any
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &responseMap), "response gotten was %s", w.Body.String())
	return responseMap
}

// createTestDocument posts a document and returns its id.
func createTestDocument(router *gin.Engine, assert *require.Assertions, fields map[string]string, attachment *testAttachment) string {
	w := makeMultipartTestRequest(router, assert, http.MethodPost, "/documents", fields, attachment)
	assert.Equal(http.StatusCreated, w.Code, "response gotten was %s", w.Body.String())

	data := decodeResponse(assert, w)["data"].(map[string]any)
	return jsonNumberString(data["id"])
}

func jsonNumberString(value any) string {
	number, _ := json.Marshal(value)
	return string(number)
}
