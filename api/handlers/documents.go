package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/jurisearch/db"
	"github.com/meghashyamc/jurisearch/db/searchdb"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/documents"
	"github.com/meghashyamc/jurisearch/validation"
)

const attachmentFormField = "attachment"

type DocumentRequest struct {
	Kind             string   `form:"kind" validate:"required,valid_kind"`
	CaseNumber       string   `form:"case_number" validate:"max=100"`
	RollNumber       string   `form:"roll_number" validate:"max=100"`
	Date             string   `form:"date" validate:"valid_date"`
	President        string   `form:"president" validate:"max=255"`
	AssociateJudges  []string `form:"associate_judges"`
	Clerk            string   `form:"clerk" validate:"max=255"`
	Claimants        string   `form:"claimants"`
	Defendants       string   `form:"defendants"`
	ClaimantCounsel  string   `form:"claimant_counsel"`
	DefendantCounsel string   `form:"defendant_counsel"`
	Subject          string   `form:"subject"`
	Owner            string   `form:"owner" validate:"max=150"`
}

func (r *DocumentRequest) toInput() documents.Input {
	input := documents.Input{
		Kind:             db.Kind(r.Kind),
		CaseNumber:       strings.TrimSpace(r.CaseNumber),
		RollNumber:       strings.TrimSpace(r.RollNumber),
		President:        strings.TrimSpace(r.President),
		Clerk:            strings.TrimSpace(r.Clerk),
		Claimants:        strings.TrimSpace(r.Claimants),
		Defendants:       strings.TrimSpace(r.Defendants),
		ClaimantCounsel:  strings.TrimSpace(r.ClaimantCounsel),
		DefendantCounsel: strings.TrimSpace(r.DefendantCounsel),
		Subject:          strings.TrimSpace(r.Subject),
		Owner:            strings.TrimSpace(r.Owner),
	}
	for _, judge := range r.AssociateJudges {
		if judge = strings.TrimSpace(judge); judge != "" {
			input.AssociateJudges = append(input.AssociateJudges, judge)
		}
	}
	// Already checked by valid_date.
	if date, err := time.Parse(validation.DateLayout, r.Date); err == nil {
		input.Date = &date
	}
	return input
}

type ListRequest struct {
	Kind    string `form:"kind" validate:"valid_kind"`
	PerPage int    `form:"per_page" validate:"min=0,max=100"`
	Page    int    `form:"page" validate:"min=0"`
}

type ListResponse struct {
	Documents   []*db.Document `json:"documents"`
	PageDetails Pagination     `json:"page_details"`
}

type LookupRequest struct {
	Query   string `form:"query" validate:"required,valid_query,min=1,max=1000"`
	Kind    string `form:"kind" validate:"valid_kind"`
	PerPage int    `form:"per_page" validate:"min=0,max=100"`
	Page    int    `form:"page" validate:"min=0"`
}

type LookupResponse struct {
	Results     []searchdb.Result `json:"results"`
	PageDetails Pagination        `json:"page_details"`
}

type pageParams struct {
	page    int
	perPage int
}

func (p pageParams) limitOffset(defaultPerPage int) (int, int) {
	perPage := p.perPage
	if perPage == 0 {
		perPage = defaultPerPage
	}
	page := p.page
	if page == 0 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}

func SetupDocuments(router *gin.Engine, logger logger.Logger, service *documents.Service, validator *validation.Validator, pageSize int) {
	group := router.Group("/documents")
	group.POST("", handleCreateDocument(service, logger, validator))
	group.GET("", handleListDocuments(service, logger, validator, pageSize))
	group.GET("/lookup", handleLookupDocuments(service, logger, validator, pageSize))
	group.GET("/:id", handleGetDocument(service, logger))
	group.PUT("/:id", handleUpdateDocument(service, logger, validator))
	group.DELETE("/:id", handleDeleteDocument(service, logger))
	group.GET("/:id/attachment", handleGetAttachment(service, logger))
	group.POST("/:id/extract", handleReextract(service, logger))
	group.GET("/:id/extraction", handleGetExtraction(service, logger))
}

func handleCreateDocument(service *documents.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request, upload, ok := bindDocumentRequest(c, logger, validator, service)
		if !ok {
			return
		}

		doc, err := service.Create(c.Request.Context(), request.toInput(), upload)
		if err != nil {
			logger.Warn("could not create document", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, statusForError(err), []string{err.Error()})
			return
		}

		writeResponse(c, doc, statusForSave(doc), nil)
	}
}

func handleUpdateDocument(service *documents.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := documentID(c, logger)
		if !ok {
			return
		}
		request, upload, ok := bindDocumentRequest(c, logger, validator, service)
		if !ok {
			return
		}

		doc, err := service.Update(c.Request.Context(), id, request.toInput(), upload)
		if err != nil {
			logger.Warn("could not update document", "id", id, "err", err.Error())
			c.Abort()
			writeResponse(c, nil, statusForError(err), []string{err.Error()})
			return
		}

		status := statusForSave(doc)
		if status == http.StatusCreated {
			status = http.StatusOK
		}
		writeResponse(c, doc, status, nil)
	}
}

func handleListDocuments(service *documents.Service, logger logger.Logger, validator *validation.Validator, pageSize int) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := ListRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from list request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request parameters"})
			return
		}
		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate list request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		limit, offset := pageParams{page: request.Page, perPage: request.PerPage}.limitOffset(pageSize)
		page, err := service.List(db.Kind(request.Kind), limit, offset)
		if err != nil {
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		writeResponse(c, ListResponse{
			Documents:   page.Documents,
			PageDetails: calculatePagination(page.Total, limit, offset),
		}, http.StatusOK, nil)
	}
}

func handleLookupDocuments(service *documents.Service, logger logger.Logger, validator *validation.Validator, pageSize int) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := LookupRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from lookup request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request parameters"})
			return
		}
		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate lookup request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		limit, offset := pageParams{page: request.Page, perPage: request.PerPage}.limitOffset(pageSize)
		response, err := service.Lookup(request.Query, db.Kind(request.Kind), limit, offset)
		if err != nil {
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		writeResponse(c, LookupResponse{
			Results:     response.Results,
			PageDetails: calculatePagination(int(response.Total), limit, offset),
		}, http.StatusOK, nil)
	}
}

func handleGetDocument(service *documents.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := documentID(c, logger)
		if !ok {
			return
		}

		doc, err := service.Get(id)
		if err != nil {
			c.Abort()
			writeResponse(c, nil, statusForError(err), []string{err.Error()})
			return
		}
		writeResponse(c, doc, http.StatusOK, nil)
	}
}

func handleDeleteDocument(service *documents.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := documentID(c, logger)
		if !ok {
			return
		}

		if err := service.Delete(id); err != nil {
			logger.Warn("could not delete document", "id", id, "err", err.Error())
			c.Abort()
			writeResponse(c, nil, statusForError(err), []string{err.Error()})
			return
		}
		writeResponse(c, nil, http.StatusNoContent, nil)
	}
}

func handleGetAttachment(service *documents.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := documentID(c, logger)
		if !ok {
			return
		}

		attachment, data, err := service.Attachment(id)
		if err != nil {
			c.Abort()
			writeResponse(c, nil, statusForError(err), []string{err.Error()})
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.Name))
		c.Data(http.StatusOK, "application/pdf", data)
	}
}

func handleReextract(service *documents.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := documentID(c, logger)
		if !ok {
			return
		}

		doc, err := service.Reextract(c.Request.Context(), id)
		if err != nil {
			logger.Warn("could not extract document text", "id", id, "err", err.Error())
			c.Abort()
			writeResponse(c, nil, statusForError(err), []string{err.Error()})
			return
		}

		status := http.StatusOK
		if doc.Extraction.Status == db.ExtractionPending {
			status = http.StatusAccepted
		}
		writeResponse(c, doc, status, nil)
	}
}

func handleGetExtraction(service *documents.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := documentID(c, logger)
		if !ok {
			return
		}

		info, err := service.ExtractionStatus(id)
		if err != nil {
			c.Abort()
			writeResponse(c, nil, statusForError(err), []string{err.Error()})
			return
		}
		writeResponse(c, info, http.StatusOK, nil)
	}
}

func bindDocumentRequest(c *gin.Context, logger logger.Logger, validator *validation.Validator, service *documents.Service) (*DocumentRequest, *documents.Upload, bool) {
	request := DocumentRequest{}
	if err := c.ShouldBind(&request); err != nil {
		logger.Warn("could not extract expected fields from document request", "err", err.Error())
		c.Abort()
		writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request body parameters"})
		return nil, nil, false
	}

	if err := validator.Validate(request); err != nil {
		logger.Warn("could not validate document request", "err", err.Error())
		c.Abort()
		writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
		return nil, nil, false
	}

	fileHeader, err := c.FormFile(attachmentFormField)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return &request, nil, true
	}
	if err != nil {
		logger.Warn("could not read attachment", "err", err.Error())
		c.Abort()
		writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to read attachment"})
		return nil, nil, false
	}

	kind := db.Kind(request.Kind)
	limit := service.UploadLimit(kind)
	if limit > 0 && fileHeader.Size > limit {
		err := &documents.TooLargeError{Kind: kind, Size: fileHeader.Size, Limit: limit}
		logger.Warn("attachment too large", "name", fileHeader.Filename, "err", err.Error())
		c.Abort()
		writeResponse(c, nil, http.StatusRequestEntityTooLarge, []string{err.Error()})
		return nil, nil, false
	}

	upload, err := readUpload(fileHeader, kind, limit)
	if err != nil {
		logger.Warn("invalid attachment", "name", fileHeader.Filename, "err", err.Error())
		status := http.StatusNotAcceptable
		if errors.Is(err, documents.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.Abort()
		writeResponse(c, nil, status, []string{err.Error()})
		return nil, nil, false
	}
	return &request, upload, true
}

// readUpload reads at most limit bytes of the attachment; zero means no
// limit.
func readUpload(fileHeader *multipart.FileHeader, kind db.Kind, limit int64) (*documents.Upload, error) {
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		return nil, errors.New("attachment must be a pdf file")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	if limit > 0 {
		reader = io.LimitReader(file, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, &documents.TooLargeError{Kind: kind, Size: int64(len(data)), Limit: limit}
	}
	return &documents.Upload{Name: filepath.Base(fileHeader.Filename), Data: data}, nil
}

func documentID(c *gin.Context, logger logger.Logger) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		logger.Warn("invalid document id", "id", c.Param("id"))
		c.Abort()
		writeResponse(c, nil, http.StatusBadRequest, []string{"invalid document id"})
		return 0, false
	}
	return id, true
}

func statusForSave(doc *db.Document) int {
	if doc.Extraction.Status == db.ExtractionPending {
		return http.StatusAccepted
	}
	return http.StatusCreated
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, documents.ErrNotFound), errors.Is(err, documents.ErrNoAttachment):
		return http.StatusNotFound
	case errors.Is(err, documents.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, documents.ErrInvalidKind):
		return http.StatusNotAcceptable
	case documents.IsRejected(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
