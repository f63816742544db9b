package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/jurisearch/api/handlers"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/documents"
	"github.com/meghashyamc/jurisearch/services/search"
	"github.com/meghashyamc/jurisearch/validation"
)

// Uploads above this size are buffered to disk by the multipart reader.
const maxMultipartMemory = 8 << 20

func setupRoutes(router *gin.Engine, logger logger.Logger, documentService *documents.Service, searchService *search.Service, validator *validation.Validator, pageSize int) {
	router.GET("/health", health())

	handlers.SetupDocuments(router, logger, documentService, validator, pageSize)
	handlers.SetupSearch(router, logger, searchService, validator)
}

func health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
}

func newRouter() *gin.Engine {
	router := gin.New()
	router.UseRawPath = true
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(_CORSMiddleware())
	router.Use(gin.Recovery())

	return router
}
