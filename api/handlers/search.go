package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/jurisearch/db"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/search"
	"github.com/meghashyamc/jurisearch/validation"
)

type SearchRequest struct {
	Query string `form:"query" validate:"valid_query,max=1000"`
	Kind  string `form:"kind" validate:"valid_kind"`
}

func SetupSearch(router *gin.Engine, logger logger.Logger, service *search.Service, validator *validation.Validator) {
	router.GET("/search", handleSearch(service, logger, validator))
}

// handleSearch ranks the extracted texts against the query. An empty query
// is answered with no results rather than rejected.
func handleSearch(service *search.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := SearchRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request parameters"})
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		response, err := service.Search(request.Query, db.Kind(request.Kind))
		if err != nil {
			logger.Error("search failed", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		writeResponse(c, response, http.StatusOK, nil)
	}
}
