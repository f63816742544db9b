package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// response is the envelope of every JSON answer.
type response struct {
	Data   any      `json:"data"`
	Errors []string `json:"errors"`
}

func writeResponse(c *gin.Context, data any, statusCode int, errors []string) {

	if statusCode == http.StatusNoContent {
		c.Status(statusCode)
		return
	}

	c.JSON(statusCode, response{Data: data, Errors: errors})
}

type Pagination struct {
	CurrentPage  int  `json:"current_page"`
	PageSize     int  `json:"page_size"`
	TotalPages   int  `json:"total_pages"`
	HasNextPage  bool `json:"has_next_page"`
	HasPrevPage  bool `json:"has_prev_page"`
	TotalResults int  `json:"total_results"`
}

func calculatePagination(total, limit, offset int) Pagination {
	if limit <= 0 {
		limit = max(total, 1)
	}
	currentPage := (offset / limit) + 1
	totalPages := max((total+limit-1)/limit, 1)

	return Pagination{
		CurrentPage:  currentPage,
		PageSize:     limit,
		TotalPages:   totalPages,
		HasNextPage:  currentPage < totalPages,
		HasPrevPage:  currentPage > 1,
		TotalResults: total,
	}
}
