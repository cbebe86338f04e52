package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/response"
	"github.com/stemsi/proctorquiz/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ResultHandler serves a quiz's submissions to its owner.
type ResultHandler struct {
	resultService *service.ResultService
	log           zerolog.Logger
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(resultService *service.ResultService, log zerolog.Logger) *ResultHandler {
	return &ResultHandler{
		resultService: resultService,
		log:           log.With().Str("component", "result_handler").Logger(),
	}
}

// ListSubmissions godoc
// GET /api/v1/quizzes/:quiz_id/submissions
// Lists submissions newest first.
func (h *ResultHandler) ListSubmissions(c *gin.Context) {
	claims, quizID, ok := ownerParams(c)
	if !ok {
		return
	}

	page, perPage := pageParams(c)
	subs, pagination, err := h.resultService.List(c.Request.Context(), claims.UserID, quizID, page, perPage)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"submissions": subs}, pagination)
}

// ExportCSV godoc
// GET /api/v1/quizzes/:quiz_id/submissions/csv
func (h *ResultHandler) ExportCSV(c *gin.Context) {
	h.export(c, "csv", "text/csv; charset=utf-8", h.resultService.ExportCSV)
}

// ExportXLSX godoc
// GET /api/v1/quizzes/:quiz_id/submissions/xlsx
func (h *ResultHandler) ExportXLSX(c *gin.Context) {
	h.export(c, "xlsx", xlsxContentType, h.resultService.ExportXLSX)
}

type exportFunc func(ctx context.Context, teacherID int, quizID uuid.UUID, w io.Writer) error

// export renders into memory first so a failure can still produce a JSON
// error instead of a truncated file.
func (h *ResultHandler) export(c *gin.Context, ext, contentType string, write exportFunc) {
	claims, quizID, ok := ownerParams(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := write(c.Request.Context(), claims.UserID, quizID, &buf); err != nil {
		fail(c, h.log, err)
		return
	}

	filename := fmt.Sprintf("quiz-%s-results.%s", quizID, ext)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}
