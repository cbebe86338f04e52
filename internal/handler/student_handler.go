package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/response"
	"github.com/stemsi/proctorquiz/internal/service"
	"github.com/stemsi/proctorquiz/internal/validator"
)

// StudentHandler serves the unauthenticated, link-addressed student
// endpoints.
type StudentHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(attemptService *service.AttemptService, log zerolog.Logger) *StudentHandler {
	return &StudentHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "student_handler").Logger(),
	}
}

// GetQuiz godoc
// GET /api/v1/quiz/:link
// Returns the quiz without answer keys while its window is open.
func (h *StudentHandler) GetQuiz(c *gin.Context) {
	quiz, err := h.attemptService.GetByLink(c.Request.Context(), c.Param("link"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"quiz": quiz})
}

// Submit godoc
// POST /api/v1/quiz/:link/submit
// Admits, scores and stores one attempt.
func (h *StudentHandler) Submit(c *gin.Context) {
	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attemptService.Submit(c.Request.Context(), c.Param("link"), req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"result": res})
}

// LogViolation godoc
// POST /api/v1/quiz/:link/log-violation
// Accepts advisory telemetry. Scores never depend on it.
func (h *StudentHandler) LogViolation(c *gin.Context) {
	var req model.LogViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.LogViolation(c.Request.Context(), c.Param("link"), req); err != nil {
		fail(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
