package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/middleware"
	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/response"
	"github.com/stemsi/proctorquiz/internal/service"
	"github.com/stemsi/proctorquiz/internal/validator"
)

// QuizHandler handles quiz authoring endpoints.
type QuizHandler struct {
	quizService *service.QuizService
	log         zerolog.Logger
}

// NewQuizHandler creates a new QuizHandler.
func NewQuizHandler(quizService *service.QuizService, log zerolog.Logger) *QuizHandler {
	return &QuizHandler{
		quizService: quizService,
		log:         log.With().Str("component", "quiz_handler").Logger(),
	}
}

// ListQuizzes godoc
// GET /api/v1/quizzes
// Lists the authenticated teacher's quizzes with pagination.
func (h *QuizHandler) ListQuizzes(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, perPage := pageParams(c)
	quizzes, pagination, err := h.quizService.List(c.Request.Context(), claims.UserID, page, perPage)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"quizzes": quizzes}, pagination)
}

// CreateQuiz godoc
// POST /api/v1/quizzes
// Creates a quiz, published right away when is_published is set.
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SaveQuizRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	quiz, err := h.quizService.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"quiz": quiz})
}

// GetQuiz godoc
// GET /api/v1/quizzes/:quiz_id
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	claims, quizID, ok := ownerParams(c)
	if !ok {
		return
	}

	quiz, err := h.quizService.Get(c.Request.Context(), claims.UserID, quizID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"quiz": quiz})
}

// UpdateQuiz godoc
// PUT /api/v1/quizzes/:quiz_id
// Replaces an unpublished quiz.
func (h *QuizHandler) UpdateQuiz(c *gin.Context) {
	claims, quizID, ok := ownerParams(c)
	if !ok {
		return
	}

	var req model.SaveQuizRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	quiz, err := h.quizService.Update(c.Request.Context(), claims.UserID, quizID, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"quiz": quiz})
}

// DeleteQuiz godoc
// DELETE /api/v1/quizzes/:quiz_id
// Deletes an unpublished quiz.
func (h *QuizHandler) DeleteQuiz(c *gin.Context) {
	claims, quizID, ok := ownerParams(c)
	if !ok {
		return
	}

	if err := h.quizService.Delete(c.Request.Context(), claims.UserID, quizID); err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "quiz deleted"})
}

// PublishQuiz godoc
// POST /api/v1/quizzes/:quiz_id/publish
// Publishes a draft. Its questions and settings are frozen from then on.
func (h *QuizHandler) PublishQuiz(c *gin.Context) {
	claims, quizID, ok := ownerParams(c)
	if !ok {
		return
	}

	quiz, err := h.quizService.Publish(c.Request.Context(), claims.UserID, quizID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"quiz": quiz})
}

// RepublishQuiz godoc
// POST /api/v1/quizzes/:quiz_id/republish
// Publishes an edited copy of a published quiz under a new link.
func (h *QuizHandler) RepublishQuiz(c *gin.Context) {
	claims, quizID, ok := ownerParams(c)
	if !ok {
		return
	}

	var req model.SaveQuizRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	quiz, err := h.quizService.Republish(c.Request.Context(), claims.UserID, quizID, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"quiz": quiz})
}

// ownerParams reads the claims and the :quiz_id path parameter, writing the
// error response itself when either is missing or malformed.
func ownerParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}
	quizID, err := uuid.Parse(c.Param("quiz_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, quizID, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	return page, perPage
}
