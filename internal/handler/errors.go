package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/proctorquiz/internal/admission"
	"github.com/stemsi/proctorquiz/internal/response"
	"github.com/stemsi/proctorquiz/internal/service"
)

// classify maps a service error to its HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, admission.ErrQuizNotFound), errors.Is(err, service.ErrQuizNotFound):
		return http.StatusNotFound, response.ErrQuizNotFound
	case errors.Is(err, admission.ErrNotYetOpen):
		return http.StatusForbidden, response.ErrQuizNotOpen
	case errors.Is(err, admission.ErrAlreadyClosed):
		return http.StatusForbidden, response.ErrQuizClosed
	case errors.Is(err, admission.ErrAlreadyAttempted):
		return http.StatusConflict, response.ErrAlreadyAttempted
	case errors.Is(err, service.ErrNotQuizOwner):
		return http.StatusForbidden, response.ErrNotQuizOwner
	case errors.Is(err, service.ErrQuizPublished):
		return http.StatusConflict, response.ErrQuizPublished
	case errors.Is(err, service.ErrQuizNotPublished):
		return http.StatusConflict, response.ErrQuizNotPublished
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, response.ErrInvalidCredentials
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, response.ErrEmailTaken
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// fail writes the error response for err. Validation errors carry their
// field messages; unexpected errors are logged and hidden.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, verr.Fields)
		return
	}

	status, code := classify(err)
	if code == response.ErrInternal {
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
