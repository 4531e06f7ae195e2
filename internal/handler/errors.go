package handler

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// errorCode maps a domain error to its HTTP status and API code.
func errorCode(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, proctor.ErrPaperUnavailable):
		return http.StatusNotFound, response.ErrPaperUnavailable
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, proctor.ErrInvalidTransition):
		return http.StatusConflict, response.ErrInvalidTransition
	case errors.Is(err, proctor.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, proctor.ErrChoiceOutOfRange):
		return http.StatusBadRequest, response.ErrChoiceOutOfRange
	case errors.Is(err, proctor.ErrIndexOutOfRange):
		return http.StatusBadRequest, response.ErrIndexOutOfRange
	case errors.Is(err, proctor.ErrSessionClosed):
		return http.StatusGone, response.ErrSessionClosed
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
