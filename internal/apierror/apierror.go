package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrBadRequest         ErrorCode = "BAD_REQUEST"
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrUnprocessable      ErrorCode = "UNPROCESSABLE"
	ErrBadGateway         ErrorCode = "BAD_GATEWAY"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalServer     ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.WithField("code", code).Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// coder is implemented by domain errors that know their API code.
type coder interface {
	APIErrorCode() ErrorCode
}

// FromError converts any error into an APIError. APIErrors pass through,
// domain errors keep their code and everything else becomes an internal error.
func FromError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var c coder
	if errors.As(err, &c) {
		return APIError{Code: c.APIErrorCode(), Message: err.Error()}
	}
	return NewAPIError(ErrInternalServer, "internal server error", err.Error())
}

func MapErrorToHTTPStatus(err error) int {
	apiErr, ok := err.(APIError)
	if !ok {
		apiErr = FromError(err)
	}
	switch apiErr.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrInvalidInput, ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrUnprocessable:
		return http.StatusUnprocessableEntity
	case ErrBadGateway:
		return http.StatusBadGateway
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
