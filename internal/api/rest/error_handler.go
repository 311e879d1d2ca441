package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	domainErrors "github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
)

// mapError converts an error into a status code and response body.
// Internal failures never leak their message.
func mapError(err error) (int, *ErrorResponse) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, &ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: validationErr.Message,
			Fields:  validationErr.Fields,
		}
	}

	var appErr *domainErrors.AppError
	if errors.As(err, &appErr) {
		status := appErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		resp := &ErrorResponse{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
			Details:   appErr.Details,
		}
		if appErr.Type == domainErrors.ErrorTypeInternal {
			resp.Message = "An internal error occurred"
			resp.Details = nil
		}
		return status, resp
	}

	if errors.Is(err, errRateLimited) {
		return http.StatusTooManyRequests, &ErrorResponse{
			Code:      "RATE_LIMIT_EXCEEDED",
			Message:   "Too many requests",
			Retryable: true,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, &ErrorResponse{
			Code:      "REQUEST_TIMEOUT",
			Message:   "Request timed out",
			Retryable: true,
		}
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout, &ErrorResponse{Code: "REQUEST_CANCELED", Message: "Request was canceled"}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return http.StatusBadRequest, &ErrorResponse{Code: "INVALID_JSON", Message: "Invalid JSON syntax"}
	}

	return http.StatusInternalServerError, &ErrorResponse{
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred",
	}
}
