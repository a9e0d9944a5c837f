package api

import (
	"errors"
	"net/http"

	"datagate/internal/domain"
)

// statusFromError maps domain errors onto HTTP status codes. Unknown errors
// are internal failures.
func statusFromError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	var unsafe *domain.UnsafeOperationError
	var exhausted *domain.ResourceExhaustedError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &unsafe):
		return http.StatusBadRequest
	case errors.As(err, &exhausted):
		if exhausted.Permanent {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps engine detail out of responses. Store and processing
// failures return a generic message; everything else is already phrased for
// callers.
func publicMessage(err error) string {
	var store *domain.StoreError
	var processing *domain.ProcessingError
	switch {
	case errors.As(err, &store), errors.As(err, &processing):
		return "internal error"
	default:
		return err.Error()
	}
}
