package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/gateway"
	"github.com/toolgate/toolgate/internal/domain/job"
	"github.com/toolgate/toolgate/internal/domain/ratelimit"
)

// apiError is the JSON body for non-JSON-RPC failures.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON encodes v with the given status. Encoding failures are
// swallowed; the status line has already been written.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAPIError emits an {error, message} body with the given status.
func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: code, Message: message})
}

// writeError translates a typed domain error into its HTTP status and
// {error, message} body. Unrecognized errors become an opaque 500; their
// details stay in the logs.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalidToken *auth.InvalidTokenError
		expiredToken *auth.ExpiredTokenError
		notAllowed   *auth.ToolNotAllowedError
		adminOnly    *auth.AdminRequiredError
		notFound     *gateway.ToolNotFoundError
		timeout      *gateway.BackendTimeoutError
		unavailable  *gateway.BackendUnavailableError
		tooLarge     *gateway.PayloadTooLargeError
		backendErr   *gateway.BackendError
		rateLimited  *ratelimit.RateLimitExceededError
	)

	switch {
	case errors.As(err, &invalidToken):
		writeAPIError(w, http.StatusUnauthorized, invalidToken.Code(), invalidToken.Error())
	case errors.As(err, &expiredToken):
		writeAPIError(w, http.StatusUnauthorized, expiredToken.Code(), expiredToken.Error())
	case errors.As(err, &notAllowed):
		writeAPIError(w, http.StatusForbidden, notAllowed.Code(), notAllowed.Error())
	case errors.As(err, &adminOnly):
		writeAPIError(w, http.StatusForbidden, adminOnly.Code(), adminOnly.Error())
	case errors.As(err, &notFound):
		writeAPIError(w, http.StatusNotFound, notFound.Code(), notFound.Error())
	case errors.As(err, &timeout):
		writeAPIError(w, http.StatusGatewayTimeout, timeout.Code(), timeout.Error())
	case errors.As(err, &unavailable):
		writeAPIError(w, http.StatusBadGateway, unavailable.Code(), unavailable.Error())
	case errors.As(err, &tooLarge):
		writeAPIError(w, http.StatusRequestEntityTooLarge, tooLarge.Code(), tooLarge.Error())
	case errors.As(err, &backendErr):
		writeAPIError(w, http.StatusBadGateway, backendErr.Code(), backendErr.Error())
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", rateLimited.RetryAfterHeader())
		writeAPIError(w, http.StatusTooManyRequests, rateLimited.Code(), rateLimited.Error())
	case errors.Is(err, job.ErrJobNotFound):
		writeAPIError(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found")
	case errors.Is(err, job.ErrJobAccessDenied):
		writeAPIError(w, http.StatusForbidden, "JOB_ACCESS_DENIED", "Not authorized to view this job")
	default:
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
