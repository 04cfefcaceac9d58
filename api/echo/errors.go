package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	serrors "github.com/pilab-dev/datelink/errors"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Retryable   bool   `json:"retryable"`
}

// StatusFor maps a session error code to an HTTP status.
func StatusFor(code serrors.Code) int {
	switch code {
	case serrors.InvalidEmail, serrors.WeakSecret, serrors.InvalidArgument:
		return http.StatusBadRequest
	case serrors.InvalidCredentials, serrors.NoActiveSession:
		return http.StatusUnauthorized
	case serrors.NotFound:
		return http.StatusNotFound
	case serrors.EmailAlreadyInUse:
		return http.StatusConflict
	case serrors.NetworkUnavailable:
		return http.StatusServiceUnavailable
	case serrors.ProfileProvisioningFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	code := serrors.CodeOf(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}

	return c.JSON(status, ErrorResponse{
		Error:       string(code),
		Description: serrors.UserMessage(err),
		Retryable:   serrors.IsRetryable(err),
	})
}
