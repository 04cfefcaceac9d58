package echo

import (
	"errors"
	"mime"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/datelink/domain"
	serrors "github.com/pilab-dev/datelink/errors"
	"github.com/rs/zerolog/log"
)

// PhotoHandler streams a stored profile image.
func (a *SessionAPI) PhotoHandler(c echo.Context) error {
	if a.photos == nil {
		return writeError(c, serrors.New(serrors.NotFound, "photo storage is not configured"))
	}

	name := c.Param("name")
	rc, err := a.photos.OpenPhoto(c.Request().Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return writeError(c, serrors.Wrap(serrors.NotFound, err, "photo not found"))
		}
		log.Error().Err(err).Str("photo", name).Msg("Failed to open photo")
		return writeError(c, serrors.Wrap(serrors.NetworkUnavailable, err, "photo storage unavailable"))
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")

	return c.Stream(http.StatusOK, contentType, rc)
}
