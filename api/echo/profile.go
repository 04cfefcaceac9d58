package echo

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	serrors "github.com/pilab-dev/datelink/errors"
	"github.com/pilab-dev/datelink/session"
)

const dateOfBirthLayout = "2006-01-02"

// CompleteProfileHandler accepts the profile-setup form as multipart/form-data.
// The optional image travels in the "photo" file field.
func (a *SessionAPI) CompleteProfileHandler(c echo.Context) error {
	form, err := parseCompletion(c)
	if err != nil {
		return writeError(c, err)
	}

	file, err := c.FormFile("photo")
	switch {
	case err == nil:
		f, openErr := file.Open()
		if openErr != nil {
			return writeError(c, badRequest(openErr))
		}
		defer f.Close()

		contentType := file.Header.Get(echo.HeaderContentType)
		if contentType == "" {
			contentType = "image/jpeg"
		}
		form.Photo = &session.Photo{ContentType: contentType, Data: f}
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		return writeError(c, badRequest(err))
	}

	ident, err := a.sessions.CompleteProfile(c.Request().Context(), form)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, ident)
}

func parseCompletion(c echo.Context) (session.ProfileCompletion, error) {
	params, err := c.FormParams()
	if err != nil {
		return session.ProfileCompletion{}, badRequest(err)
	}

	form := session.ProfileCompletion{
		Bio:      params.Get("bio"),
		Gender:   params.Get("gender"),
		Location: params.Get("location"),
	}

	if raw := params.Get("age"); raw != "" {
		age, err := strconv.Atoi(raw)
		if err != nil {
			return form, serrors.Wrap(serrors.InvalidArgument, err, "age must be a number")
		}
		form.Age = age
	}

	for _, v := range params["interests"] {
		for _, interest := range strings.Split(v, ",") {
			if interest = strings.TrimSpace(interest); interest != "" {
				form.Interests = append(form.Interests, interest)
			}
		}
	}

	if raw := params.Get("dateOfBirth"); raw != "" {
		dob, err := time.Parse(dateOfBirthLayout, raw)
		if err != nil {
			return form, serrors.Wrap(serrors.InvalidArgument, err, "dateOfBirth must be YYYY-MM-DD")
		}
		form.DateOfBirth = &dob
	}

	return form, nil
}
