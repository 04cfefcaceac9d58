//nolint:varnamelen,tagliatelle
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/datelink/domain"
	serrors "github.com/pilab-dev/datelink/errors"
	"github.com/pilab-dev/datelink/matches"
	"github.com/pilab-dev/datelink/session"
)

// MatchSource serves the latest match snapshot of the signed-in user.
type MatchSource interface {
	Latest() (matches.Snapshot, bool)
}

// SessionAPI exposes the session engine to the rendering layer.
type SessionAPI struct {
	sessions *session.Manager
	matches  MatchSource
	photos   domain.PhotoStore
}

// NewSessionAPI initializes the session API. photos may be nil when uploads are disabled.
func NewSessionAPI(sessions *session.Manager, matches MatchSource, photos domain.PhotoStore) *SessionAPI {
	return &SessionAPI{
		sessions: sessions,
		matches:  matches,
		photos:   photos,
	}
}

// RegisterRoutes registers the session, match and photo routes.
func (a *SessionAPI) RegisterRoutes(e *echo.Echo) {
	s := e.Group("/session")
	s.GET("", a.StateHandler)
	s.POST("/login", a.LoginHandler)
	s.POST("/register", a.RegisterHandler)
	s.POST("/register/retry", a.RetryProvisioningHandler)
	s.POST("/logout", a.LogoutHandler)
	s.POST("/resume", a.ResumeHandler)
	s.PATCH("/profile", a.ProfileUpdateHandler)
	s.POST("/profile/complete", a.CompleteProfileHandler)

	e.PUT("/users/:id/super-likes", a.SuperLikesHandler)
	e.GET("/matches", a.MatchesHandler)
	e.GET("/photos/:name", a.PhotoHandler)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName string  `json:"displayName"`
	PhotoURL    *string `json:"photoUrl,omitempty"`
}

type superLikesRequest struct {
	Remaining *int `json:"remaining"`
}

type resumeResponse struct {
	Resumed      bool          `json:"resumed"`
	Corroborated bool          `json:"corroborated"`
	State        session.State `json:"state"`
}

// StateHandler returns the published session state.
func (a *SessionAPI) StateHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, a.sessions.State())
}

// LoginHandler signs in with email and password.
func (a *SessionAPI) LoginHandler(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, badRequest(err))
	}

	ident, err := a.sessions.SignInWithCredentials(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, ident)
}

// RegisterHandler creates an account and its profile record.
func (a *SessionAPI) RegisterHandler(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, badRequest(err))
	}

	ident, err := a.sessions.Register(c.Request().Context(), req.Email, req.Password, session.InitialProfile{
		DisplayName: req.DisplayName,
		PhotoURL:    req.PhotoURL,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, ident)
}

// RetryProvisioningHandler finishes a registration whose profile write failed.
func (a *SessionAPI) RetryProvisioningHandler(c echo.Context) error {
	ident, err := a.sessions.RetryProfileProvisioning(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, ident)
}

// LogoutHandler ends the session. It always succeeds.
func (a *SessionAPI) LogoutHandler(c echo.Context) error {
	a.sessions.SignOut(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

// ResumeHandler restores the stored session and waits for the provider to confirm it.
func (a *SessionAPI) ResumeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	resp := resumeResponse{Resumed: a.sessions.AttemptResumeSession(ctx)}
	if resp.Resumed {
		resp.Corroborated = a.sessions.AwaitCorroboration(ctx)
	}
	resp.State = a.sessions.State()

	return c.JSON(http.StatusOK, resp)
}

// ProfileUpdateHandler merges a partial profile into the published identity.
func (a *SessionAPI) ProfileUpdateHandler(c echo.Context) error {
	var patch domain.ProfilePatch
	if err := c.Bind(&patch); err != nil {
		return writeError(c, badRequest(err))
	}

	ident, err := a.sessions.ApplyProfileUpdate(c.Request().Context(), patch)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, ident)
}

// SuperLikesHandler writes the remaining super-like quota of a user.
func (a *SessionAPI) SuperLikesHandler(c echo.Context) error {
	var req superLikesRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, badRequest(err))
	}
	if req.Remaining == nil {
		return writeError(c, serrors.New(serrors.InvalidArgument, "remaining is required"))
	}

	if err := a.sessions.RefreshSuperLikeQuota(c.Request().Context(), c.Param("id"), *req.Remaining); err != nil {
		return writeError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// MatchesHandler returns the latest match snapshot of the signed-in user.
func (a *SessionAPI) MatchesHandler(c echo.Context) error {
	current := a.sessions.CurrentIdentity()
	if current == nil {
		return writeError(c, serrors.New(serrors.NoActiveSession, "no user is signed in"))
	}

	snap, ok := a.matches.Latest()
	if !ok || snap.IdentityID != current.ID {
		// The first snapshot for this user is still being joined.
		return c.JSON(http.StatusAccepted, matches.Snapshot{IdentityID: current.ID, Matches: []domain.MatchView{}})
	}

	return c.JSON(http.StatusOK, snap)
}

func badRequest(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Internal != nil {
		err = he.Internal
	}
	return serrors.Wrap(serrors.InvalidArgument, err, "request body is malformed")
}
