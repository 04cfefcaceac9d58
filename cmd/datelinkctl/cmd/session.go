package cmd

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/errors"
	"github.com/pilab-dev/datelink/internal/app"
	"github.com/pilab-dev/datelink/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type identityOutput struct {
	ID                  string   `yaml:"id"`
	Email               string   `yaml:"email"`
	DisplayName         string   `yaml:"displayName"`
	PhotoURL            string   `yaml:"photoUrl,omitempty"`
	ProfileCompleted    bool     `yaml:"profileCompleted"`
	SuperLikesRemaining int      `yaml:"superLikesRemaining"`
	Bio                 string   `yaml:"bio,omitempty"`
	Age                 int      `yaml:"age,omitempty"`
	Gender              string   `yaml:"gender,omitempty"`
	Location            string   `yaml:"location,omitempty"`
	Interests           []string `yaml:"interests,omitempty"`
}

type stateOutput struct {
	Status      string          `yaml:"status"`
	Provisional bool            `yaml:"provisional,omitempty"`
	Identity    *identityOutput `yaml:"identity,omitempty"`
}

func newIdentityOutput(ident *domain.Identity) *identityOutput {
	if ident == nil {
		return nil
	}
	out := &identityOutput{
		ID:                  ident.ID,
		Email:               ident.Email,
		DisplayName:         ident.DisplayName,
		ProfileCompleted:    ident.ProfileCompleted,
		SuperLikesRemaining: ident.SuperLikesRemaining,
		Bio:                 ident.Bio,
		Age:                 ident.Age,
		Gender:              ident.Gender,
		Location:            ident.Location,
		Interests:           ident.Interests,
	}
	if ident.PhotoURL != nil {
		out.PhotoURL = *ident.PhotoURL
	}
	return out
}

func newStateOutput(s session.State) stateOutput {
	return stateOutput{
		Status:      s.Status.String(),
		Provisional: s.Provisional,
		Identity:    newIdentityOutput(s.Identity),
	}
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password and keep the session for later commands",
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		return runEngine(cmd, func(ctx context.Context, a *app.App) error {
			creds, err := promptCredentials(cmd, email, password)
			if err != nil {
				return err
			}

			ident, err := a.Sessions.SignInWithCredentials(ctx, creds.email, creds.password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s).\n", ident.DisplayName, ident.ID)
			return nil
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and its profile record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		name, _ := cmd.Flags().GetString("name")
		photo, _ := cmd.Flags().GetString("photo-url")

		initial := session.InitialProfile{DisplayName: name}
		if photo != "" {
			initial.PhotoURL = &photo
		}

		return runEngine(cmd, func(ctx context.Context, a *app.App) error {
			creds, err := promptCredentials(cmd, email, password)
			if err != nil {
				return err
			}

			ident, err := a.Sessions.Register(ctx, creds.email, creds.password, initial)
			if errors.IsCode(err, errors.ProfileProvisioningFailed) {
				// The account already exists, so only the profile write is repeated.
				appLogger.Warn(ctx, "profile provisioning failed, retrying once")
				ident, err = a.Sessions.RetryProfileProvisioning(ctx)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s).\n", ident.Email, ident.ID)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEngine(cmd, func(ctx context.Context, a *app.App) error {
			a.Sessions.SignOut(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session state and identity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEngine(cmd, func(_ context.Context, a *app.App) error {
			return printYAML(cmd.OutOrStdout(), newStateOutput(a.Sessions.State()))
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Check whether a stored session can be resumed",
	Long: `Restores the session kept by an earlier login and reports whether the identity
provider confirmed it. Exits non-zero when no session is stored.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEngine(cmd, func(_ context.Context, a *app.App) error {
			s := a.Sessions.State()
			if s.Status != session.StatusAuthenticated {
				return errors.New(errors.NoActiveSession, "no stored session")
			}
			return printYAML(cmd.OutOrStdout(), newStateOutput(s))
		})
	},
}

type credentials struct {
	email    string
	password string
}

// promptCredentials fills in whatever the flags left empty from stdin. The password
// is read without echo when stdin is a terminal.
func promptCredentials(cmd *cobra.Command, email, password string) (credentials, error) {
	in := cmd.InOrStdin()
	reader := bufio.NewReader(in)

	if email == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter email: ")
		line, err := readLine(reader)
		if err != nil {
			return credentials{}, fmt.Errorf("failed to read email: %w", err)
		}
		email = line
	}

	if password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter password: ")
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			raw, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return credentials{}, fmt.Errorf("failed to read password: %w", err)
			}
			password = string(raw)
		} else {
			line, err := readLine(reader)
			if err != nil {
				return credentials{}, fmt.Errorf("failed to read password: %w", err)
			}
			password = line
		}
	}

	return credentials{email: email, password: password}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(stderrors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describe renders err for the terminal, preferring the actionable message for
// session failures.
func describe(err error) string {
	var serr *errors.SessionError
	if stderrors.As(err, &serr) {
		return fmt.Sprintf("%s (%s)", errors.UserMessage(serr), serr.Code)
	}
	return err.Error()
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().String("email", "", "account email (prompted when empty)")
		c.Flags().String("password", "", "account password (prompted when empty)")
	}
	registerCmd.Flags().String("name", "", "display name")
	registerCmd.Flags().String("photo-url", "", "optional profile photo URL")
	_ = registerCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd, resumeCmd)
}
