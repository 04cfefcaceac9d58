package cmd

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pilab-dev/datelink/errors"
	"github.com/pilab-dev/datelink/internal/app"
	"github.com/pilab-dev/datelink/session"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// profileFile is the YAML document accepted by complete-profile.
//
//	bio: Climber and amateur baker.
//	age: 29
//	gender: female
//	location: Lisbon
//	interests: [climbing, baking]
//	dateOfBirth: 1995-04-02
//	photo: ./me.jpg
type profileFile struct {
	Bio         string   `yaml:"bio"`
	Age         int      `yaml:"age"`
	Gender      string   `yaml:"gender"`
	Location    string   `yaml:"location"`
	Interests   []string `yaml:"interests"`
	DateOfBirth string   `yaml:"dateOfBirth"`
	Photo       string   `yaml:"photo"`
}

func readProfileFile(path string) (*profileFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var pf profileFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse profile file %s: %w", path, err)
	}

	// Photo paths are relative to the profile file.
	if pf.Photo != "" && !filepath.IsAbs(pf.Photo) {
		pf.Photo = filepath.Join(filepath.Dir(path), pf.Photo)
	}

	return &pf, nil
}

// completion converts the file into the form, opening the photo when one is named.
// The returned closer must be called once the form has been submitted.
func (pf *profileFile) completion() (session.ProfileCompletion, io.Closer, error) {
	form := session.ProfileCompletion{
		Bio:       pf.Bio,
		Age:       pf.Age,
		Gender:    pf.Gender,
		Location:  pf.Location,
		Interests: pf.Interests,
	}

	if pf.DateOfBirth != "" {
		dob, err := time.Parse(time.DateOnly, pf.DateOfBirth)
		if err != nil {
			return form, nil, errors.Wrap(errors.InvalidArgument, err, "dateOfBirth must be YYYY-MM-DD")
		}
		form.DateOfBirth = &dob
	}

	if pf.Photo == "" {
		return form, io.NopCloser(nil), nil
	}

	f, err := os.Open(pf.Photo)
	if err != nil {
		return form, nil, fmt.Errorf("failed to open photo: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(pf.Photo))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	form.Photo = &session.Photo{ContentType: contentType, Data: f}

	return form, f, nil
}

var completeProfileCmd = &cobra.Command{
	Use:   "complete-profile FILE",
	Short: "Finish profile setup from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pf, err := readProfileFile(args[0])
		if err != nil {
			return err
		}

		return runEngine(cmd, func(ctx context.Context, a *app.App) error {
			form, closer, err := pf.completion()
			if err != nil {
				return err
			}
			defer closer.Close()

			ident, err := a.Sessions.CompleteProfile(ctx, form)
			if err != nil {
				return err
			}

			return printYAML(cmd.OutOrStdout(), newIdentityOutput(ident))
		})
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota REMAINING",
	Short: "Set the super-like allowance of a user (defaults to the signed-in user)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		remaining, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrap(errors.InvalidArgument, err, "REMAINING must be a whole number")
		}
		userID, _ := cmd.Flags().GetString("user-id")

		return runEngine(cmd, func(ctx context.Context, a *app.App) error {
			if userID == "" {
				current := a.Sessions.CurrentIdentity()
				if current == nil {
					return errors.New(errors.NoActiveSession, "sign in or pass --user-id")
				}
				userID = current.ID
			}

			if err := a.Sessions.RefreshSuperLikeQuota(ctx, userID, remaining); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "User %s has %d super likes remaining.\n", userID, remaining)
			return nil
		})
	},
}

func init() {
	quotaCmd.Flags().String("user-id", "", "user to update instead of the signed-in user")

	rootCmd.AddCommand(completeProfileCmd, quotaCmd)
}
