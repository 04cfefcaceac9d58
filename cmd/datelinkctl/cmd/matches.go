package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pilab-dev/datelink/domain"
	serrors "github.com/pilab-dev/datelink/errors"
	"github.com/pilab-dev/datelink/internal/app"
	"github.com/pilab-dev/datelink/log"
	"github.com/pilab-dev/datelink/matches"
	"github.com/spf13/cobra"
)

type matchOutput struct {
	ID        string    `yaml:"id"`
	UserID    string    `yaml:"userId"`
	Name      string    `yaml:"name"`
	Age       int       `yaml:"age,omitempty"`
	Image     string    `yaml:"image,omitempty"`
	Interests []string  `yaml:"interests,omitempty"`
	Online    bool      `yaml:"isOnline"`
	MatchedAt time.Time `yaml:"matchDate"`
}

func newMatchOutputs(views []domain.MatchView) []matchOutput {
	out := make([]matchOutput, 0, len(views))
	for _, v := range views {
		m := matchOutput{
			ID:        v.RelationshipID,
			UserID:    v.CounterpartID,
			Name:      v.DisplayName,
			Age:       v.Age,
			Interests: v.Interests,
			Online:    v.IsOnline,
			MatchedAt: v.MatchedAt,
		}
		if v.PhotoURL != nil {
			m.Image = *v.PhotoURL
		}
		out = append(out, m)
	}
	return out
}

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "List the signed-in user's matches, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		return runEngine(cmd, func(ctx context.Context, a *app.App) error {
			current := a.Sessions.CurrentIdentity()
			if current == nil {
				return serrors.New(serrors.NoActiveSession, "sign in to list matches")
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sub, err := a.Aggregator.Start(ctx, current.ID)
			if err != nil {
				return err
			}
			defer a.Aggregator.Stop(sub)

			return printMatches(ctx, cmd, sub, watch, timeout)
		})
	},
}

// printMatches prints the first snapshot, or every snapshot until ctx ends when
// watch is set. Lookup failures are logged and do not end the command.
func printMatches(ctx context.Context, cmd *cobra.Command, sub *matches.Subscription, watch bool, timeout time.Duration) error {
	first := time.NewTimer(timeout)
	defer first.Stop()

	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return nil
			}
			if err := printYAML(cmd.OutOrStdout(), newMatchOutputs(snap.Matches)); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			first.Stop()
			fmt.Fprintln(cmd.OutOrStdout(), "---")

		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			var lookup *matches.LookupError
			if errors.As(err, &lookup) {
				appLogger.Warn(ctx, "match omitted from list", log.Fields{
					"relationship_id": lookup.RelationshipID,
					"counterpart_id":  lookup.CounterpartID,
					"error":           lookup.Err.Error(),
				})
				continue
			}
			appLogger.Error(ctx, "match list error", err)

		case <-first.C:
			return serrors.New(serrors.NetworkUnavailable, "matches did not load in time")

		case <-ctx.Done():
			return nil
		}
	}
}

func init() {
	matchesCmd.Flags().BoolP("watch", "w", false, "keep printing updated match lists until interrupted")
	matchesCmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for the first list")

	rootCmd.AddCommand(matchesCmd)
}
