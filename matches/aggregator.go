// Package matches keeps a live, ordered view of a user's mutual matches by
// joining the relationship stream with the counterpart profiles.
package matches

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/internal/metrics"
	"github.com/pilab-dev/datelink/log"
	"github.com/pilab-dev/datelink/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultLookupConcurrency bounds the profile reads of one join.
const DefaultLookupConcurrency = 8

// ErrNoIdentity is returned by Start without an identity id.
var ErrNoIdentity = errors.New("matches: identity id is required")

// Snapshot is the complete ordered match list at one point in time.
type Snapshot struct {
	IdentityID string             `json:"userId"`
	Matches    []domain.MatchView `json:"matches"`
}

// LookupError reports a relationship left out of a snapshot because its
// counterpart profile could not be read.
type LookupError struct {
	RelationshipID string
	CounterpartID  string
	Err            error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("matches: lookup of %s for relationship %s: %v", e.CounterpartID, e.RelationshipID, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLookupConcurrency limits the concurrent profile reads per join.
func WithLookupConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithMetrics records snapshot and lookup metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// Aggregator opens match subscriptions. It holds no per-user state itself.
type Aggregator struct {
	relationships domain.RelationshipRepository
	profiles      domain.ProfileRepository
	logger        log.Logger
	concurrency   int
	metrics       *metrics.Metrics
}

// NewAggregator creates an Aggregator. A nil logger discards output.
func NewAggregator(
	relationships domain.RelationshipRepository,
	profiles domain.ProfileRepository,
	logger log.Logger,
	opts ...Option,
) *Aggregator {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &Aggregator{
		relationships: relationships,
		profiles:      profiles,
		logger:        logger.With(log.Fields{"component": "matches"}),
		concurrency:   DefaultLookupConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start opens the live relationship query for identityID. Every delivered
// delta produces exactly one Snapshot. ctx bounds the subscription; Stop must
// still be called to release it.
func (a *Aggregator) Start(ctx context.Context, identityID string) (*Subscription, error) {
	if identityID == "" {
		return nil, ErrNoIdentity
	}

	sub := newSubscription(ctx, a, identityID)

	watch, err := a.relationships.WatchRelationships(sub.ctx, identityID, sub.onDelta)
	if err != nil {
		sub.cancel()
		return nil, fmt.Errorf("watch relationships of %s: %w", identityID, err)
	}
	sub.watch = watch

	a.metrics.SubscriptionOpened()
	a.logger.Debug(ctx, "match subscription started", log.Fields{"user_id": identityID})

	return sub, nil
}

// Stop cancels the subscription. Joins still in flight are discarded and both
// channels are closed once it returns.
func (a *Aggregator) Stop(sub *Subscription) {
	if sub == nil {
		return
	}
	if sub.close() {
		a.metrics.SubscriptionClosed()
		a.logger.Debug(context.Background(), "match subscription stopped", log.Fields{"user_id": sub.identityID})
	}
}

type lookupResult struct {
	view domain.MatchView
	err  *LookupError
}

// join reads every counterpart profile and returns the sorted views plus the
// lookups that failed.
func (a *Aggregator) join(
	ctx context.Context,
	identityID string,
	rels []domain.Relationship,
) ([]domain.MatchView, []*LookupError, error) {
	ctx, span := tracing.Start(ctx, "matches.join", trace.WithAttributes(
		attribute.String("user_id", identityID),
		attribute.Int("relationships", len(rels)),
	))
	defer span.End()

	results := make([]lookupResult, len(rels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, r := range rels {
		g.Go(func() error {
			counterpart, _ := r.Counterpart(identityID)
			profile, err := a.profiles.GetProfile(gctx, counterpart)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				results[i].err = &LookupError{RelationshipID: r.ID, CounterpartID: counterpart, Err: err}
				return nil
			}
			results[i].view = domain.NewMatchView(r, profile)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	views := make([]domain.MatchView, 0, len(rels))
	var failures []*LookupError
	for _, res := range results {
		if res.err != nil {
			failures = append(failures, res.err)
			continue
		}
		views = append(views, res.view)
	}
	sortViews(views)

	return views, failures, nil
}

// sortViews orders newest match first; equal timestamps fall back to the
// relationship id so the order is stable across snapshots.
func sortViews(views []domain.MatchView) {
	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].MatchedAt.Equal(views[j].MatchedAt) {
			return views[i].MatchedAt.After(views[j].MatchedAt)
		}
		return views[i].RelationshipID < views[j].RelationshipID
	})
}
