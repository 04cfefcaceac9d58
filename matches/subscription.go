package matches

import (
	"context"
	"sync"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/log"
)

const errorBuffer = 32

// Subscription is one running match view. Snapshots coalesce: a consumer that
// falls behind only ever sees the latest one.
type Subscription struct {
	agg        *Aggregator
	identityID string

	ctx    context.Context
	cancel context.CancelFunc
	watch  domain.RelationshipWatch

	snapshots chan Snapshot
	errs      chan error

	// Only touched from onDelta, which the watch calls serially.
	relationships map[string]domain.Relationship
	failing       map[string]struct{}

	closeOnce sync.Once
}

func newSubscription(ctx context.Context, agg *Aggregator, identityID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{
		agg:           agg,
		identityID:    identityID,
		ctx:           ctx,
		cancel:        cancel,
		snapshots:     make(chan Snapshot, 1),
		errs:          make(chan error, errorBuffer),
		relationships: make(map[string]domain.Relationship),
		failing:       make(map[string]struct{}),
	}
}

// IdentityID returns the user the subscription was opened for.
func (s *Subscription) IdentityID() string {
	return s.identityID
}

// Snapshots delivers the latest match list after every relationship change.
// It is closed by Stop.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.snapshots
}

// Errors delivers a *LookupError the first time a relationship fails to join.
// The relationship is retried on every later change and reported again only
// after it succeeded in between. It is closed by Stop.
func (s *Subscription) Errors() <-chan error {
	return s.errs
}

func (s *Subscription) onDelta(delta domain.RelationshipDelta) {
	s.apply(delta)

	rels := make([]domain.Relationship, 0, len(s.relationships))
	for _, r := range s.relationships {
		rels = append(rels, r)
	}

	views, failures, err := s.agg.join(s.ctx, s.identityID, rels)
	if err != nil || s.ctx.Err() != nil {
		return
	}

	s.report(failures)

	// The buffer holds at most one stale snapshot; replace it.
	select {
	case <-s.snapshots:
	default:
	}
	s.snapshots <- Snapshot{IdentityID: s.identityID, Matches: views}
	s.agg.metrics.SnapshotEmitted()
}

func (s *Subscription) apply(delta domain.RelationshipDelta) {
	for _, c := range delta.Changes {
		r := c.Relationship
		switch c.Kind {
		case domain.ChangeAdded, domain.ChangeModified:
			if _, ok := r.Counterpart(s.identityID); !ok {
				s.agg.logger.Warn(s.ctx, "ignoring malformed relationship", log.Fields{
					"relationship_id": r.ID,
					"user_id":         s.identityID,
				})
				delete(s.relationships, r.ID)
				continue
			}
			s.relationships[r.ID] = r
		case domain.ChangeRemoved:
			delete(s.relationships, r.ID)
			delete(s.failing, r.ID)
		}
	}
}

func (s *Subscription) report(failures []*LookupError) {
	current := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		current[f.RelationshipID] = struct{}{}
		if _, reported := s.failing[f.RelationshipID]; reported {
			continue
		}

		s.agg.metrics.LookupFailed()
		s.agg.logger.Warn(s.ctx, "match profile lookup failed", log.Fields{
			"relationship_id": f.RelationshipID,
			"counterpart_id":  f.CounterpartID,
			"error":           f.Err.Error(),
		})

		select {
		case s.errs <- f:
		default:
			s.agg.logger.Warn(s.ctx, "match error buffer full, dropping report", log.Fields{
				"relationship_id": f.RelationshipID,
			})
		}
	}
	s.failing = current
}

// close reports whether this call did the work.
func (s *Subscription) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		s.cancel()
		if s.watch != nil {
			if err := s.watch.Close(); err != nil {
				s.agg.logger.Warn(context.Background(), "closing relationship watch failed", log.Fields{
					"user_id": s.identityID,
					"error":   err.Error(),
				})
			}
		}
		close(s.snapshots)
		close(s.errs)
	})
	return closed
}
