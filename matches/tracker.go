package matches

import (
	"context"
	"sync"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/log"
	"github.com/pilab-dev/datelink/session"
)

// SessionSource publishes session state changes. *session.Manager implements it.
type SessionSource interface {
	Subscribe(fn func(session.State)) (unsubscribe func())
}

// Tracker keeps one match subscription open for whoever is signed in and
// remembers its latest snapshot.
type Tracker struct {
	agg      *Aggregator
	sessions SessionSource
	logger   log.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	sub         *Subscription
	latest      *Snapshot
	closed      bool
	drains      sync.WaitGroup
}

// NewTracker creates a Tracker. Call Start to begin following sessions.
func NewTracker(agg *Aggregator, sessions SessionSource, logger log.Logger) *Tracker {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Tracker{
		agg:      agg,
		sessions: sessions,
		logger:   logger.With(log.Fields{"component": "match_tracker"}),
	}
}

// Start follows the session source until Close.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.ctx != nil || t.closed {
		t.mu.Unlock()
		return
	}
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Unlock()

	unsubscribe := t.sessions.Subscribe(t.onState)

	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
}

// Latest returns the newest snapshot for the signed-in user, if one arrived yet.
func (t *Tracker) Latest() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return Snapshot{}, false
	}
	return cloneSnapshot(*t.latest), true
}

// Close stops following sessions and releases the open subscription.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	unsubscribe := t.unsubscribe
	sub := t.sub
	t.sub = nil
	t.latest = nil
	cancel := t.cancel
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	t.agg.Stop(sub)
	if cancel != nil {
		cancel()
	}
	t.drains.Wait()
}

func (t *Tracker) onState(s session.State) {
	id := ""
	if s.Status == session.StatusAuthenticated && s.Identity != nil {
		id = s.Identity.ID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if t.sub != nil && t.sub.IdentityID() == id {
		return
	}

	if t.sub != nil {
		t.agg.Stop(t.sub)
		t.sub = nil
	}
	t.latest = nil

	if id == "" {
		return
	}

	sub, err := t.agg.Start(t.ctx, id)
	if err != nil {
		t.logger.Error(t.ctx, "failed to open match subscription", err, log.Fields{"user_id": id})
		return
	}
	t.sub = sub

	t.drains.Add(1)
	go t.drain(sub)
}

func (t *Tracker) drain(sub *Subscription) {
	defer t.drains.Done()

	snapshots, errs := sub.Snapshots(), sub.Errors()
	for snapshots != nil || errs != nil {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			t.mu.Lock()
			if t.sub == sub {
				t.latest = &snap
			}
			t.mu.Unlock()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.logger.Debug(t.ctx, "match entry unavailable", log.Fields{"error": err.Error()})
		}
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	views := make([]domain.MatchView, len(s.Matches))
	for i, v := range s.Matches {
		v.Interests = append([]string(nil), v.Interests...)
		views[i] = v
	}
	s.Matches = views
	return s
}
