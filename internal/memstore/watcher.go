package memstore

import (
	"sync"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/internal/mailbox"
)

// watcher delivers deltas to one live query in order on its own goroutine.
type watcher struct {
	identityID string
	onDelta    func(domain.RelationshipDelta)
	detach     func()

	deltas    *mailbox.Mailbox
	closeOnce sync.Once
}

func newWatcher(identityID string, onDelta func(domain.RelationshipDelta)) *watcher {
	return &watcher{
		identityID: identityID,
		onDelta:    onDelta,
		deltas:     mailbox.New(),
	}
}

func (w *watcher) push(d domain.RelationshipDelta) {
	w.deltas.Post(func() { w.onDelta(d) })
}

// Close stops delivery and waits for an in-flight onDelta to return.
// It must not be called from inside onDelta.
func (w *watcher) Close() error {
	w.closeOnce.Do(func() {
		if w.detach != nil {
			w.detach()
		}
	})
	w.deltas.Close()
	return nil
}
