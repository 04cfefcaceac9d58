package session

import "github.com/pilab-dev/datelink/domain"

// feedGate drops provider pushes that an explicit operation has already overruled.
// The provider delivers its feed in order and reports every identity it
// establishes, so anything delivered before an operation's own report was queued
// before the operation took effect.
type feedGate struct {
	// awaiting is the identity whose report ends a run of stale pushes.
	awaiting string
	// deliver admits the awaited report itself. It is false when the caller was
	// told the sign-in failed.
	deliver bool
	// signedOut drops identity pushes until the provider reports no identity.
	signedOut bool
}

func (g *feedGate) expect(id string) { *g = feedGate{awaiting: id, deliver: true} }

func (g *feedGate) reject(id string) { *g = feedGate{awaiting: id} }

func (g *feedGate) signOut() { *g = feedGate{signedOut: true} }

func (g *feedGate) admit(pid *domain.ProviderIdentity) bool {
	if g.awaiting != "" {
		if pid == nil || pid.ID != g.awaiting {
			return false
		}
		g.awaiting = ""
		return g.deliver
	}

	if g.signedOut {
		if pid != nil {
			return false
		}
		g.signedOut = false
	}

	return true
}
