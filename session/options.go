package session

import (
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/internal/auth"
	"github.com/pilab-dev/datelink/internal/metrics"
	"github.com/pilab-dev/datelink/log"
)

// DefaultResumeTimeout bounds the wait for provider corroboration after a resume.
const DefaultResumeTimeout = 5 * time.Second

// Deps are the collaborators a Manager needs. Photos is only used by CompleteProfile.
type Deps struct {
	Provider domain.IdentityProvider
	Profiles domain.ProfileRepository
	Store    domain.SessionStore
	Photos   domain.PhotoStore
	Logger   log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithResumeTimeout overrides the corroboration wait used by AwaitCorroboration.
func WithResumeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.resumeTimeout = d
		}
	}
}

// WithSuperLikeLimit sets the quota given to newly registered profiles.
func WithSuperLikeLimit(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.superLikeLimit = n
		}
	}
}

// WithPasswordPolicy sets the strength rules applied at registration.
func WithPasswordPolicy(p auth.PasswordPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithMetrics records session counters.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}
