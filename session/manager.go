// Package session owns the process-wide "who is signed in" value. It reconciles
// explicit user actions, identity provider pushes and the durable session record
// into a single published State.
package session

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/pilab-dev/datelink/domain"
	serrors "github.com/pilab-dev/datelink/errors"
	"github.com/pilab-dev/datelink/internal/audit"
	"github.com/pilab-dev/datelink/internal/auth"
	"github.com/pilab-dev/datelink/internal/mailbox"
	"github.com/pilab-dev/datelink/internal/metrics"
	"github.com/pilab-dev/datelink/log"
	"github.com/pilab-dev/datelink/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InitialProfile carries the registration fields beyond the credentials.
type InitialProfile struct {
	DisplayName string
	PhotoURL    *string
}

type pendingProvision struct {
	provider *domain.ProviderIdentity
	profile  *domain.Identity
}

// Manager is the single writer of the session State.
//
// Every commit of an identity (or its absence) increments a generation counter.
// Explicit operations commit when they complete, so the last one to finish wins.
// Provider pushes capture the generation before doing I/O and are dropped if any
// commit happened in between. While an explicit operation talks to the provider,
// pushes wait for it to finish and then pass a feedGate, so the operation's own
// report on the feed can never contradict the result its caller received.
// Subscribers are notified in commit order on a dedicated goroutine and may call
// back into the Manager.
type Manager struct {
	provider domain.IdentityProvider
	profiles domain.ProfileRepository
	store    domain.SessionStore
	photos   domain.PhotoStore
	logger   log.Logger

	now            func() time.Time
	resumeTimeout  time.Duration
	superLikeLimit int
	policy         auth.PasswordPolicy
	metrics        *metrics.Metrics

	// recordMu orders session record writes and removals against each other.
	recordMu sync.Mutex

	mu       sync.Mutex
	state    State
	gen      uint64
	gate     feedGate
	inflight int
	idle     *sync.Cond
	pending  *pendingProvision
	subs     map[uint64]func(State)
	nextSub  uint64
	started  bool
	stopFeed func()
	ctx      context.Context
	cancel   context.CancelFunc

	corroborated    chan struct{}
	corroborateOnce sync.Once
	events          *mailbox.Mailbox
}

// NewManager creates a Manager in StatusUnknown. Call Start to follow the provider feed.
func NewManager(deps Deps, opts ...Option) *Manager {
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}

	m := &Manager{
		provider:       deps.Provider,
		profiles:       deps.Profiles,
		store:          deps.Store,
		photos:         deps.Photos,
		logger:         deps.Logger.With(log.Fields{"component": "session"}),
		now:            time.Now,
		resumeTimeout:  DefaultResumeTimeout,
		superLikeLimit: domain.DefaultSuperLikeLimit,
		policy:         auth.DefaultPasswordPolicy(),
		state:          State{Status: StatusUnknown},
		subs:           make(map[uint64]func(State)),
		corroborated:   make(chan struct{}),
		events:         mailbox.New(),
	}
	m.idle = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())

	return m
}

// Start subscribes to the provider change feed for the lifetime of the Manager.
// ctx only carries values; cancelling it does not stop the feed, Close does.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info(ctx, "subscribing to identity provider feed")
	stop := m.provider.Subscribe(m.onProviderChange)

	m.mu.Lock()
	m.stopFeed = stop
	m.mu.Unlock()
}

// Close ends the provider subscription and subscriber delivery. In-flight provider
// events are discarded. It must not be called from a subscriber callback.
func (m *Manager) Close() {
	m.mu.Lock()
	stop := m.stopFeed
	m.stopFeed = nil
	m.gen++
	m.cancel()
	m.idle.Broadcast()
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.events.Close()
}

// CurrentIdentity returns a copy of the published identity, or nil.
func (m *Manager) CurrentIdentity() *domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != StatusAuthenticated {
		return nil
	}
	return m.state.Identity.Clone()
}

// State returns a copy of the published state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registers fn for state changes. fn is called first with the current
// state, then once per published transition, never concurrently.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	current := m.state.clone()
	m.events.Post(func() { m.deliver(id, current) })
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SignInWithCredentials authenticates with the provider, loads the profile record
// (falling back to the bare provider identity when none exists) and publishes it.
// On failure the published state is left unchanged.
func (m *Manager) SignInWithCredentials(ctx context.Context, email, secret string) (ident *domain.Identity, err error) {
	ctx, span := tracing.Start(ctx, "session.SignInWithCredentials")
	defer func() { endSpan(span, err) }()
	defer func() {
		m.metrics.SignIn(err)
		audit.Log(audit.ActionSignIn, identityIDOf(ident), "email="+email, err == nil, err)
	}()

	if strings.TrimSpace(email) == "" {
		return nil, serrors.New(serrors.InvalidEmail, "email is required")
	}
	if secret == "" {
		return nil, serrors.New(serrors.InvalidCredentials, "password is required")
	}

	m.beginExplicit()
	defer m.endExplicit()

	pid, err := m.provider.SignIn(ctx, email, secret)
	if err != nil {
		m.logger.Warn(ctx, "provider sign-in failed", log.Fields{"error": err.Error()})
		return nil, providerError(err)
	}

	ident, err = m.loadIdentity(ctx, pid)
	if err != nil {
		m.rejectFeedIdentity(pid.ID)
		return nil, err
	}

	m.mu.Lock()
	m.pending = nil
	m.commitLocked(authenticated(ident, false))
	m.gate.expect(pid.ID)
	m.mu.Unlock()

	m.persistRecord(ctx, pid)

	m.logger.Info(ctx, "signed in", log.Fields{"user_id": ident.ID})

	return ident.Clone(), nil
}

// Register creates the credential and the profile record, then publishes the new
// identity. A failed record write returns ProfileProvisioningFailed and keeps the
// credential so RetryProfileProvisioning can finish without re-registering.
func (m *Manager) Register(ctx context.Context, email, secret string, initial InitialProfile) (ident *domain.Identity, err error) {
	ctx, span := tracing.Start(ctx, "session.Register")
	defer func() { endSpan(span, err) }()
	defer func() {
		m.metrics.Registration(err)
		audit.Log(audit.ActionRegister, identityIDOf(ident), "email="+email, err == nil, err)
	}()

	addr, parseErr := mail.ParseAddress(email)
	if parseErr != nil || addr.Address != email {
		return nil, serrors.Wrap(serrors.InvalidEmail, parseErr, "email address is not valid")
	}
	if policyErr := m.policy.Validate(secret); policyErr != nil {
		return nil, serrors.Wrap(serrors.WeakSecret, policyErr, "password does not meet the strength policy")
	}
	displayName := strings.TrimSpace(initial.DisplayName)
	if displayName == "" {
		return nil, serrors.New(serrors.InvalidArgument, "display name is required")
	}

	m.beginExplicit()
	defer m.endExplicit()

	pid, err := m.provider.CreateAccount(ctx, email, secret)
	if err != nil {
		m.logger.Warn(ctx, "provider account creation failed", log.Fields{"error": err.Error()})
		return nil, providerError(err)
	}

	profile := domain.NewProfile(pid.ID, strings.ToLower(pid.Email), displayName, m.superLikeLimit, m.now().UTC())
	if initial.PhotoURL != nil {
		profile.PhotoURL = domain.Ptr(*initial.PhotoURL)
	}

	return m.provision(ctx, &pendingProvision{provider: pid, profile: profile}, true)
}

// RetryProfileProvisioning re-attempts the profile write of a registration that
// failed with ProfileProvisioningFailed.
func (m *Manager) RetryProfileProvisioning(ctx context.Context) (ident *domain.Identity, err error) {
	ctx, span := tracing.Start(ctx, "session.RetryProfileProvisioning")
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()

	if pending == nil {
		return nil, serrors.New(serrors.NoActiveSession, "no registration is waiting for its profile")
	}

	return m.provision(ctx, pending, false)
}

// provision writes the profile record and publishes it. reported tells whether
// the provider is about to report this identity on its feed.
func (m *Manager) provision(ctx context.Context, p *pendingProvision, reported bool) (*domain.Identity, error) {
	profile := p.profile.Clone()

	if err := m.profiles.CreateProfile(ctx, profile); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			m.mu.Lock()
			m.pending = p
			m.mu.Unlock()
			if reported {
				m.rejectFeedIdentity(profile.ID)
			}

			m.logger.Error(ctx, "profile provisioning failed", err, log.Fields{"user_id": profile.ID})
			audit.Log(audit.ActionProvision, profile.ID, "", false, err)

			return nil, serrors.Wrap(serrors.ProfileProvisioningFailed, err,
				"account created but the profile could not be saved")
		}

		existing, getErr := m.profiles.GetProfile(ctx, profile.ID)
		if getErr != nil {
			if reported {
				m.rejectFeedIdentity(profile.ID)
			}
			return nil, repositoryError(getErr, "load existing profile")
		}
		profile = existing
	}

	m.mu.Lock()
	if m.pending == p || (m.pending != nil && m.pending.profile.ID == profile.ID) {
		m.pending = nil
	}
	m.commitLocked(authenticated(profile, false))
	if reported {
		m.gate.expect(profile.ID)
	}
	m.mu.Unlock()

	m.persistRecord(ctx, p.provider)

	m.logger.Info(ctx, "registered", log.Fields{"user_id": profile.ID})

	return profile.Clone(), nil
}

// SignOut ends the session. It never fails; provider and storage errors are logged.
// Repeated calls publish nothing new.
func (m *Manager) SignOut(ctx context.Context) {
	ctx, span := tracing.Start(ctx, "session.SignOut")
	defer span.End()

	m.beginExplicit()
	defer m.endExplicit()

	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn(ctx, "provider sign-out failed", log.Fields{"error": err.Error()})
	}

	m.mu.Lock()
	userID := m.state.identityID()
	m.pending = nil
	changed := m.commitLocked(unauthenticated())
	m.gate.signOut()
	m.mu.Unlock()

	m.removeRecord(ctx)

	if changed {
		m.metrics.SignOut()
		audit.Log(audit.ActionSignOut, userID, "", true, nil)
		m.logger.Info(ctx, "signed out", log.Fields{"user_id": userID})
	}
}

// AttemptResumeSession restores the last session from local storage without any
// network access. A stored record is published as a provisional identity and the
// call returns true; otherwise the state becomes unauthenticated.
func (m *Manager) AttemptResumeSession(ctx context.Context) bool {
	ctx, span := tracing.Start(ctx, "session.AttemptResumeSession")
	defer span.End()

	m.mu.Lock()
	if m.state.Status == StatusAuthenticated {
		m.mu.Unlock()
		return true
	}
	gen := m.gen
	m.setStatusLocked(StatusResuming)
	m.mu.Unlock()

	record := m.readRecord(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		// A push or explicit operation settled the session meanwhile.
		return m.state.Status == StatusAuthenticated
	}

	if record == nil {
		m.commitLocked(unauthenticated())
		m.metrics.Resume(false)
		return false
	}

	m.commitLocked(authenticated(&domain.Identity{ID: record.UserID}, true))
	m.metrics.Resume(true)
	audit.Log(audit.ActionResume, record.UserID, "provisional", true, nil)
	m.logger.Info(ctx, "session resumed provisionally", log.Fields{"user_id": record.UserID})

	return true
}

// AwaitCorroboration blocks until the provider feed delivered its first event,
// the resume timeout elapses or ctx ends. It reports whether the provider answered.
// Timing out never cancels the corroboration itself.
func (m *Manager) AwaitCorroboration(ctx context.Context) bool {
	timer := time.NewTimer(m.resumeTimeout)
	defer timer.Stop()

	select {
	case <-m.corroborated:
		return true
	case <-timer.C:
		m.logger.Info(ctx, "provider corroboration timed out, keeping local session")
		return false
	case <-ctx.Done():
		return false
	}
}

// RefreshSuperLikeQuota writes the remaining super-likes and stamps the date.
// Policy is the caller's concern; only negative values are rejected.
func (m *Manager) RefreshSuperLikeQuota(ctx context.Context, identityID string, remaining int) (err error) {
	ctx, span := tracing.Start(ctx, "session.RefreshSuperLikeQuota",
		trace.WithAttributes(attribute.String("user_id", identityID), attribute.Int("remaining", remaining)))
	defer func() { endSpan(span, err) }()

	if remaining < 0 {
		return serrors.New(serrors.InvalidArgument, "remaining super-likes must not be negative")
	}

	now := m.now().UTC()
	patch := domain.ProfilePatch{
		SuperLikesRemaining: domain.Ptr(remaining),
		LastSuperLikeDate:   domain.Ptr(now),
		UpdatedAt:           domain.Ptr(now),
	}

	if err := m.profiles.UpdateProfile(ctx, identityID, patch); err != nil {
		audit.Log(audit.ActionQuotaRefresh, identityID, "", false, err)
		return repositoryError(err, "update super-like quota")
	}

	m.mu.Lock()
	if m.state.identityID() == identityID {
		m.commitLocked(authenticated(m.state.Identity.Merge(patch), m.state.Provisional))
	}
	m.mu.Unlock()

	return nil
}

// ApplyProfileUpdate merges patch into the published identity and republishes it.
// The id is never changed.
func (m *Manager) ApplyProfileUpdate(ctx context.Context, patch domain.ProfilePatch) (_ *domain.Identity, err error) {
	_, span := tracing.Start(ctx, "session.ApplyProfileUpdate")
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Status != StatusAuthenticated {
		return nil, serrors.New(serrors.NoActiveSession, "no user is signed in")
	}

	merged := m.state.Identity.Merge(patch)
	m.commitLocked(authenticated(merged, m.state.Provisional))

	return merged.Clone(), nil
}

// onProviderChange handles a push from the provider feed.
func (m *Manager) onProviderChange(pid *domain.ProviderIdentity) {
	defer m.corroborateOnce.Do(func() { close(m.corroborated) })

	ctx, span := tracing.Start(m.ctx, "session.ProviderChange")
	defer span.End()

	m.mu.Lock()
	for m.inflight > 0 && m.ctx.Err() == nil {
		m.idle.Wait()
	}
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	if !m.gate.admit(pid) {
		m.mu.Unlock()
		m.logger.Debug(ctx, "discarding provider event overruled by an explicit operation",
			log.Fields{"user_id": pidID(pid)})
		return
	}
	gen := m.gen
	m.mu.Unlock()

	if pid == nil {
		m.metrics.PushEvent("signed_out")
		m.handleRevocation(ctx)
		return
	}

	m.metrics.PushEvent("identity")

	profile, err := m.profiles.GetProfile(ctx, pid.ID)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.logger.Debug(ctx, "discarding stale provider event", log.Fields{"user_id": pid.ID})
		return
	}
	m.applyPushLocked(ctx, pid, profile, err)
	m.mu.Unlock()

	m.persistRecord(ctx, pid)
}

func (m *Manager) applyPushLocked(ctx context.Context, pid *domain.ProviderIdentity, profile *domain.Identity, err error) {
	switch {
	case err == nil:
		if profile.Email == "" {
			profile.Email = pid.Email
		}
		m.commitLocked(authenticated(profile, false))
	case errors.Is(err, domain.ErrNotFound):
		m.commitLocked(authenticated(pid.Identity(), false))
	default:
		m.logger.Warn(ctx, "profile refresh after provider event failed", log.Fields{
			"user_id": pid.ID,
			"error":   err.Error(),
		})
		// Same confirmed identity: keep the last-known-good fields.
		if m.state.identityID() == pid.ID && !m.state.Provisional {
			return
		}
		m.commitLocked(authenticated(pid.Identity(), false))
	}
}

func (m *Manager) handleRevocation(ctx context.Context) {
	m.mu.Lock()
	userID := m.state.identityID()
	changed := m.commitLocked(unauthenticated())
	m.pending = nil
	m.mu.Unlock()

	m.removeRecord(ctx)

	if changed && userID != "" {
		audit.Log(audit.ActionRevoke, userID, "provider reported no identity", true, nil)
		m.logger.Info(ctx, "session revoked by provider", log.Fields{"user_id": userID})
	}
}

// beginExplicit holds provider pushes back until the matching endExplicit.
func (m *Manager) beginExplicit() {
	m.mu.Lock()
	m.inflight++
	m.mu.Unlock()
}

func (m *Manager) endExplicit() {
	m.mu.Lock()
	m.inflight--
	if m.inflight == 0 {
		m.idle.Broadcast()
	}
	m.mu.Unlock()
}

// rejectFeedIdentity keeps the provider's report of id off the session after the
// caller was told its sign-in failed.
func (m *Manager) rejectFeedIdentity(id string) {
	m.mu.Lock()
	m.gate.reject(id)
	m.mu.Unlock()
}

// loadIdentity merges the provider identity with its profile record.
func (m *Manager) loadIdentity(ctx context.Context, pid *domain.ProviderIdentity) (*domain.Identity, error) {
	profile, err := m.profiles.GetProfile(ctx, pid.ID)
	switch {
	case err == nil:
		if profile.Email == "" {
			profile.Email = pid.Email
		}
		return profile, nil
	case errors.Is(err, domain.ErrNotFound):
		return pid.Identity(), nil
	default:
		m.logger.Error(ctx, "profile read failed", err, log.Fields{"user_id": pid.ID})
		return nil, repositoryError(err, "load profile")
	}
}

// persistRecord writes the session record for pid while it is still the
// published identity.
func (m *Manager) persistRecord(ctx context.Context, pid *domain.ProviderIdentity) {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()

	if m.publishedID() != pid.ID {
		return
	}

	raw, err := domain.SessionRecord{
		Token:         pid.Token,
		UserID:        pid.ID,
		LastLoginTime: m.now().UTC(),
	}.Encode()
	if err == nil {
		err = m.store.Set(ctx, domain.SessionKey, raw)
	}
	if err != nil {
		m.logger.Error(ctx, "failed to persist session record", err, log.Fields{"user_id": pid.ID})
	}
}

// removeRecord deletes the session record unless an identity was published meanwhile.
func (m *Manager) removeRecord(ctx context.Context) {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()

	if m.publishedID() != "" {
		return
	}
	if err := m.store.Remove(ctx, domain.SessionKey); err != nil {
		m.logger.Warn(ctx, "failed to remove session record", log.Fields{"error": err.Error()})
	}
}

func (m *Manager) publishedID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.identityID()
}

func (m *Manager) readRecord(ctx context.Context) *domain.SessionRecord {
	ctx, cancel := context.WithTimeout(ctx, m.resumeTimeout)
	defer cancel()

	raw, found, err := m.store.Get(ctx, domain.SessionKey)
	if err != nil {
		m.logger.Error(ctx, "failed to read session record", err)
		return nil
	}
	if !found {
		return nil
	}

	record, err := domain.DecodeSessionRecord(raw)
	if err != nil {
		m.logger.Warn(ctx, "discarding unreadable session record", log.Fields{"error": err.Error()})
		if rmErr := m.store.Remove(ctx, domain.SessionKey); rmErr != nil {
			m.logger.Warn(ctx, "failed to remove session record", log.Fields{"error": rmErr.Error()})
		}
		return nil
	}
	return record
}

// commitLocked installs next and queues the notifications. Replacing one identity
// with a different one is delivered as unauthenticated first. It reports whether
// anything observable changed; the generation advances either way.
func (m *Manager) commitLocked(next State) bool {
	m.gen++

	prev := m.state
	if prev.Status == StatusUnauthenticated && next.Status == StatusUnauthenticated {
		return false
	}
	if prev.equal(next) {
		return false
	}

	if prevID, nextID := prev.identityID(), next.identityID(); prevID != "" && nextID != "" && prevID != nextID {
		m.publishLocked(unauthenticated())
	}

	m.state = next.clone()
	m.publishLocked(m.state)
	return true
}

// setStatusLocked moves to an identity-less status without advancing the generation.
func (m *Manager) setStatusLocked(status Status) {
	m.state = State{Status: status}
	m.publishLocked(m.state)
}

func (m *Manager) publishLocked(s State) {
	snapshot := s.clone()
	targets := make([]uint64, 0, len(m.subs))
	for id := range m.subs {
		targets = append(targets, id)
	}
	m.events.Post(func() {
		for _, id := range targets {
			m.deliver(id, snapshot)
		}
	})
}

func (m *Manager) deliver(id uint64, s State) {
	m.mu.Lock()
	fn, ok := m.subs[id]
	m.mu.Unlock()
	if ok {
		fn(s.clone())
	}
}

func pidID(pid *domain.ProviderIdentity) string {
	if pid == nil {
		return ""
	}
	return pid.ID
}

func identityIDOf(ident *domain.Identity) string {
	if ident == nil {
		return ""
	}
	return ident.ID
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(serrors.CodeOf(err)))
	}
	span.End()
}
