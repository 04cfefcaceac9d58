package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/internal/mailbox"
	"github.com/pilab-dev/datelink/internal/memstore"
	"github.com/pilab-dev/datelink/session"
	"github.com/pilab-dev/datelink/sessionstore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeAccount struct {
	id     string
	secret string
}

// fakeProvider is an in-memory identity provider. Like the real one it reports
// sign-in, account creation and sign-out on its change feed, delivered in order
// on its own goroutine. Push injects an out-of-band change.
type fakeProvider struct {
	mu        sync.Mutex
	accounts  map[string]fakeAccount
	signInErr error
	signOuts  int
	current   *domain.ProviderIdentity
	subs      map[int]func(*domain.ProviderIdentity)
	nextSub   int
	events    *mailbox.Mailbox
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		accounts: make(map[string]fakeAccount),
		subs:     make(map[int]func(*domain.ProviderIdentity)),
		events:   mailbox.New(),
	}
	t.Cleanup(p.events.Close)
	return p
}

func (p *fakeProvider) addAccount(id, email, secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[email] = fakeAccount{id: id, secret: secret}
}

func (p *fakeProvider) SignIn(_ context.Context, email, secret string) (*domain.ProviderIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	a, ok := p.accounts[email]
	if !ok || a.secret != secret {
		return nil, domain.NewProviderError(domain.ProviderInvalidCredentials, nil)
	}
	pid := &domain.ProviderIdentity{ID: a.id, Email: email, Token: "tok-" + a.id}
	p.setCurrentLocked(pid)
	return pid, nil
}

func (p *fakeProvider) CreateAccount(_ context.Context, email, secret string) (*domain.ProviderIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; ok {
		return nil, domain.NewProviderError(domain.ProviderEmailInUse, nil)
	}
	id := fmt.Sprintf("uid-%d", len(p.accounts)+1)
	p.accounts[email] = fakeAccount{id: id, secret: secret}
	pid := &domain.ProviderIdentity{ID: id, Email: email, Token: "tok-" + id}
	p.setCurrentLocked(pid)
	return pid, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts++
	if p.current != nil {
		p.setCurrentLocked(nil)
	}
	return nil
}

func (p *fakeProvider) Subscribe(fn func(*domain.ProviderIdentity)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *fakeProvider) setCurrentLocked(pid *domain.ProviderIdentity) {
	p.current = pid
	p.broadcastLocked(pid, nil)
}

func (p *fakeProvider) broadcastLocked(pid *domain.ProviderIdentity, done func()) bool {
	fns := make([]func(*domain.ProviderIdentity), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	return p.events.Post(func() {
		for _, fn := range fns {
			fn(pid)
		}
		if done != nil {
			done()
		}
	})
}

// Push queues a change behind everything already on the feed and returns once
// every subscriber has handled it.
func (p *fakeProvider) Push(pid *domain.ProviderIdentity) {
	delivered := make(chan struct{})
	p.mu.Lock()
	p.current = pid
	ok := p.broadcastLocked(pid, func() { close(delivered) })
	p.mu.Unlock()
	if ok {
		<-delivered
	}
}

// drain returns once everything queued on the feed so far has been delivered.
func (p *fakeProvider) drain() {
	delivered := make(chan struct{})
	if p.events.Post(func() { close(delivered) }) {
		<-delivered
	}
}

// flush returns once every notification m queued before the call has been delivered.
func flush(m *session.Manager) {
	delivered := make(chan struct{})
	var once sync.Once
	unsubscribe := m.Subscribe(func(session.State) { once.Do(func() { close(delivered) }) })
	<-delivered
	unsubscribe()
}

func currentID(m *session.Manager) string {
	if ident := m.CurrentIdentity(); ident != nil {
		return ident.ID
	}
	return ""
}

// recorder collects published states.
type recorder struct {
	mu     sync.Mutex
	states []session.State
}

func (r *recorder) record(s session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) snapshot() []session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.State(nil), r.states...)
}

func (r *recorder) statuses() []session.Status {
	var out []session.Status
	for _, s := range r.snapshot() {
		out = append(out, s.Status)
	}
	return out
}

// mockProfiles is a testify mock of domain.ProfileRepository.
type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) GetProfile(ctx context.Context, id string) (*domain.Identity, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*domain.Identity); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProfiles) CreateProfile(ctx context.Context, profile *domain.Identity) error {
	return m.Called(ctx, profile).Error(0)
}

func (m *mockProfiles) UpdateProfile(ctx context.Context, id string, patch domain.ProfilePatch) error {
	return m.Called(ctx, id, patch).Error(0)
}

// gatedProfiles blocks GetProfile for one id until released.
type gatedProfiles struct {
	domain.ProfileRepository
	gateID  string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProfiles) GetProfile(ctx context.Context, id string) (*domain.Identity, error) {
	if id == g.gateID {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.ProfileRepository.GetProfile(ctx, id)
}

type harness struct {
	manager  *session.Manager
	provider *fakeProvider
	profiles *memstore.Store
	store    *sessionstore.MemoryStore
	photos   *memstore.PhotoStore
}

func newHarness(t *testing.T, opts ...session.Option) *harness {
	t.Helper()
	h := &harness{
		provider: newFakeProvider(t),
		profiles: memstore.New(),
		store:    sessionstore.NewMemoryStore(0),
		photos:   memstore.NewPhotoStore("http://photos.test"),
	}
	h.manager = newManager(t, session.Deps{
		Provider: h.provider,
		Profiles: h.profiles,
		Store:    h.store,
		Photos:   h.photos,
	}, opts...)
	t.Cleanup(func() { _ = h.store.Close() })
	return h
}

func newManager(t *testing.T, deps session.Deps, opts ...session.Option) *session.Manager {
	t.Helper()
	opts = append([]session.Option{session.WithClock(func() time.Time {
		return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	})}, opts...)
	m := session.NewManager(deps, opts...)
	t.Cleanup(m.Close)
	return m
}

func (h *harness) record(t *testing.T) (domain.SessionRecord, bool) {
	t.Helper()
	raw, found, err := h.store.Get(context.Background(), domain.SessionKey)
	require.NoError(t, err)
	if !found {
		return domain.SessionRecord{}, false
	}
	rec, err := domain.DecodeSessionRecord(raw)
	require.NoError(t, err)
	return *rec, true
}
