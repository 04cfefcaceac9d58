package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/internal/auth"
	"github.com/pilab-dev/datelink/internal/identity"
	"github.com/pilab-dev/datelink/sessionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type feed struct {
	mu     sync.Mutex
	events []*domain.ProviderIdentity
}

func (f *feed) record(p *domain.ProviderIdentity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, p)
}

func (f *feed) snapshot() []*domain.ProviderIdentity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.ProviderIdentity(nil), f.events...)
}

func newProvider(t *testing.T, accounts domain.AccountRepository, store domain.SessionStore) *identity.Provider {
	t.Helper()
	p := identity.NewProvider(identity.Config{
		Accounts: accounts,
		Hasher:   auth.NewBcryptPasswordHasher(bcrypt.MinCost),
		Signer:   identity.NewTokenSigner("test-secret", time.Hour, nil),
		Store:    store,
	})
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func providerCode(t *testing.T, err error) domain.ProviderCode {
	t.Helper()
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	return perr.Code
}

func TestProvider_CreateAccountAndSignIn(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, identity.NewMemoryAccountStore(), nil)

	created, err := p.CreateAccount(ctx, "a@x.com", "Passw0rd!")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.Token)

	_, err = p.CreateAccount(ctx, "A@x.com", "Passw0rd!")
	assert.Equal(t, domain.ProviderEmailInUse, providerCode(t, err))

	signedIn, err := p.SignIn(ctx, "a@x.com", "Passw0rd!")
	require.NoError(t, err)
	assert.Equal(t, created.ID, signedIn.ID)

	_, err = p.SignIn(ctx, "a@x.com", "wrong")
	assert.Equal(t, domain.ProviderInvalidCredentials, providerCode(t, err))

	_, err = p.SignIn(ctx, "nobody@x.com", "Passw0rd!")
	assert.Equal(t, domain.ProviderInvalidCredentials, providerCode(t, err))
}

func TestProvider_CreateAccountValidation(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, identity.NewMemoryAccountStore(), nil)

	_, err := p.CreateAccount(ctx, "not-an-email", "Passw0rd!")
	assert.Equal(t, domain.ProviderInvalidEmail, providerCode(t, err))

	_, err = p.CreateAccount(ctx, "b@x.com", "123")
	assert.Equal(t, domain.ProviderWeakSecret, providerCode(t, err))
}

type unavailableAccounts struct{ *identity.MemoryAccountStore }

func (unavailableAccounts) GetAccountByEmail(context.Context, string) (*domain.Account, error) {
	return nil, domain.ErrUnavailable
}

func TestProvider_NetworkFailure(t *testing.T) {
	p := newProvider(t, unavailableAccounts{identity.NewMemoryAccountStore()}, nil)

	_, err := p.SignIn(context.Background(), "a@x.com", "Passw0rd!")
	assert.Equal(t, domain.ProviderNetworkFailed, providerCode(t, err))
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
}

func TestProvider_ChangeFeed(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, identity.NewMemoryAccountStore(), nil)

	f := &feed{}
	unsubscribe := p.Subscribe(f.record)

	require.Eventually(t, func() bool { return len(f.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, f.snapshot()[0], "first event reports the signed-out state")

	created, err := p.CreateAccount(ctx, "a@x.com", "Passw0rd!")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))
	require.NoError(t, p.SignOut(ctx))

	require.Eventually(t, func() bool { return len(f.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	events := f.snapshot()
	assert.Equal(t, created.ID, events[1].ID)
	assert.Nil(t, events[2])

	unsubscribe()
	_, err = p.SignIn(ctx, "a@x.com", "Passw0rd!")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.snapshot(), 3)
}

func TestProvider_RestoresPersistedSession(t *testing.T) {
	ctx := context.Background()
	accounts := identity.NewMemoryAccountStore()
	store := sessionstore.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	first := newProvider(t, accounts, store)
	created, err := first.CreateAccount(ctx, "a@x.com", "Passw0rd!")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	restarted := newProvider(t, accounts, store)
	f := &feed{}
	restarted.Subscribe(f.record)

	require.Eventually(t, func() bool { return len(f.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, f.snapshot()[0])
	assert.Equal(t, created.ID, f.snapshot()[0].ID)
}

func TestProvider_RejectsExpiredPersistedSession(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := identity.NewTokenSigner("test-secret", time.Hour, past).Issue("u1", "a@x.com")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, identity.ProviderSessionKey, expired))

	p := newProvider(t, identity.NewMemoryAccountStore(), store)
	f := &feed{}
	p.Subscribe(f.record)

	require.Eventually(t, func() bool { return len(f.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, f.snapshot()[0])

	_, found, err := store.Get(ctx, identity.ProviderSessionKey)
	require.NoError(t, err)
	assert.False(t, found)
}
