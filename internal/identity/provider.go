// Package identity is the credential provider used by the session engine: it owns
// accounts, mints id tokens and pushes identity-change events to subscribers.
package identity

import (
	"context"
	"errors"
	"net/mail"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/internal/auth"
	"github.com/pilab-dev/datelink/internal/mailbox"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// ProviderSessionKey is where the provider keeps its own signed-in token.
const ProviderSessionKey = "@provider_session"

// DefaultMinSecretLength is the provider's own floor for new secrets.
const DefaultMinSecretLength = 6

// Config wires a Provider. Store may be nil, in which case the provider forgets its
// signed-in user on restart.
type Config struct {
	Accounts        domain.AccountRepository
	Hasher          auth.PasswordHasher
	Signer          *TokenSigner
	Store           domain.SessionStore
	MinSecretLength int
	Now             func() time.Time
}

// Provider implements domain.IdentityProvider.
// Change events are delivered in order on a single goroutine, never under a lock.
type Provider struct {
	accounts  domain.AccountRepository
	hasher    auth.PasswordHasher
	signer    *TokenSigner
	store     domain.SessionStore
	minSecret int
	now       func() time.Time

	mu       sync.Mutex
	current  *domain.ProviderIdentity
	restored bool
	subs     map[uint64]func(*domain.ProviderIdentity)
	nextSub  uint64

	events *mailbox.Mailbox
}

// NewProvider creates a provider and starts its event goroutine. Call Close to stop it.
func NewProvider(cfg Config) *Provider {
	if cfg.Hasher == nil {
		cfg.Hasher = auth.NewBcryptPasswordHasher(0)
	}
	if cfg.MinSecretLength <= 0 {
		cfg.MinSecretLength = DefaultMinSecretLength
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Provider{
		accounts:  cfg.Accounts,
		hasher:    cfg.Hasher,
		signer:    cfg.Signer,
		store:     cfg.Store,
		minSecret: cfg.MinSecretLength,
		now:       cfg.Now,
		subs:      make(map[uint64]func(*domain.ProviderIdentity)),
		events:    mailbox.New(),
	}

	return p
}

// Close stops event delivery. Pending events are dropped.
func (p *Provider) Close() error {
	p.events.Close()
	return nil
}

// SignIn verifies the email/secret pair and makes the account the signed-in user.
func (p *Provider) SignIn(ctx context.Context, email, secret string) (*domain.ProviderIdentity, error) {
	account, err := p.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewProviderError(domain.ProviderInvalidCredentials, nil)
		}
		return nil, providerFailure(err)
	}

	if err := p.hasher.Verify(account.PasswordHash, secret); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, domain.NewProviderError(domain.ProviderInvalidCredentials, nil)
		}
		return nil, domain.NewProviderError(domain.ProviderOther, err)
	}

	return p.establish(ctx, account)
}

// CreateAccount registers a new account and signs it in.
func (p *Provider) CreateAccount(ctx context.Context, email, secret string) (*domain.ProviderIdentity, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, domain.NewProviderError(domain.ProviderInvalidEmail, err)
	}
	if len(secret) < p.minSecret {
		return nil, domain.NewProviderError(domain.ProviderWeakSecret, nil)
	}

	hash, err := p.hasher.Hash(secret)
	if err != nil {
		return nil, domain.NewProviderError(domain.ProviderWeakSecret, err)
	}

	account := &domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.NewProviderError(domain.ProviderEmailInUse, err)
		}
		return nil, providerFailure(err)
	}

	log.Info().Str("account_id", account.ID).Msg("Provider account created")

	return p.establish(ctx, account)
}

// SignOut clears the signed-in user. Subscribers are notified only if one was signed in.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	was := p.current
	p.current = nil
	p.restored = true
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Remove(ctx, ProviderSessionKey); err != nil {
			log.Warn().Err(err).Msg("Failed to remove provider session")
		}
	}

	if was != nil {
		p.broadcast(nil)
	}
	return nil
}

// Subscribe registers fn. fn first receives the current user (restored from the
// store when the provider has not been used yet), then every later change.
func (p *Provider) Subscribe(fn func(*domain.ProviderIdentity)) func() {
	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	p.events.Post(func() {
		current := p.restore()
		p.deliver(id, current)
	})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Current returns the signed-in user, or nil.
func (p *Provider) Current() *domain.ProviderIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneIdentity(p.current)
}

func (p *Provider) establish(ctx context.Context, account *domain.Account) (*domain.ProviderIdentity, error) {
	token, err := p.signer.Issue(account.ID, account.Email)
	if err != nil {
		return nil, domain.NewProviderError(domain.ProviderOther, err)
	}

	ident := &domain.ProviderIdentity{
		ID:          account.ID,
		Email:       account.Email,
		Token:       token,
		DisplayName: account.DisplayName,
	}

	p.mu.Lock()
	p.current = ident
	p.restored = true
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Set(ctx, ProviderSessionKey, token); err != nil {
			log.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to persist provider session")
		}
	}

	p.broadcast(ident)

	return cloneIdentity(ident), nil
}

// restore loads the persisted token once. An expired or forged token, or one whose
// account no longer exists, restores as signed out.
func (p *Provider) restore() *domain.ProviderIdentity {
	p.mu.Lock()
	if p.restored || p.store == nil {
		p.restored = true
		current := cloneIdentity(p.current)
		p.mu.Unlock()
		return current
	}
	p.mu.Unlock()

	ctx := context.Background()
	var restored *domain.ProviderIdentity

	if token, found, err := p.store.Get(ctx, ProviderSessionKey); err != nil {
		log.Warn().Err(err).Msg("Failed to read provider session")
	} else if found {
		restored = p.validate(ctx, token)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.restored {
		p.current = restored
		p.restored = true
	}
	return cloneIdentity(p.current)
}

func (p *Provider) validate(ctx context.Context, token string) *domain.ProviderIdentity {
	claims, err := p.signer.Verify(token)
	if err != nil {
		log.Info().Err(err).Msg("Persisted provider session rejected")
		_ = p.store.Remove(ctx, ProviderSessionKey)
		return nil
	}

	account, err := p.accounts.GetAccountByID(ctx, claims.Subject)
	if err != nil {
		log.Info().Err(err).Str("account_id", claims.Subject).Msg("Persisted provider session has no account")
		return nil
	}

	return &domain.ProviderIdentity{
		ID:          account.ID,
		Email:       account.Email,
		Token:       token,
		DisplayName: account.DisplayName,
	}
}

func (p *Provider) broadcast(ident *domain.ProviderIdentity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events.Post(func() {
		p.mu.Lock()
		targets := make([]uint64, 0, len(p.subs))
		for id := range p.subs {
			targets = append(targets, id)
		}
		p.mu.Unlock()

		for _, id := range targets {
			p.deliver(id, ident)
		}
	})
}

func (p *Provider) deliver(id uint64, ident *domain.ProviderIdentity) {
	p.mu.Lock()
	fn, ok := p.subs[id]
	p.mu.Unlock()
	if ok {
		fn(cloneIdentity(ident))
	}
}

func providerFailure(err error) error {
	if errors.Is(err, domain.ErrUnavailable) {
		return domain.NewProviderError(domain.ProviderNetworkFailed, err)
	}
	return domain.NewProviderError(domain.ProviderOther, err)
}

func cloneIdentity(p *domain.ProviderIdentity) *domain.ProviderIdentity {
	if p == nil {
		return nil
	}
	c := *p
	if p.PhotoURL != nil {
		u := *p.PhotoURL
		c.PhotoURL = &u
	}
	return &c
}

var _ domain.IdentityProvider = (*Provider)(nil)
