package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pilab-dev/datelink/domain"
)

// MemoryAccountStore is an in-process domain.AccountRepository.
type MemoryAccountStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Account
	byEmail map[string]string
}

// NewMemoryAccountStore returns an empty store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		byID:    make(map[string]*domain.Account),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryAccountStore) CreateAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(account.Email)
	if _, ok := s.byEmail[key]; ok {
		return fmt.Errorf("account %s: %w", account.Email, domain.ErrAlreadyExists)
	}
	if _, ok := s.byID[account.ID]; ok {
		return fmt.Errorf("account %s: %w", account.ID, domain.ErrAlreadyExists)
	}

	c := *account
	s.byID[account.ID] = &c
	s.byEmail[key] = account.ID
	return nil
}

func (s *MemoryAccountStore) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", email, domain.ErrNotFound)
	}
	c := *s.byID[id]
	return &c, nil
}

func (s *MemoryAccountStore) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	c := *a
	return &c, nil
}

var _ domain.AccountRepository = (*MemoryAccountStore)(nil)
