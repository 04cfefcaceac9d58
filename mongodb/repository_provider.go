package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// RepositoryProvider owns the mongo client and the repositories built on it.
type RepositoryProvider struct {
	client *mongo.Client
	db     *mongo.Database

	profiles      *ProfileRepository
	relationships *RelationshipRepository
	accounts      *AccountRepository
	photos        *PhotoStore
}

// NewRepositoryProvider connects to mongoURI and prepares every repository,
// creating their indexes. photoBaseURL prefixes the URLs of stored photos.
func NewRepositoryProvider(ctx context.Context, mongoURI, dbName, photoBaseURL string) (*RepositoryProvider, error) {
	if mongoURI == "" || dbName == "" {
		return nil, errors.New("mongoURI and dbName must be provided")
	}

	client, db, err := Connect(ctx, mongoURI, dbName)
	if err != nil {
		return nil, err
	}

	p := &RepositoryProvider{client: client, db: db}
	if err := p.init(ctx, photoBaseURL); err != nil {
		Disconnect(context.Background(), client)
		return nil, err
	}

	return p, nil
}

func (p *RepositoryProvider) init(ctx context.Context, photoBaseURL string) error {
	var err error

	if p.profiles, err = NewProfileRepository(ctx, p.db); err != nil {
		return fmt.Errorf("init profile repository: %w", err)
	}
	if p.relationships, err = NewRelationshipRepository(ctx, p.db); err != nil {
		return fmt.Errorf("init relationship repository: %w", err)
	}
	if p.accounts, err = NewAccountRepository(ctx, p.db); err != nil {
		return fmt.Errorf("init account repository: %w", err)
	}
	p.photos = NewPhotoStore(p.db, photoBaseURL)

	return nil
}

// Profiles returns the users collection repository.
func (p *RepositoryProvider) Profiles() *ProfileRepository { return p.profiles }

// Relationships returns the matches collection repository.
func (p *RepositoryProvider) Relationships() *RelationshipRepository { return p.relationships }

// Accounts returns the credential account repository.
func (p *RepositoryProvider) Accounts() *AccountRepository { return p.accounts }

// Photos returns the GridFS photo store.
func (p *RepositoryProvider) Photos() *PhotoStore { return p.photos }

// Ping checks the primary.
func (p *RepositoryProvider) Ping(ctx context.Context) error {
	return Ping(ctx, p.client)
}

// Disconnect closes the mongo client.
func (p *RepositoryProvider) Disconnect(ctx context.Context) {
	Disconnect(ctx, p.client)
}
