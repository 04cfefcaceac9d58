package mongodb

import (
	"context"
	"errors"

	"github.com/pilab-dev/datelink/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var emailCollation = &options.Collation{Locale: "en", Strength: 2}

// AccountRepository implements domain.AccountRepository on the accounts collection.
type AccountRepository struct {
	accounts *mongo.Collection
}

// NewAccountRepository creates the repository with a case-insensitive unique email index.
func NewAccountRepository(ctx context.Context, db *mongo.Database) (*AccountRepository, error) {
	repo := &AccountRepository{accounts: db.Collection(AccountsCollection)}

	_, err := repo.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetCollation(emailCollation),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Error creating indexes for accounts collection (may already exist or options conflict)")
	}

	return repo, nil
}

// CreateAccount inserts account; a duplicate email yields domain.ErrAlreadyExists.
func (r *AccountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if _, err := r.accounts.InsertOne(ctx, account); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			log.Error().Err(err).Str("email", account.Email).Msg("Error creating account in MongoDB")
		}
		return classify(err, "create account")
	}
	return nil
}

// GetAccountByEmail looks the account up case-insensitively.
func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var account domain.Account
	err := r.accounts.FindOne(ctx, bson.M{"email": email},
		options.FindOne().SetCollation(emailCollation)).Decode(&account)
	if err != nil {
		return nil, classify(err, "get account by email")
	}
	return &account, nil
}

// GetAccountByID retrieves an account by id.
func (r *AccountRepository) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	if err := r.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(&account); err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			log.Error().Err(err).Str("id", id).Msg("Error getting account from MongoDB")
		}
		return nil, classify(err, "get account")
	}
	return &account, nil
}

var _ domain.AccountRepository = (*AccountRepository)(nil)
