package mongodb

const (
	// UsersCollection holds profile records keyed by identity id.
	UsersCollection = "users"
	// MatchesCollection holds relationships; participants are stored under "users".
	MatchesCollection = "matches"
	// AccountsCollection holds provider credentials.
	AccountsCollection = "accounts"
	// PhotosBucket is the GridFS bucket for profile images.
	PhotosBucket = "profile_images"
)
