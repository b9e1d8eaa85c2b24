package identity

import "time"

// User represents a registered platform member and wallet owner.
type User struct {
	ID           string
	Handle       string
	Email        string
	PasswordHash []byte
	Provider     string // social login provider, empty for password accounts
	ProviderUID  string
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    time.Time
}

// Credentials carries an email/password login attempt.
type Credentials struct {
	Email    string
	Password string
}

// SocialProfile carries the identity asserted by a social login provider.
type SocialProfile struct {
	Provider    string
	ProviderUID string
	Handle      string
	Email       string
}
