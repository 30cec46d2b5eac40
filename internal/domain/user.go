package domain

import "time"

// User represents a principal capable of owning workspaces. APIKeyHash is
// empty when the key was removed and not yet reset.
type User struct {
	Username     string
	PasswordHash string
	APIKeyHash   string
	Email        string
	Admin        bool
	CredsFolder  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the identity resolved from a presented API key.
type Principal struct {
	Username string
	Admin    bool
}

// CanAccess reports whether the principal may read or mutate a record owned by owner.
func (p Principal) CanAccess(owner string) bool {
	return p.Admin || (p.Username != "" && p.Username == owner)
}
