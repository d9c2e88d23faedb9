package models

import "time"

// OAuthStateTTL is how long an authorize round trip may take.
const OAuthStateTTL = 10 * time.Minute

// OAuthState is the server-side half of an authorize redirect.
type OAuthState struct {
	Nonce     string `db:"nonce" json:"nonce"`
	TenantID  string `db:"tenant_id" json:"tenant_id"`
	Sandbox   bool   `db:"sandbox" json:"sandbox"`
	ExpiresAt int64  `db:"expires_at" json:"expires_at"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for OAuthState.
func (OAuthState) TableName() string {
	return "oauth_states"
}

// Expired reports whether the state is no longer usable at now.
func (s *OAuthState) Expired(now time.Time) bool {
	return !now.Before(time.Unix(s.ExpiresAt, 0))
}
