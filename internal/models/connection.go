package models

import "time"

// Connection is a tenant's authorized link to one accounting company (realm).
// Tokens are never exposed in JSON responses.
type Connection struct {
	ID                    UUID   `db:"id" json:"id"`
	TenantID              string `db:"tenant_id" json:"tenant_id"`
	RealmID               string `db:"remote_realm_id" json:"remote_realm_id"`
	AccessToken           string `db:"access_token" json:"-"`
	RefreshToken          string `db:"refresh_token" json:"-"`
	AccessTokenExpiresAt  int64  `db:"access_token_expires_at" json:"access_token_expires_at"`
	RefreshTokenExpiresAt int64  `db:"refresh_token_expires_at" json:"refresh_token_expires_at"`
	Sandbox               bool   `db:"sandbox" json:"sandbox"`
	Active                bool   `db:"active" json:"active"`
	ReauthRequired        bool   `db:"reauth_required" json:"reauth_required"`
	LastError             string `db:"last_error" json:"last_error,omitempty"`
	LastConnectedAt       int64  `db:"last_connected_at" json:"last_connected_at"`
	CreatedAt             int64  `db:"created_at" json:"created_at"`
	UpdatedAt             int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Connection.
func (Connection) TableName() string {
	return "connections"
}

// AccessTokenExpiry returns the access token expiry as time.Time.
func (c *Connection) AccessTokenExpiry() time.Time {
	return unixTime(c.AccessTokenExpiresAt)
}

// RefreshTokenExpiry returns the refresh token expiry as time.Time.
func (c *Connection) RefreshTokenExpiry() time.Time {
	return unixTime(c.RefreshTokenExpiresAt)
}

// Clone returns a copy that can be mutated without touching the original.
func (c *Connection) Clone() *Connection {
	cp := *c
	return &cp
}
