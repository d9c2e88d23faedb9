package connection

import (
	"encoding/base64"
	"time"

	"github.com/goccy/go-json"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

// TokenState is the lifecycle position of a connection's credentials.
type TokenState string

const (
	StateNoToken      TokenState = "no_token"
	StateValid        TokenState = "valid"
	StateExpiringSoon TokenState = "expiring_soon"
	StateExpired      TokenState = "expired"
	StateRefreshing   TokenState = "refreshing"
	StateInvalid      TokenState = "invalid"
)

// ExpiringSoonWindow is how close to expiry an access token is refreshed early.
const ExpiringSoonWindow = 5 * time.Minute

// tokenState computes the state from stored fields alone.
func tokenState(c *models.Connection, now time.Time) TokenState {
	switch {
	case c.AccessToken == "" || c.RefreshToken == "":
		return StateNoToken
	case c.ReauthRequired:
		return StateInvalid
	case c.RefreshTokenExpiresAt != 0 && !now.Before(c.RefreshTokenExpiry()):
		return StateInvalid
	case c.AccessTokenExpiresAt == 0 || !now.Before(c.AccessTokenExpiry()):
		return StateExpired
	case c.AccessTokenExpiry().Sub(now) <= ExpiringSoonWindow:
		return StateExpiringSoon
	default:
		return StateValid
	}
}

// statePayload is the opaque state value carried through the authorize redirect.
type statePayload struct {
	TenantID string `json:"tenant_id"`
	Sandbox  bool   `json:"sandbox"`
	Nonce    string `json:"nonce"`
}

func encodeState(p statePayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeState(value string) (statePayload, error) {
	var p statePayload
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return p, apperrors.Wrap(apperrors.ErrStateInvalid, "malformed oauth state", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, apperrors.Wrap(apperrors.ErrStateInvalid, "malformed oauth state", err)
	}
	if p.Nonce == "" || p.TenantID == "" {
		return p, apperrors.New(apperrors.ErrStateInvalid, "incomplete oauth state")
	}
	return p, nil
}
