// Package connection owns a tenant's OAuth credentials: authorization,
// refresh, expiry and revocation.
package connection

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/kimhsiao/ledgerlink/internal/config"
	"github.com/kimhsiao/ledgerlink/internal/db"
	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/logging"
	"github.com/kimhsiao/ledgerlink/internal/metrics"
	"github.com/kimhsiao/ledgerlink/internal/models"
	"github.com/kimhsiao/ledgerlink/internal/uuid"
)

// Manager is the Connection / Token Manager.
type Manager struct {
	store     db.ConnectionStore
	states    db.OAuthStateStore
	oauth     *oauth2.Config
	revokeURL string
	client    *http.Client
	now       func() time.Time
	log       *logging.Logger

	// refreshLocks serializes refreshes per connection id.
	refreshLocks *mapmutex.Mutex
	refreshing   sync.Map // connection id -> struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for token and revoke calls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager from the OAuth settings.
func NewManager(store db.ConnectionStore, states db.OAuthStateStore, cfg config.OAuthConfig, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		states: states,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		revokeURL: cfg.RevokeURL,
		client:    http.DefaultClient,
		now:       time.Now,
		log:       logging.For("connection"),
		// 0.1s max delay, roughly a minute of retries before giving up.
		refreshLocks: mapmutex.NewCustomizedMapMutex(600, 100000000, 10, 1.1, 0.2),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

func (m *Manager) checkCredentials() error {
	if m.oauth.ClientID == "" || m.oauth.ClientSecret == "" {
		return apperrors.New(apperrors.ErrConfiguration, "oauth client credentials are not configured")
	}
	return nil
}

// State returns the token state of c at the current time.
func (m *Manager) State(c *models.Connection) TokenState {
	if _, ok := m.refreshing.Load(c.ID); ok {
		return StateRefreshing
	}
	return tokenState(c, m.now())
}

// EnsureValidToken returns a connection whose access token can be used now,
// refreshing it synchronously when it is expired or about to expire.
// A connection whose refresh token has expired fails with
// REAUTH_REQUIRED, which is persisted on the connection.
func (m *Manager) EnsureValidToken(ctx context.Context, c *models.Connection) (*models.Connection, error) {
	if !c.Active {
		return nil, apperrors.New(apperrors.ErrConnectionInactive, "connection is not active")
	}

	switch tokenState(c, m.now()) {
	case StateNoToken:
		return nil, apperrors.New(apperrors.ErrConfiguration, "connection holds no access token")
	case StateInvalid:
		msg := "refresh token expired, reauthorization required"
		if c.ReauthRequired && c.LastError != "" {
			msg = c.LastError
		}
		if !c.ReauthRequired {
			if err := m.store.MarkReauthRequired(ctx, c.ID, msg); err != nil {
				return nil, err
			}
		}
		return nil, apperrors.New(apperrors.ErrReauthRequired, msg)
	case StateExpired, StateExpiringSoon:
		return m.Refresh(ctx, c)
	default:
		return c, nil
	}
}

// Refresh exchanges the refresh token for a new token pair. On success both
// tokens and both expiries are overwritten and the stored error is cleared.
// On failure the stored tokens are left untouched. A rejection of the refresh
// token (invalid_grant, or any 4xx but 429) marks the connection
// reauth_required and returns REAUTH_REQUIRED; an unreachable or failing
// token endpoint returns UPSTREAM_UNAVAILABLE and changes nothing.
//
// Refreshes for one connection are serialized in-process. A caller that
// waited on another refresh gets the already refreshed connection back
// instead of spending the rotated refresh token a second time.
func (m *Manager) Refresh(ctx context.Context, c *models.Connection) (*models.Connection, error) {
	if err := m.checkCredentials(); err != nil {
		return nil, err
	}

	key := string(c.ID)
	if !m.refreshLocks.TryLock(key) {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "token refresh already in progress")
	}
	defer m.refreshLocks.Unlock(key)

	m.refreshing.Store(c.ID, struct{}{})
	defer m.refreshing.Delete(c.ID)

	current, err := m.store.GetConnection(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if current.RefreshToken != c.RefreshToken && tokenState(current, m.now()) == StateValid {
		m.log.Debug("refresh already performed by a concurrent caller", map[string]interface{}{
			"connection_id": c.ID,
		})
		return current, nil
	}

	seed := &oauth2.Token{RefreshToken: current.RefreshToken, Expiry: time.Unix(1, 0)}
	tok, err := m.oauth.TokenSource(m.httpContext(ctx), seed).Token()
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return nil, m.refreshFailed(ctx, current, err)
	}

	now := m.now()
	updated := current.Clone()
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.AccessTokenExpiresAt = expiryFrom(tok, "expires_in", now, tok.Expiry)
	if secs, ok := extraSeconds(tok, "x_refresh_token_expires_in"); ok {
		updated.RefreshTokenExpiresAt = now.Add(time.Duration(secs) * time.Second).Unix()
	}

	if err := m.store.UpdateConnectionTokens(ctx, updated); err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	m.log.Info("access token refreshed", map[string]interface{}{
		"connection_id": updated.ID,
		"expires_at":    updated.AccessTokenExpiresAt,
	})
	return updated, nil
}

func (m *Manager) refreshFailed(ctx context.Context, c *models.Connection, err error) error {
	fields := map[string]interface{}{"connection_id": c.ID}

	rErr, ok := err.(*oauth2.RetrieveError)
	if !ok {
		m.log.Warn("token refresh did not reach the token endpoint", fields)
		return apperrors.Wrap(apperrors.ErrUpstreamUnavailable, "token refresh failed", err)
	}
	if !refreshRejected(rErr) {
		// Tokens and the reauth flag stay as they are; the next attempt retries.
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		m.log.Warn("token endpoint unavailable", fields, map[string]interface{}{
			"status": status,
			"reason": rErr.ErrorCode,
		})
		return apperrors.Wrap(apperrors.ErrUpstreamUnavailable, "token endpoint unavailable", err)
	}

	reason := rErr.ErrorCode
	if reason == "" {
		reason = "token endpoint rejected refresh"
	}
	if rErr.ErrorDescription != "" {
		reason += ": " + rErr.ErrorDescription
	}
	if markErr := m.store.MarkReauthRequired(ctx, c.ID, reason); markErr != nil {
		m.log.Error("failed to persist reauth flag", markErr, fields)
	}
	m.log.Warn("token refresh rejected, reauthorization required", fields, map[string]interface{}{
		"reason": reason,
	})
	return apperrors.Wrap(apperrors.ErrReauthRequired, "token refresh rejected", err)
}

// refreshRejected reports whether the token endpoint refused the refresh
// token itself, as opposed to failing to serve the request.
func refreshRejected(rErr *oauth2.RetrieveError) bool {
	switch rErr.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	if rErr.Response == nil {
		return false
	}
	status := rErr.Response.StatusCode
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

// extraSeconds reads a numeric token response field.
func extraSeconds(tok *oauth2.Token, key string) (int64, bool) {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}

func expiryFrom(tok *oauth2.Token, key string, now, fallback time.Time) int64 {
	if secs, ok := extraSeconds(tok, key); ok {
		return now.Add(time.Duration(secs) * time.Second).Unix()
	}
	if !fallback.IsZero() {
		return fallback.Unix()
	}
	return 0
}

// AuthorizeURL stores a fresh OAuth state and returns the authorize redirect.
func (m *Manager) AuthorizeURL(ctx context.Context, tenantID string, sandbox bool) (string, error) {
	if err := m.checkCredentials(); err != nil {
		return "", err
	}
	if tenantID == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "tenant id is required")
	}

	nonce, err := uuid.NewNonce()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "generate oauth nonce", err)
	}
	now := m.now()
	st := &models.OAuthState{
		Nonce:     nonce,
		TenantID:  tenantID,
		Sandbox:   sandbox,
		ExpiresAt: now.Add(models.OAuthStateTTL).Unix(),
		CreatedAt: now.Unix(),
	}
	if err := m.states.SaveOAuthState(ctx, st); err != nil {
		return "", err
	}

	value, err := encodeState(statePayload{TenantID: tenantID, Sandbox: sandbox, Nonce: nonce})
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "encode oauth state", err)
	}
	return m.oauth.AuthCodeURL(value), nil
}

// CompleteAuthorization validates the returned state, exchanges the code
// and stores the single active connection for (tenant, realm). tenantID may
// be empty when the callback carries no session; the stored state row is
// then the only authority.
func (m *Manager) CompleteAuthorization(ctx context.Context, tenantID, state, code, realmID string) (*models.Connection, error) {
	if err := m.checkCredentials(); err != nil {
		return nil, err
	}
	payload, err := decodeState(state)
	if err != nil {
		return nil, err
	}
	if tenantID != "" && payload.TenantID != tenantID {
		return nil, apperrors.New(apperrors.ErrStateInvalid, "oauth state belongs to another tenant")
	}
	if code == "" || realmID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "authorization code and realm id are required")
	}

	stored, err := m.states.ConsumeOAuthState(ctx, payload.Nonce)
	if err != nil {
		return nil, err
	}
	if stored.TenantID != payload.TenantID {
		return nil, apperrors.New(apperrors.ErrStateInvalid, "oauth state tenant mismatch")
	}
	now := m.now()
	if stored.Expired(now) {
		return nil, apperrors.New(apperrors.ErrStateExpired, "oauth state expired")
	}

	tok, err := m.oauth.Exchange(m.httpContext(ctx), code)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrReauthRequired, "authorization code exchange failed", err)
	}

	conn := &models.Connection{
		TenantID:             stored.TenantID,
		RealmID:              realmID,
		AccessToken:          tok.AccessToken,
		RefreshToken:         tok.RefreshToken,
		AccessTokenExpiresAt: expiryFrom(tok, "expires_in", now, tok.Expiry),
		Sandbox:              stored.Sandbox,
	}
	if secs, ok := extraSeconds(tok, "x_refresh_token_expires_in"); ok {
		conn.RefreshTokenExpiresAt = now.Add(time.Duration(secs) * time.Second).Unix()
	}
	if err := m.store.SaveAuthorizedConnection(ctx, conn); err != nil {
		return nil, err
	}

	m.log.Info("connection authorized", map[string]interface{}{
		"connection_id": conn.ID,
		"tenant_id":     conn.TenantID,
		"realm_id":      conn.RealmID,
		"sandbox":       conn.Sandbox,
	})
	return conn, nil
}

// Disconnect revokes the tokens (best effort) and deactivates the
// connection. The row is never deleted. Disconnecting an inactive
// connection is a no-op.
func (m *Manager) Disconnect(ctx context.Context, connectionID models.UUID) error {
	c, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	if !c.Active {
		return nil
	}

	if err := m.revoke(ctx, c); err != nil {
		m.log.Warn("token revocation failed, deactivating anyway", map[string]interface{}{
			"connection_id": c.ID,
			"error":         err.Error(),
		})
	}
	if err := m.store.DeactivateConnection(ctx, c.ID); err != nil {
		return err
	}
	m.log.Info("connection disconnected", map[string]interface{}{"connection_id": c.ID})
	return nil
}

func (m *Manager) revoke(ctx context.Context, c *models.Connection) error {
	if m.revokeURL == "" {
		return nil
	}
	token := c.RefreshToken
	if token == "" {
		token = c.AccessToken
	}
	if token == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.SetBasicAuth(m.oauth.ClientID, m.oauth.ClientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("revoke returned HTTP %d", resp.StatusCode)
	}
	return nil
}
