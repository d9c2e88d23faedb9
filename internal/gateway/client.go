// Package gateway is a thin typed client for the accounting API's entity
// endpoints. It attaches the bearer token, picks the base URL from the
// connection's sandbox flag and reports every non-2xx response as an
// *APIError without interpreting it.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/kimhsiao/ledgerlink/internal/config"
	"github.com/kimhsiao/ledgerlink/internal/logging"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 4 << 20

// Entity is a decoded remote record.
type Entity struct {
	ID        string          `json:"Id"`
	SyncToken string          `json:"SyncToken"`
	Raw       json.RawMessage `json:"-"`
}

// Client calls the remote entity endpoints.
type Client struct {
	baseURL        string
	sandboxBaseURL string
	minorVersion   string
	httpClient     *http.Client
	now            func() time.Time
	log            *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a gateway client. cfg.Timeout bounds each call when set.
func NewClient(cfg config.APIConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		sandboxBaseURL: strings.TrimRight(cfg.SandboxBaseURL, "/"),
		minorVersion:   cfg.MinorVersion,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		now:            time.Now,
		log:            logging.For("gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EntityName returns the capitalized name the API uses in bodies and queries.
func EntityName(remoteType string) string {
	if remoteType == "" {
		return ""
	}
	return strings.ToUpper(remoteType[:1]) + remoteType[1:]
}

func (c *Client) endpoint(conn *models.Connection, resource string, query url.Values) string {
	base := c.baseURL
	if conn.Sandbox {
		base = c.sandboxBaseURL
	}
	if c.minorVersion != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("minorversion", c.minorVersion)
	}
	u := fmt.Sprintf("%s/v3/company/%s/%s", base, url.PathEscape(conn.RealmID), resource)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// CreateEntity posts a create payload for remoteType.
func (c *Client) CreateEntity(ctx context.Context, conn *models.Connection, remoteType string, payload interface{}) (*Entity, error) {
	return c.write(ctx, conn, remoteType, payload, "create")
}

// UpdateEntity posts an update payload. The payload must carry Id and
// SyncToken.
func (c *Client) UpdateEntity(ctx context.Context, conn *models.Connection, remoteType string, payload interface{}) (*Entity, error) {
	return c.write(ctx, conn, remoteType, payload, "update")
}

func (c *Client) write(ctx context.Context, conn *models.Connection, remoteType string, payload interface{}, op string) (*Entity, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", remoteType, err)
	}
	var query url.Values
	if op == "update" {
		query = url.Values{"operation": {"update"}}
	}

	raw, err := c.do(ctx, conn, http.MethodPost, c.endpoint(conn, remoteType, query), body)
	if err != nil {
		return nil, err
	}

	// The remote system accepted the write from here on, so a body we cannot
	// read leaves its state unknown rather than unchanged.
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &UnreadableResponseError{Op: op, RemoteType: remoteType, Body: raw, Err: err}
	}
	entityRaw, ok := lookup(envelope, EntityName(remoteType))
	if !ok {
		return nil, &UnreadableResponseError{Op: op, RemoteType: remoteType, Body: raw,
			Err: fmt.Errorf("no %s object in response", EntityName(remoteType))}
	}
	e, err := decodeEntity(entityRaw)
	if err != nil {
		return nil, &UnreadableResponseError{Op: op, RemoteType: remoteType, Body: raw, Err: err}
	}
	return e, nil
}

// QueryEntities runs "select * from <Entity> [where <filter>]". The filter
// is sent URL-encoded as is.
func (c *Client) QueryEntities(ctx context.Context, conn *models.Connection, remoteType, filter string) ([]*Entity, error) {
	stmt := "select * from " + EntityName(remoteType)
	if filter = strings.TrimSpace(filter); filter != "" {
		stmt += " where " + filter
	}

	raw, err := c.do(ctx, conn, http.MethodGet, c.endpoint(conn, "query", url.Values{"query": {stmt}}), nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	listRaw, ok := lookup(envelope.QueryResponse, EntityName(remoteType))
	if !ok {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(listRaw, &items); err != nil {
		return nil, fmt.Errorf("decode query results: %w", err)
	}
	out := make([]*Entity, 0, len(items))
	for _, item := range items {
		e, err := decodeEntity(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// QueryByID fetches one entity by id, returning nil when it does not exist.
func (c *Client) QueryByID(ctx context.Context, conn *models.Connection, remoteType, id string) (*Entity, error) {
	entities, err := c.QueryEntities(ctx, conn, remoteType, fmt.Sprintf("Id = '%s'", strings.ReplaceAll(id, "'", `\'`)))
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

func (c *Client) do(ctx context.Context, conn *models.Connection, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	c.log.Debug("remote call", map[string]interface{}{
		"method":      method,
		"path":        req.URL.Path,
		"status":      resp.StatusCode,
		"duration_ms": c.now().Sub(start).Milliseconds(),
		"realm_id":    conn.RealmID,
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       raw,
			RetryAfter: parseRetryAfter(resp.Header, c.now()),
			IntuitTID:  resp.Header.Get("intuit_tid"),
		}
	}
	return raw, nil
}

// lookup finds key in m, ignoring case.
func lookup(m map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func decodeEntity(raw json.RawMessage) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	if e.ID == "" {
		return nil, fmt.Errorf("remote entity has no Id")
	}
	e.Raw = append(json.RawMessage(nil), raw...)
	return &e, nil
}
