// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDScan(t *testing.T) {
	var u UUID
	require.NoError(t, u.Scan(nil))
	assert.Equal(t, UUID(""), u)

	require.NoError(t, u.Scan([]byte("123e4567-e89b-42d3-a456-426614174000")))
	assert.Equal(t, "123e4567-e89b-42d3-a456-426614174000", u.String())

	require.NoError(t, u.Scan("abc"))
	assert.Equal(t, UUID("abc"), u)

	assert.Error(t, u.Scan(12345))

	v, err := UUID("x").Value()
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestRemoteTypeFor(t *testing.T) {
	cases := map[string]string{
		LocalTypeSubcontractor:      RemoteTypeVendor,
		LocalTypePaymentApplication: RemoteTypeInvoice,
		LocalTypeChangeOrder:        RemoteTypeBill,
		LocalTypeProject:            RemoteTypeCustomer,
	}
	for local, remote := range cases {
		got, ok := RemoteTypeFor(local)
		assert.True(t, ok, local)
		assert.Equal(t, remote, got)
		assert.True(t, IsSupportedLocalType(local))
	}

	_, ok := RemoteTypeFor("timesheet")
	assert.False(t, ok)
	assert.False(t, IsSupportedLocalType(EntityTypeAll))
	assert.Len(t, SupportedLocalTypes(), len(cases))
}

func TestConnectionTokensNeverSerialized(t *testing.T) {
	c := Connection{ID: "c-1", AccessToken: "secret-access", RefreshToken: "secret-refresh"}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-access")
	assert.NotContains(t, string(data), "secret-refresh")
}

func TestConnectionExpiryHelpers(t *testing.T) {
	c := &Connection{AccessTokenExpiresAt: 1700000000}
	assert.Equal(t, time.Unix(1700000000, 0), c.AccessTokenExpiry())
	assert.True(t, c.RefreshTokenExpiry().IsZero())

	cp := c.Clone()
	cp.AccessToken = "changed"
	assert.Empty(t, c.AccessToken)
}

func TestOAuthStateExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	s := &OAuthState{ExpiresAt: 1000 + int64(OAuthStateTTL.Seconds())}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(OAuthStateTTL)))
}

func TestQueueStatusActive(t *testing.T) {
	assert.True(t, QueueStatusPending.Active())
	assert.True(t, QueueStatusProcessing.Active())
	assert.False(t, QueueStatusCompleted.Active())
	assert.False(t, QueueStatusFailed.Active())

	e := &PendingSyncEntry{AttemptCount: 3, MaxAttempts: 3}
	assert.True(t, e.AttemptsExhausted())
	e.MaxAttempts = 0
	assert.False(t, e.AttemptsExhausted())
}

func TestMappingHasRemote(t *testing.T) {
	var nilMapping *EntityMapping
	assert.False(t, nilMapping.HasRemote())
	assert.False(t, (&EntityMapping{}).HasRemote())
	assert.True(t, (&EntityMapping{RemoteID: "V-1"}).HasRemote())
}

func TestAddressIsZero(t *testing.T) {
	var a *Address
	assert.True(t, a.IsZero())
	assert.True(t, (&Address{}).IsZero())
	assert.False(t, (&Address{City: "Austin"}).IsZero())
}
