package classify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/gateway"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

const (
	staleBody      = `{"Fault":{"Error":[{"Message":"Stale Object Error","Detail":"You and Ann were working on this at the same time.","code":"5010","element":""}],"type":"ValidationFault"},"time":"2024-03-01T10:00:00.000-08:00"}`
	validationBody = `{"Fault":{"Error":[{"Message":"Duplicate Name Exists Error","Detail":"The name supplied already exists.","code":"6240"}],"type":"ValidationFault"}}`
	authBody       = `{"fault":{"error":[{"message":"message=AuthenticationFailed; errorCode=003200; statusCode=401","detail":"Token expired","code":"3200"}],"type":"AUTHENTICATION"}}`
)

func TestClassifyAPIErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       *gateway.APIError
		kind      Kind
		retryable bool
		fault     string
	}{
		{"401", &gateway.APIError{StatusCode: 401, Body: []byte(authBody)}, KindAuth, false, "3200"},
		{"400 with token fault", &gateway.APIError{StatusCode: 400, Body: []byte(`{"Fault":{"Error":[{"code":"003100"}]}}`)}, KindAuth, false, "3100"},
		{"400 stale object", &gateway.APIError{StatusCode: 400, Body: []byte(staleBody)}, KindConflict, false, "5010"},
		{"400 validation", &gateway.APIError{StatusCode: 400, Body: []byte(validationBody)}, KindValidation, false, "6240"},
		{"400 without body", &gateway.APIError{StatusCode: 400}, KindValidation, false, ""},
		{"404", &gateway.APIError{StatusCode: 404}, KindNotFound, false, ""},
		{"429", &gateway.APIError{StatusCode: 429, RetryAfter: time.Minute}, KindRateLimit, true, ""},
		{"500", &gateway.APIError{StatusCode: 500, Body: []byte("<html>oops</html>")}, KindServer, true, ""},
		{"503", &gateway.APIError{StatusCode: 503}, KindServer, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify(tc.err)
			assert.Equal(t, tc.kind, c.Kind)
			assert.Equal(t, tc.retryable, c.Retryable)
			assert.Equal(t, tc.fault, c.FaultCode)
			assert.Equal(t, tc.err.StatusCode, c.StatusCode)
			assert.NotEmpty(t, c.Message)
		})
	}
}

func TestClassifyUsesFaultMessage(t *testing.T) {
	c := Classify(fmt.Errorf("update vendor: %w", &gateway.APIError{StatusCode: 400, Body: []byte(staleBody)}))
	assert.Equal(t, KindConflict, c.Kind)
	assert.Equal(t, "Stale Object Error: You and Ann were working on this at the same time.", c.Message)
	assert.Equal(t, models.MappingStatusFailed, c.MappingStatus())
}

func TestClassifyRetryAfter(t *testing.T) {
	c := Classify(&gateway.APIError{StatusCode: 429, RetryAfter: 30 * time.Second})
	assert.Equal(t, 30*time.Second, c.RetryAfter)
	assert.Equal(t, models.MappingStatusPendingRetry, c.MappingStatus())
}

func TestClassifyNetwork(t *testing.T) {
	c := Classify(&gateway.TransportError{Op: "POST /v3/company/1/vendor", Err: errors.New("connection refused")})
	assert.Equal(t, KindNetwork, c.Kind)
	assert.True(t, c.Retryable)

	c = Classify(apperrors.Wrap(apperrors.ErrSyncFailed, "token refresh failed",
		&url.Error{Op: "Post", URL: "https://oauth.example.test", Err: errors.New("no such host")}))
	assert.Equal(t, KindNetwork, c.Kind)

	c = Classify(context.DeadlineExceeded)
	assert.Equal(t, KindNetwork, c.Kind)
}

func TestClassifyLocalErrors(t *testing.T) {
	cases := []struct {
		code      apperrors.ErrorCode
		kind      Kind
		retryable bool
	}{
		{apperrors.ErrReauthRequired, KindAuth, false},
		{apperrors.ErrConnectionInactive, KindAuth, false},
		{apperrors.ErrConfiguration, KindConfiguration, false},
		{apperrors.ErrNotFound, KindNotFound, false},
		{apperrors.ErrValidation, KindValidation, false},
		{apperrors.ErrMappingChanged, KindConflict, false},
		{apperrors.ErrSyncInProgress, KindInProgress, true},
		{apperrors.ErrUpstreamUnavailable, KindServer, true},
		{apperrors.ErrDatabase, KindUnknown, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			c := Classify(apperrors.New(tc.code, "x"))
			assert.Equal(t, tc.kind, c.Kind)
			assert.Equal(t, tc.retryable, c.Retryable)
			assert.False(t, c.RefreshAndRetry())
		})
	}
}

func TestClassifyUnreadableWrite(t *testing.T) {
	err := fmt.Errorf("create vendor: %w", &gateway.UnreadableResponseError{
		Op: "create", RemoteType: models.RemoteTypeVendor, Err: errors.New("no Vendor object in response"),
	})
	c := Classify(err)
	assert.Equal(t, KindRemoteStateUnknown, c.Kind)
	assert.False(t, c.Retryable)
	assert.Contains(t, c.Message, "remote state unknown")
	assert.Equal(t, models.MappingStatusFailed, c.MappingStatus())
	assert.False(t, c.RefreshAndRetry())
}

func TestRefreshAndRetryOnlyForRemoteAuth(t *testing.T) {
	assert.True(t, Classify(&gateway.APIError{StatusCode: 401}).RefreshAndRetry())
	assert.False(t, Classify(apperrors.New(apperrors.ErrReauthRequired, "expired")).RefreshAndRetry())
	assert.False(t, Classify(&gateway.APIError{StatusCode: 500}).RefreshAndRetry())
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, Classified{}, Classify(nil))
	assert.Equal(t, KindUnknown, Classify(errors.New("boom")).Kind)
}
