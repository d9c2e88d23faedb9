package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(SyncErrors.WithLabelValues("conflict"))
	SyncErrors.WithLabelValues("conflict").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SyncErrors.WithLabelValues("conflict")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	TokenRefreshes.WithLabelValues("success").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ledgerlink_token_refresh_total"))
}
