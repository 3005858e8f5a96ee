package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	before := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "/api/health", "200"))
	ObserveRequest("GET", "/api/health", http.StatusOK, 3*time.Millisecond)
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "/api/health", "200"))
	assert.Equal(t, before+1, after)
}

func TestCacheResult(t *testing.T) {
	hits := testutil.ToFloat64(cacheRequests.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheRequests.WithLabelValues("miss"))
	CacheResult(true)
	CacheResult(false)
	CacheResult(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(cacheRequests.WithLabelValues("miss")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveRequest("GET", "", http.StatusNotFound, time.Millisecond)
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sircharge_admin_http_requests_total")
	assert.Contains(t, rr.Body.String(), `route="unmatched"`)
}
