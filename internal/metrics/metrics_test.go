package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecordersAreExposed(t *testing.T) {
	RecordCommit("offline")
	RecordScan("", "collapsed")
	SetQueueDepth("store-a", 4)
	SetOnline(false)

	body := scrape(t)
	assert.Contains(t, body, `kasirsync_checkout_commits_total{mode="offline"}`)
	assert.Contains(t, body, `kasirsync_scan_total{result="collapsed",source="unknown"}`)
	assert.Contains(t, body, `kasirsync_queue_depth{store="store-a"} 4`)
	assert.Contains(t, body, "kasirsync_remote_online 0")

	SetOnline(true)
	assert.Contains(t, scrape(t), "kasirsync_remote_online 1")
}

func TestCanonicalPath(t *testing.T) {
	assert.Equal(t, "/", canonicalPath("/"))
	assert.Equal(t, "/healthz", canonicalPath("/healthz"))
	assert.Equal(t, "/api/v1/carts", canonicalPath("/api/v1/carts/cart-1/scan"))
}

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", nil))

	assert.Contains(t, scrape(t), `kasirsync_http_requests_total{method="POST",path="/api/v1/sync",status="418"}`)
}
