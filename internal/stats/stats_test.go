package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/npezzotti/go-community/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, testutil.TestLogger(t))
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updates, "expected update queue to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	// a second updater must not collide with the first
	assert.NotPanics(t, func() { NewStatsUpdater(http.NewServeMux(), testutil.TestLogger(t)) })
}

func TestStatsUpdaterCounters(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, testutil.TestLogger(t))
	su.RegisterMetric("NumActiveClients")
	su.Run()

	su.Incr("NumActiveClients")
	su.Incr("NumActiveClients")
	su.Decr("NumActiveClients")
	su.Incr("NotRegistered")
	su.Stop()
	su.Wait()

	snap := su.Snapshot()
	assert.Equal(t, float64(1), snap["NumActiveClients"])
	assert.Contains(t, snap, "Uptime")
	assert.NotContains(t, snap, "NotRegistered")

	assert.NotPanics(t, func() {
		su.Incr("NumActiveClients")
		su.Stop()
	}, "updates and stops after Stop are ignored")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body[mapName]["NumActiveClients"])
}
