package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.MemberRemoved("exceeds_capacity")
	m.MemberRemoved("exceeds_capacity")
	m.MemberRemoved("role_mismatch")
	m.SetActiveMatches(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.removedMembers.WithLabelValues("exceeds_capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.removedMembers.WithLabelValues("role_mismatch")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeMatches))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MemberRemoved("x")
		m.MetaMutated("patch")
		m.SyncDispatched("sent")
		m.SetActiveMatches(1)
		m.StoreError("get")
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.MetaMutated("vote")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `matchstate_meta_mutations_total{kind="vote"} 1`)
}
