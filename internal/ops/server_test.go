package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"tgfleet/internal/runtime/supervisor"
	logx "tgfleet/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(hdr) == 2 {
		req.Header.Set(hdr[0], hdr[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReportsProbes(t *testing.T) {
	s := New(Config{}, logx.Nop())
	s.AddProbe("router", func() supervisor.Counters { return supervisor.Counters{Active: 2, Started: 2} })

	rec := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	require.Equal(t, "ok", rep.Status)
	require.Equal(t, int64(2), rep.Components["router"].Active)

	s.AddProbe("sweep", func() supervisor.Counters { return supervisor.Counters{} })
	rec = get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.AddProbe("sweep", nil)
	require.Equal(t, http.StatusOK, get(t, s.Handler(), "/healthz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tgfleet", Name: "test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := New(Config{}, logx.Nop())
	s.gatherer = reg
	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tgfleet_test_total 1")
}

func TestTokenGuardsEveryRoute(t *testing.T) {
	s := New(Config{Token: "s3cret", Pprof: true}, logx.Nop())
	h := s.Handler()

	require.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz").Code)
	require.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", "Authorization", "Bearer nope").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/healthz", "Authorization", "Bearer s3cret").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/debug/pprof/?token=s3cret").Code)
}

func TestPprofDisabledByDefault(t *testing.T) {
	s := New(Config{}, logx.Nop())
	require.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/debug/pprof/").Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	require.True(t, isLoopbackAddr("127.0.0.1:9464"))
	require.True(t, isLoopbackAddr("localhost:1"))
	require.True(t, isLoopbackAddr("[::1]:9464"))
	require.False(t, isLoopbackAddr(":9464"))
	require.False(t, isLoopbackAddr("0.0.0.0:9464"))
}
