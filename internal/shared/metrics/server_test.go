package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	ok := httptest.NewRecorder()
	healthHandler(func(context.Context) error { return nil })(ok, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "ok", ok.Body.String())

	bad := httptest.NewRecorder()
	healthHandler(func(context.Context) error { return errors.New("ledger down") })(bad, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, bad.Code)
	assert.Contains(t, bad.Body.String(), "ledger down")

	none := httptest.NewRecorder()
	healthHandler(nil)(none, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, none.Code)
}

func TestNewArenaRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewArena(reg)

	m.CrankTicks.WithLabelValues("ok").Inc()
	m.TxOutcomes.WithLabelValues("withdrawal", "failed").Add(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CrankTicks.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TxOutcomes.WithLabelValues("withdrawal", "failed")))

	// registrar duas vezes no mesmo registry deve falhar
	require.Panics(t, func() { NewArena(reg) })
}
