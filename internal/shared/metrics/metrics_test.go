package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlement(reg)

	m.LedgerCall("balance", nil)
	m.LedgerCall("balance", errors.New("boom"))
	m.Transfer("sweep", nil)
	m.Run("ok", 1.5, decimal.RequireFromString("12.5"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerCalls.WithLabelValues("balance", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerCalls.WithLabelValues("balance", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues("sweep", "ok")))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.pool))
}

func TestNilSettlementIsNoop(t *testing.T) {
	var m *Settlement
	m.LedgerCall("balance", nil)
	m.Transfer("payout", nil)
	m.Run("ok", 0, decimal.Zero)
}

func TestHealthz(t *testing.T) {
	healthy := true
	h := Handler(prometheus.NewRegistry(), func(context.Context) error {
		if !healthy {
			return errors.New("pg down")
		}
		return nil
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "pg down")
}
