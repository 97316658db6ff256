package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Settlement reúne as métricas do motor de liquidação.
// Os métodos aceitam receiver nil para facilitar testes sem registry.
type Settlement struct {
	ledgerCalls *prometheus.CounterVec
	transfers   *prometheus.CounterVec
	runs        *prometheus.CounterVec
	pool        prometheus.Gauge
	runDuration prometheus.Histogram
}

// NewSettlement cria e registra as métricas no registerer informado
func NewSettlement(reg prometheus.Registerer) *Settlement {
	m := &Settlement{
		ledgerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_ledger_calls_total",
			Help: "chamadas ao ledger custodial por operação e resultado",
		}, []string{"op", "outcome"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_transfers_total",
			Help: "pernas de transferência por tipo e resultado",
		}, []string{"leg", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_runs_total",
			Help: "execuções de liquidação por resultado",
		}, []string{"outcome"}),
		pool: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_pool_amount",
			Help: "valor do pool coletado na última execução",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_run_duration_seconds",
			Help:    "duração de uma execução completa (sweep + distribuição)",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	reg.MustRegister(m.ledgerCalls, m.transfers, m.runs, m.pool, m.runDuration)
	return m
}

func (m *Settlement) LedgerCall(op string, err error) {
	if m == nil {
		return
	}
	m.ledgerCalls.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Settlement) Transfer(leg string, err error) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(leg, outcome(err)).Inc()
}

func (m *Settlement) Run(outcome string, seconds float64, pool decimal.Decimal) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(seconds)
	m.pool.Set(pool.InexactFloat64())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
