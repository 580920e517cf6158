package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Arena agrupa as métricas dos componentes da rodada
type Arena struct {
	CrankTicks         *prometheus.CounterVec // result: ok|error|skipped
	CrankTickDuration  prometheus.Histogram
	LedgerFailures     *prometheus.CounterVec // op
	RandomnessAnomaly  *prometheus.CounterVec // kind
	PayoutsFailed      prometheus.Counter
	PayoutsPaid        prometheus.Counter
	StuckRounds        prometheus.Gauge
	TxOutcomes         *prometheus.CounterVec // kind, status
	RoundsHalted       prometheus.Counter
	LedgerEventsByKind *prometheus.CounterVec // kind, result
}

// NewArena cria e registra as métricas no registerer informado
func NewArena(reg prometheus.Registerer) *Arena {
	m := &Arena{
		CrankTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_crank_ticks_total", Help: "ticks do crank por resultado",
		}, []string{"result"}),
		CrankTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "arena_crank_tick_seconds", Help: "duração de um tick do crank",
			Buckets: prometheus.DefBuckets,
		}),
		LedgerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_ledger_failures_total", Help: "falhas de chamada ao ledger externo por operação",
		}, []string{"op"}),
		RandomnessAnomaly: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_randomness_anomalies_total", Help: "anomalias de aleatoriedade (fallback, reuso de seed)",
		}, []string{"kind"}),
		PayoutsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_payouts_failed_total", Help: "pagamentos automáticos que caíram para claim manual",
		}),
		PayoutsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_payouts_paid_total", Help: "pagamentos transferidos com sucesso",
		}),
		StuckRounds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_stuck_rounds", Help: "rodadas paradas além do tempo esperado",
		}),
		TxOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_ledger_tx_total", Help: "transações de depósito/saque por status final",
		}, []string{"kind", "status"}),
		RoundsHalted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_rounds_halted_total", Help: "rodadas interrompidas por violação de invariante",
		}),
		LedgerEventsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_ledger_events_total", Help: "eventos do ledger aplicados por tipo e resultado",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(
		m.CrankTicks, m.CrankTickDuration, m.LedgerFailures, m.RandomnessAnomaly,
		m.PayoutsFailed, m.PayoutsPaid, m.StuckRounds, m.TxOutcomes, m.RoundsHalted,
		m.LedgerEventsByKind,
	)
	return m
}
