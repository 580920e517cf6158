package topics

const (
	// Ciclo de vida das rodadas (publicado pelo crank e pelo game-service)
	RoundEvents = "arena_round_events"

	// Eventos do ledger externo (consumidos pelo ledger-event-worker)
	LedgerEvents = "arena_ledger_events"

	// DLQs
	LedgerEventsDLQ = "arena_ledger_events_dlq"
)

// Canal Redis Pub/Sub com as projeções de rodada para o WebSocket
const RoundBroadcastChannel = "arena_round_broadcast"
