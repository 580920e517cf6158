package events

import "time"

// Mensagem enviada ao tópico DLQ quando um evento do ledger não pôde ser aplicado.
// Raw carrega a mensagem original como texto (pode não ser JSON válido).
type LedgerEventFailure struct {
	Key      string    `json:"key,omitempty"`
	Raw      string    `json:"raw"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}
