package ws

// ClientMsg é a mensagem recebida do cliente WebSocket.
// RoundID "*" assina todas as rodadas.
type ClientMsg struct {
	Type    string `json:"type"`     // subscribe | unsubscribe | ping
	RoundID string `json:"round_id"` // requerido em subscribe/unsubscribe
}

const AllRounds = "*"
