package dto

type StakeRequest struct {
	Amount uint64 `json:"amount"`
}

type SpectatorStakeRequest struct {
	Target string `json:"target"` // finalista apostado
	Amount uint64 `json:"amount"`
}

type WalletTxRequest struct {
	Amount   uint64 `json:"amount"`
	Priority int    `json:"priority,omitempty"`
}

// AdminRequest carrega o motivo gravado em force-reset e halt
type AdminRequest struct {
	Reason string `json:"reason"`
}
