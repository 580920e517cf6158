package simulator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/radieske/arena-wager-platform/internal/wallet"
)

// Wallet aceita transferências e devolve a mesma referência para a mesma ref
type Wallet struct {
	// transferências acima disso são recusadas; 0 desliga
	RejectAbove uint64

	mu   sync.Mutex
	refs map[string]string
}

func NewWallet() *Wallet {
	return &Wallet{refs: make(map[string]string)}
}

func (w *Wallet) Transfer(req wallet.TransferRequest) (string, error) {
	if req.Amount == 0 || req.Bettor == "" {
		return "", fmt.Errorf("%w: invalid transfer", wallet.ErrTransferRejected)
	}
	if w.RejectAbove > 0 && req.Amount > w.RejectAbove {
		return "", fmt.Errorf("%w: amount above limit", wallet.ErrTransferRejected)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if ref, ok := w.refs[req.Ref]; ok {
		return ref, nil
	}
	ref := "sim-tr-" + uuid.NewString()
	w.refs[req.Ref] = ref
	return ref, nil
}

func (w *Wallet) Transfers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.refs)
}
