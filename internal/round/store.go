package round

import (
	"context"
	"time"
)

// Store persiste o agregado Round e o ponteiro de rodada ativa.
//
// Save compara r.Version com a versão gravada (ErrConcurrentUpdate se
// divergir) e incrementa r.Version. Com eventID não vazio o evento é
// registrado na mesma escrita; se já existir, nada é gravado e o erro é
// ErrDuplicateEvent. Uma rodada salva como Finished deixa de ser a ativa.
// Um vencedor já gravado nunca pode ser trocado (ErrDuplicateWinner).
type Store interface {
	NextRoundID(ctx context.Context) (uint64, error)
	Create(ctx context.Context, r *Round) error
	Get(ctx context.Context, id uint64) (*Round, error)
	Active(ctx context.Context) (*Round, error)
	Save(ctx context.Context, r *Round, eventID string) error

	EventApplied(ctx context.Context, eventID string) (bool, error)
	RecordEvent(ctx context.Context, eventID, outcome string) error

	ListRecent(ctx context.Context, limit int) ([]*Round, error)
	ListFinishedBefore(ctx context.Context, before time.Time, limit int) ([]uint64, error)
	Delete(ctx context.Context, id uint64) error
}
