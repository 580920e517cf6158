package round

import (
	"fmt"
	"time"

	"github.com/radieske/arena-wager-platform/internal/pool"
	"github.com/radieske/arena-wager-platform/internal/settlement"
)

type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseWaiting          Phase = "waiting"
	PhaseArena            Phase = "arena"
	PhaseSpectatorBetting Phase = "spectator_betting"
	PhaseResolving        Phase = "resolving"
	PhaseFinished         Phase = "finished"
)

func (p Phase) Terminal() bool { return p == PhaseFinished }

// Awaiting é o sub-estado de espera por algo externo, persistido na rodada
type Awaiting string

const (
	AwaitNone               Awaiting = "none"
	AwaitCloseConfirmation  Awaiting = "close_confirmation"
	AwaitEliminationSeed    Awaiting = "elimination_seed"
	AwaitWinnerSeed         Awaiting = "winner_seed"
	AwaitWinnerConfirmation Awaiting = "winner_confirmation"
)

type StakeStatus string

const (
	StakePending  StakeStatus = "pending"
	StakeWon      StakeStatus = "won"
	StakeLost     StakeStatus = "lost"
	StakeRefunded StakeStatus = "refunded"
)

type PayoutStatus string

const (
	PayoutPending      PayoutStatus = "pending"
	PayoutPaid         PayoutStatus = "paid"
	PayoutClaimPending PayoutStatus = "claim_pending"
	PayoutClaimed      PayoutStatus = "claimed"
)

// Done diz se o payout já foi transferido
func (s PayoutStatus) Done() bool { return s == PayoutPaid || s == PayoutClaimed }

type Participant struct {
	Bettor       string
	Stake        uint64
	IsBot        bool
	JoinedAt     time.Time
	Eliminated   bool
	EliminatedAt time.Time
	EliminatedBy string // vazio: eliminado pelo sorteio, sem eliminador
	FinalRank    int
	IsWinner     bool
	Status       StakeStatus
	Payout       uint64
}

type SpectatorStake struct {
	ID       string
	Bettor   string
	Target   string
	Stake    uint64
	Status   StakeStatus
	Payout   uint64
	PlacedAt time.Time
}

type TxKind string

const (
	TxCloseBetting TxKind = "close_betting"
	TxSubmitWinner TxKind = "submit_winner"
)

// PendingTx é a transação enviada ao ledger e ainda não confirmada
type PendingTx struct {
	Kind        TxKind
	Handle      string // vazio depois de um abort; o próximo tick reenvia
	SubmittedAt time.Time
	Attempts    int
}

type Payout struct {
	ID          string
	BetID       string
	Bettor      string
	Pool        settlement.PoolKind
	Amount      uint64
	Status      PayoutStatus
	Attempts    int
	LastError   string
	TransferRef string
	PaidAt      time.Time
}

type Settlement struct {
	Refund            bool
	HouseFee          uint64
	EntryPayable      uint64
	SpectatorPayable  uint64
	Swept             uint64
	HouseFeeCollected bool
	SettledAt         time.Time
	Payouts           []Payout
}

// Round é o agregado persistido de uma rodada
type Round struct {
	ID       uint64
	Version  int64
	Phase    Phase
	Awaiting Awaiting

	CreatedAt      time.Time
	PhaseStartedAt time.Time
	PhaseDeadline  time.Time
	FinishedAt     time.Time

	EntryPool     uint64
	SpectatorPool uint64
	FeeBps        uint16

	Winner          string
	WinnerConfirmed bool
	Finalists       []string

	EliminationRequest    string
	WinnerRequest         string
	RandomnessRequestedAt time.Time

	BetsLocked bool
	Halted     bool
	HaltReason string
	Pending    *PendingTx

	Participants []Participant
	Spectators   []SpectatorStake
	Settlement   *Settlement
}

// Clone devolve uma cópia profunda
func (r *Round) Clone() *Round {
	c := *r
	c.Finalists = append([]string(nil), r.Finalists...)
	c.Participants = append([]Participant(nil), r.Participants...)
	c.Spectators = append([]SpectatorStake(nil), r.Spectators...)
	if r.Pending != nil {
		p := *r.Pending
		c.Pending = &p
	}
	if r.Settlement != nil {
		s := *r.Settlement
		s.Payouts = append([]Payout(nil), r.Settlement.Payouts...)
		c.Settlement = &s
	}
	return &c
}

func (r *Round) participant(bettor string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].Bettor == bettor {
			return &r.Participants[i]
		}
	}
	return nil
}

func (r *Round) IsParticipant(bettor string) bool { return r.participant(bettor) != nil }

func (r *Round) IsFinalist(bettor string) bool {
	for _, f := range r.Finalists {
		if f == bettor {
			return true
		}
	}
	return false
}

// SoleHuman devolve o único participante humano quando os demais são bots
func (r *Round) SoleHuman() (string, bool) {
	human := ""
	for _, p := range r.Participants {
		if p.IsBot {
			continue
		}
		if human != "" {
			return "", false
		}
		human = p.Bettor
	}
	return human, human != "" && len(r.Participants) > 1
}

// Ledger reconstrói o livro de pools a partir dos registros
func (r *Round) Ledger() (*pool.Ledger, error) {
	entries := make([]pool.Stake, 0, len(r.Participants))
	for _, p := range r.Participants {
		entries = append(entries, pool.Stake{Bettor: p.Bettor, Amount: p.Stake})
	}
	spectators := make([]pool.Stake, 0, len(r.Spectators))
	for _, s := range r.Spectators {
		spectators = append(spectators, pool.Stake{Bettor: s.Bettor, Amount: s.Stake})
	}
	l, err := pool.Rebuild(entries, spectators)
	if err != nil {
		return nil, err
	}
	if err := l.Check(r.EntryPool, r.SpectatorPool); err != nil {
		return nil, err
	}
	if r.Phase.Terminal() {
		l.Freeze()
	}
	return l, nil
}

// WinProbabilityBps é a fatia de cada participante no pool de entrada
func (r *Round) WinProbabilityBps() map[string]uint64 {
	out := make(map[string]uint64, len(r.Participants))
	for _, p := range r.Participants {
		out[p.Bettor] = pool.ShareBps(p.Stake, r.EntryPool)
	}
	return out
}

// RandomnessExpired diz se o pedido de aleatoriedade pendente passou do timeout
func (r *Round) RandomnessExpired(now time.Time, timeout time.Duration) bool {
	if r.Awaiting != AwaitEliminationSeed && r.Awaiting != AwaitWinnerSeed {
		return false
	}
	if r.RandomnessRequestedAt.IsZero() || timeout <= 0 {
		return false
	}
	return now.Sub(r.RandomnessRequestedAt) >= timeout
}

func (r *Round) payout(id string) *Payout {
	if r.Settlement == nil {
		return nil
	}
	for i := range r.Settlement.Payouts {
		if r.Settlement.Payouts[i].ID == id {
			return &r.Settlement.Payouts[i]
		}
	}
	return nil
}

// PendingPayouts lista os payouts ainda não tentados
func (r *Round) PendingPayouts() []Payout {
	return r.payoutsWith(PayoutPending)
}

// ClaimPending lista os payouts que falharam e esperam claim manual
func (r *Round) ClaimPending() []Payout {
	return r.payoutsWith(PayoutClaimPending)
}

func (r *Round) payoutsWith(st PayoutStatus) []Payout {
	if r.Settlement == nil {
		return nil
	}
	var out []Payout
	for _, p := range r.Settlement.Payouts {
		if p.Status == st {
			out = append(out, p)
		}
	}
	return out
}

func PayoutID(roundID uint64, kind settlement.PoolKind, betID string) string {
	return fmt.Sprintf("r%d-%s-%s", roundID, kind, betID)
}
