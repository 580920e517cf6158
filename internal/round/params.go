package round

import (
	"time"

	"github.com/radieske/arena-wager-platform/internal/shared/config"
)

// Params são as regras de uma rodada
type Params struct {
	FeeBps             uint16
	MinStake           uint64
	MaxStake           uint64
	MaxParticipants    int
	LargeGameThreshold int // a partir daqui a rodada passa por eliminação e espectadores
	FinalistCount      int
	WaitingDuration    time.Duration
	SpectatorDuration  time.Duration
	RandomnessTimeout  time.Duration
	EmergencyTimeout   time.Duration
}

func ParamsFromConfig(g config.Game) Params {
	return Params{
		FeeBps:             g.HouseFeeBps,
		MinStake:           g.MinStake,
		MaxStake:           g.MaxStake,
		MaxParticipants:    g.MaxParticipants,
		LargeGameThreshold: g.LargeGameThreshold,
		FinalistCount:      g.FinalistCount,
		WaitingDuration:    g.WaitingDuration,
		SpectatorDuration:  g.SpectatorDuration,
		RandomnessTimeout:  g.RandomnessTimeout,
		EmergencyTimeout:   g.EmergencyTimeout,
	}
}

func DefaultParams() Params {
	return Params{
		FeeBps:             500,
		MinStake:           10_000_000,
		MaxStake:           10_000_000_000,
		MaxParticipants:    64,
		LargeGameThreshold: 8,
		FinalistCount:      4,
		WaitingDuration:    30 * time.Second,
		SpectatorDuration:  30 * time.Second,
		RandomnessTimeout:  10 * time.Minute,
		EmergencyTimeout:   24 * time.Hour,
	}
}
