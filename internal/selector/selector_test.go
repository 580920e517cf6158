package selector

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed fixa 0x01..0x20
func vectorSeed() []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

func TestStreamKnownVector(t *testing.T) {
	s := NewStream(vectorSeed(), TagElimination)
	assert.Equal(t, uint64(7379182504984803651), s.Next())
	assert.Equal(t, uint64(7491115798639798451), s.Next())
	assert.Equal(t, uint64(11620516595281702223), s.Next())
}

func TestStreamTagsAreIndependent(t *testing.T) {
	a := NewStream(vectorSeed(), TagElimination)
	b := NewStream(vectorSeed(), TagWinner)
	assert.NotEqual(t, a.Next(), b.Next())
}

func TestBaseWeight(t *testing.T) {
	assert.Equal(t, uint64(65536), BaseWeight(1))
	assert.Equal(t, uint64(207243), BaseWeight(10))
	assert.Equal(t, uint64(655360), BaseWeight(100))
	assert.Equal(t, uint64(207243028), BaseWeight(10_000_000))
	assert.Equal(t, uint64(0), BaseWeight(0))
}

func TestScoreStaysInsideJitterRange(t *testing.T) {
	s := NewStream(vectorSeed(), "range")
	w := BaseWeight(50_000_000)
	for i := 0; i < 500; i++ {
		got := Score(50_000_000, EliminationJitter, s)
		assert.GreaterOrEqual(t, got, w+w*3/10-1)
		assert.Less(t, got, w+w*7/10+1)
	}
}

func TestEliminateEqualStakesKnownVector(t *testing.T) {
	cands := []Candidate{{"a", 10}, {"b", 10}, {"c", 10}, {"d", 10}}

	first := Eliminate(cands, 2, NewStream(vectorSeed(), TagElimination))
	require.Len(t, first.Finalists, 2)
	require.Len(t, first.Eliminated, 2)
	assert.Equal(t, "d", first.Finalists[0].ID)
	assert.Equal(t, "c", first.Finalists[1].ID)
	assert.Equal(t, uint64(339619), first.Finalists[0].Score)
	assert.Equal(t, 3, first.EliminatedRank)

	// mesma seed, mesmo par de finalistas
	second := Eliminate(cands, 2, NewStream(vectorSeed(), TagElimination))
	assert.Equal(t, first, second)
}

func TestEliminateFewerCandidatesThanFinalists(t *testing.T) {
	res := Eliminate([]Candidate{{"a", 10}, {"b", 20}}, 4, NewStream(vectorSeed(), TagElimination))
	assert.Len(t, res.Finalists, 2)
	assert.Empty(t, res.Eliminated)
	assert.Zero(t, res.EliminatedRank)
}

func TestSelectWinnerKnownVector(t *testing.T) {
	cands := []Candidate{{"p1", 60}, {"p2", 40}}
	res := SelectWinner(cands, NewStream(vectorSeed(), TagWinner), func(string, map[string]uint64) {
		t.Fatal("unexpected anomaly")
	})
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, []uint64{896829, 561344}, res.Scores)
	assert.Equal(t, uint64(563787), res.Draw)
	assert.False(t, res.Fallback)

	three := []Candidate{{"w", 10_000_000}, {"x", 40_000_000}, {"y", 90_000_000}}
	res = SelectWinner(three, NewStream(vectorSeed(), TagWinner), nil)
	assert.Equal(t, 2, res.Index)
}

func TestSelectWinnerFavoursLargerStake(t *testing.T) {
	cands := []Candidate{{"small", 1_000_000}, {"big", 100_000_000}}
	wins := map[int]int{}
	for i := 0; i < 2000; i++ {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(i))
		seed := sha256.Sum256(b[:])
		wins[SelectWinner(cands, NewStream(seed[:], TagWinner), nil).Index]++
	}
	// sqrt amortece: 10x de peso base, não 100x
	assert.Equal(t, 1798, wins[1])
	assert.Equal(t, 202, wins[0])
}

func TestSelectWinnerFallbackIsReported(t *testing.T) {
	cands := []Candidate{{"a", 0}, {"b", 0}}
	var kinds []string
	res := SelectWinner(cands, NewStream(vectorSeed(), TagWinner), func(kind string, _ map[string]uint64) {
		kinds = append(kinds, kind)
	})
	assert.True(t, res.Fallback)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, []string{"winner_fallback"}, kinds)
}
