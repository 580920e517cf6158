// Package selector escolhe eliminados e vencedor com peso derivado do stake.
//
// Toda a aritmética é inteira: o peso base é floor(sqrt(stake) * 2^16) e o
// jitter é expresso em partes por milhão, então o resultado depende apenas
// da seed consumida e da ordem dos candidatos.
package selector

import (
	"math/big"
	"math/bits"
	"sort"
)

// Escala do peso base (sqrt(stake) * 2^16)
const weightShift = 32

const ppm = 1_000_000

// Jitter é o intervalo [Lo, Hi) do fator aleatório em ppm
type Jitter struct {
	LoPPM uint64
	HiPPM uint64
}

var (
	EliminationJitter = Jitter{LoPPM: 300_000, HiPPM: 700_000}
	WinnerJitter      = Jitter{LoPPM: 200_000, HiPPM: 800_000}
)

// Tags de domínio das streams, uma por uso
const (
	TagElimination = "arena/elimination"
	TagWinner      = "arena/winner"
)

type Candidate struct {
	ID    string
	Stake uint64
}

type Scored struct {
	Candidate
	Score uint64
}

// BaseWeight devolve floor(sqrt(stake) * 2^16)
func BaseWeight(stake uint64) uint64 {
	v := new(big.Int).SetUint64(stake)
	v.Lsh(v, weightShift)
	return v.Sqrt(v).Uint64()
}

// Score devolve w + w*U(lo,hi), consumindo um valor da stream
func Score(stake uint64, j Jitter, s *Stream) uint64 {
	w := BaseWeight(stake)
	u := j.LoPPM + s.Below(j.HiPPM-j.LoPPM)
	hi, lo := bits.Mul64(w, u)
	jit, _ := bits.Div64(hi, lo, ppm)
	return w + jit
}

func scoreAll(cands []Candidate, j Jitter, s *Stream) []Scored {
	out := make([]Scored, len(cands))
	for i, c := range cands {
		out[i] = Scored{Candidate: c, Score: Score(c.Stake, j, s)}
	}
	return out
}

// Elimination é o resultado da fase de eliminação
type Elimination struct {
	Finalists      []Scored // ordem decrescente de score
	Eliminated     []Scored // ordem decrescente de score
	EliminatedRank int      // rank compartilhado pelos eliminados
}

// Eliminate mantém os finalistCount maiores scores; empates preservam a ordem de entrada.
func Eliminate(cands []Candidate, finalistCount int, s *Stream) Elimination {
	scored := scoreAll(cands, EliminationJitter, s)
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })

	if finalistCount < 1 {
		finalistCount = 1
	}
	if finalistCount >= len(scored) {
		return Elimination{Finalists: scored}
	}
	return Elimination{
		Finalists:      scored[:finalistCount],
		Eliminated:     scored[finalistCount:],
		EliminatedRank: finalistCount + 1,
	}
}

// Result é o resultado da seleção do vencedor
type Result struct {
	Index    int
	Scores   []uint64
	Draw     uint64
	Fallback bool
}

// AnomalyFunc recebe avisos de caminhos que não deveriam acontecer
type AnomalyFunc func(kind string, detail map[string]uint64)

// SelectWinner sorteia um candidato proporcional ao score.
// Os scores são calculados na ordem de entrada e só depois o sorteio é feito.
func SelectWinner(cands []Candidate, s *Stream, onAnomaly AnomalyFunc) Result {
	scored := scoreAll(cands, WinnerJitter, s)
	res := Result{Index: -1, Scores: make([]uint64, len(scored))}

	var sum uint64
	overflow := false
	for i, sc := range scored {
		res.Scores[i] = sc.Score
		var carry uint64
		sum, carry = bits.Add64(sum, sc.Score, 0)
		if carry != 0 {
			overflow = true
		}
	}

	if sum > 0 && !overflow {
		res.Draw = s.Below(sum)
		var cum uint64
		for i, sc := range res.Scores {
			cum += sc
			if cum > res.Draw {
				res.Index = i
				return res
			}
		}
	}

	// sem candidato escolhido: cai no maior stake bruto e avisa
	res.Fallback = true
	res.Index = highestStake(cands)
	if onAnomaly != nil {
		onAnomaly("winner_fallback", map[string]uint64{"score_sum": sum, "draw": res.Draw, "candidates": uint64(len(cands))})
	}
	return res
}

func highestStake(cands []Candidate) int {
	best := -1
	for i, c := range cands {
		if best < 0 || c.Stake > cands[best].Stake {
			best = i
		}
	}
	return best
}
