package selector

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
)

// Stream gera uint64 determinísticos a partir de uma seed consumida.
// Cada valor é HMAC-SHA256(seed, tag || contador), primeiros 8 bytes big-endian.
type Stream struct {
	seed    []byte
	tag     string
	counter uint64
}

func NewStream(seed []byte, tag string) *Stream {
	s := make([]byte, len(seed))
	copy(s, seed)
	return &Stream{seed: s, tag: tag}
}

func (s *Stream) Next() uint64 {
	mac := hmac.New(sha256.New, s.seed)
	mac.Write([]byte(s.tag))
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], s.counter)
	mac.Write(ctr[:])
	s.counter++
	return binary.BigEndian.Uint64(mac.Sum(nil)[:8])
}

// Below devolve um valor uniforme em [0, n) via multiplicação de 128 bits
func (s *Stream) Below(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	hi, _ := bits.Mul64(s.Next(), n)
	return hi
}
