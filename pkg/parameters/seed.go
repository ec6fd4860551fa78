package parameters

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math/big"
	mrand "math/rand/v2"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Seed is the global experiment seed. Per-realization random streams are
// derived from it with Stream, so sampling is reproducible regardless of
// which realizations are active or in which order they are processed.
type Seed struct {
	text    string
	entropy []uint64
}

// ParseSeed converts a configured seed. Decimal integer strings of any
// length are used numerically; any other string is mapped to the character
// codes of its runes.
func ParseSeed(text string) (Seed, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Seed{}, errors.New("random seed must not be empty")
	}

	if n, ok := new(big.Int).SetString(text, 10); ok {
		return Seed{text: text, entropy: bigWords(n)}, nil
	}

	words := make([]uint64, 0, len(text))
	for _, r := range text {
		words = append(words, uint64(r))
	}
	return Seed{text: text, entropy: words}, nil
}

// NewRandomSeed draws 128 bits of entropy. The returned seed's String can be
// put into a configuration to repeat an experiment.
func NewRandomSeed() (Seed, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Seed{}, err
	}
	return ParseSeed(new(big.Int).SetBytes(buf[:]).String())
}

// String returns the seed as it would be written in a configuration.
func (s Seed) String() string {
	return s.text
}

// IsZero reports whether the seed was never initialised.
func (s Seed) IsZero() bool {
	return len(s.entropy) == 0
}

// Stream returns the deterministic random stream for one parameter key and
// realization.
func (s Seed) Stream(key string, realization int) *mrand.Rand {
	var buf [8]byte

	h := xxhash.New()
	for _, w := range s.entropy {
		binary.LittleEndian.PutUint64(buf[:], w)
		_, _ = h.Write(buf[:])
	}
	_, _ = h.WriteString(key)
	_, _ = h.Write([]byte{0})
	hi := h.Sum64()

	binary.LittleEndian.PutUint64(buf[:], uint64(realization))
	_, _ = h.Write(buf[:])
	lo := h.Sum64()

	return mrand.New(mrand.NewPCG(hi, lo))
}

func bigWords(n *big.Int) []uint64 {
	if n.Sign() == 0 {
		return []uint64{0}
	}
	abs := new(big.Int).Abs(n)
	mask := new(big.Int).SetUint64(^uint64(0))

	var words []uint64
	for abs.Sign() > 0 {
		words = append(words, new(big.Int).And(abs, mask).Uint64())
		abs.Rsh(abs, 64)
	}
	if n.Sign() < 0 {
		words = append(words, 1)
	}
	return words
}
