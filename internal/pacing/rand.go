package pacing

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// Rand is the randomness seam for the pacing model. Tests inject a
// deterministic implementation; production uses the crypto source so
// repeated draws stay uncorrelated.
type Rand interface {
	// Float64 returns a uniform value in (0, 1)
	Float64() float64
}

// CryptoSource draws uniform values from crypto/rand
type CryptoSource struct{}

func (CryptoSource) Float64() float64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		// crypto/rand failure means the platform entropy source is broken
		panic(fmt.Sprintf("pacing: crypto/rand read failed: %v", err))
	}
	// 53 bits of mantissa, shifted into (0, 1]
	v := binary.BigEndian.Uint64(buf[:]) >> 11
	return (float64(v) + 1) / (1 << 53)
}
