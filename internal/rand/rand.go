package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" // reduced base64

var charsetLen = len(charset)

var defaultSource = newSource()

type source struct {
	mut sync.Mutex
	rng *rand.Rand
}

func newSource() *source {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("unreachable")
	}
	//nolint:gosec // request ids are not security sensitive
	return &source{
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

// NewRequestID returns a random base62 string of the given length,
// used to correlate channel RPC requests with their responses.
func NewRequestID(length int) string {
	buf := make([]byte, length)

	defaultSource.mut.Lock()
	for i := range buf {
		buf[i] = charset[defaultSource.rng.IntN(charsetLen)]
	}
	defaultSource.mut.Unlock()

	return string(buf)
}
