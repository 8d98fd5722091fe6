package order

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	orderIDPrefix   = "ORD"
	suffixLen       = 4
	suffixAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffixAttempts  = 5
	dailyIDEstimate = 100_000
	bloomFPR        = 0.001
)

// IDGenerator produces human-readable order identifiers of the form
// ORD-<YYYYMMDD>-<4 char suffix>. The suffix is drawn from a 36^4 space via
// crypto/rand; a Bloom filter over the suffixes issued today guards against
// in-process same-day collisions (a false positive only costs a retry).
// When randomness is exhausted or unavailable it degrades to a same-day
// sequence counter. Generate never fails.
//
// The filter is per-process: across processes, uniqueness is still enforced
// by the order_id unique constraint, and the suffix space keeps that
// collision negligible.
type IDGenerator struct {
	now func() time.Time

	mu   sync.Mutex
	day  string
	seen *bloom.BloomFilter
	seq  int
}

// NewIDGenerator creates a generator using the given clock. Dates are taken
// in UTC so identifiers sort consistently across hosts.
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Generate returns a fresh order identifier for today.
func (g *IDGenerator) Generate() string {
	day := g.now().UTC().Format("20060102")

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.day != day {
		g.day = day
		g.seen = bloom.NewWithEstimates(dailyIDEstimate, bloomFPR)
		g.seq = 0
	}

	for range suffixAttempts {
		suffix, ok := randSuffix()
		if !ok {
			break
		}
		if g.seen.TestString(suffix) {
			continue
		}
		g.seen.AddString(suffix)
		return fmt.Sprintf("%s-%s-%s", orderIDPrefix, day, suffix)
	}

	// Degraded path: same-day sequence counter.
	g.seq++
	suffix := fmt.Sprintf("%04d", g.seq%10000)
	g.seen.AddString(suffix)
	return fmt.Sprintf("%s-%s-%s", orderIDPrefix, day, suffix)
}

// SeedSequence primes the fallback counter, typically from the same-day
// order count when the random source is known to be degraded.
func (g *IDGenerator) SeedSequence(n int) {
	g.mu.Lock()
	g.seq = n
	g.mu.Unlock()
}

func randSuffix() (string, bool) {
	var buf [suffixLen]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", false
	}
	out := make([]byte, suffixLen)
	for i, b := range buf {
		out[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(out), true
}
