package utils

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// PayoutIDPrefix tags ledger references so they are recognisable in logs,
// support tickets and provider dashboards.
const PayoutIDPrefix = "PO"

// IDGenerator produces sortable, unique references. ULIDs are timestamp
// ordered, which keeps ledger listings naturally chronological.
type IDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewPayoutID returns a reference like PO-01J8ZQWERTY....
func (g *IDGenerator) NewPayoutID() string {
	return g.prefixed(PayoutIDPrefix)
}

// NewBatchID returns a reference for one batch run.
func (g *IDGenerator) NewBatchID() string {
	return g.prefixed("BATCH")
}

func (g *IDGenerator) prefixed(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
	return prefix + "-" + id.String()
}

// IsPayoutID reports whether s looks like a reference minted by this
// generator, for cheap input validation in handlers.
func IsPayoutID(s string) bool {
	if !strings.HasPrefix(s, PayoutIDPrefix+"-") {
		return false
	}
	raw := strings.TrimPrefix(s, PayoutIDPrefix+"-")
	_, err := ulid.Parse(raw)
	return err == nil
}
