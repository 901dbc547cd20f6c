package job

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeyGenerator issues unique result keys for one compile call. Keys only need
// to be unique, not ordered.
type KeyGenerator interface {
	NextKey() string
}

// Key strategies accepted by NewKeyGenerator.
const (
	KeyStrategyMonotonic = "monotonic"
	KeyStrategyUUID      = "uuid"
)

// NewKeyGenerator returns the generator for strategy, defaulting to
// monotonic keys.
func NewKeyGenerator(strategy string) KeyGenerator {
	if strategy == KeyStrategyUUID {
		return NewUUIDKeys()
	}
	return NewMonotonicKeys()
}

// MonotonicKeys derives keys from the wall clock in milliseconds plus a
// counter for keys issued within the same millisecond.
type MonotonicKeys struct {
	mu       sync.Mutex
	lastTime int64
	count    int
	now      func() time.Time
}

// NewMonotonicKeys creates a clock-based generator.
func NewMonotonicKeys() *MonotonicKeys {
	return &MonotonicKeys{now: time.Now}
}

// NextKey implements KeyGenerator.
func (g *MonotonicKeys) NextKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now <= g.lastTime {
		// Clock did not move forward; keep the last timestamp.
		g.count++
	} else {
		g.lastTime = now
		g.count = 0
	}
	return fmt.Sprintf("%d-%d", g.lastTime, g.count)
}

// SequenceKeys issues prefix-1, prefix-2, ... and is meant for tests that need
// predictable keys.
type SequenceKeys struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequenceKeys creates a deterministic generator.
func NewSequenceKeys(prefix string) *SequenceKeys {
	if prefix == "" {
		prefix = "key"
	}
	return &SequenceKeys{prefix: prefix}
}

// NextKey implements KeyGenerator.
func (g *SequenceKeys) NextKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.prefix + "-" + strconv.Itoa(g.next)
}

// UUIDKeys issues random UUID keys.
type UUIDKeys struct{}

// NewUUIDKeys creates a UUID generator.
func NewUUIDKeys() UUIDKeys { return UUIDKeys{} }

// NextKey implements KeyGenerator.
func (UUIDKeys) NextKey() string { return uuid.NewString() }
