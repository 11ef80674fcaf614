package runs

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/triage/internal/clock"
)

// IDGenerator supplies the random suffix of generated run ids.
type IDGenerator interface {
	Generate() string
}

// RandomSuffix returns the first 8 hex digits of a random UUID.
//
// Thread-safety: RandomSuffix is stateless and safe for concurrent use.
type RandomSuffix struct{}

// Generate returns 8 lowercase hex characters.
func (RandomSuffix) Generate() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// FixedSuffix returns predetermined suffixes in order, for tests.
type FixedSuffix struct {
	mu       sync.Mutex
	suffixes []string
	idx      int
}

// NewFixedSuffix creates a generator returning suffixes in order.
func NewFixedSuffix(suffixes ...string) *FixedSuffix {
	return &FixedSuffix{suffixes: suffixes}
}

// Generate returns the next suffix. Panics when exhausted so a test that
// creates more runs than expected fails loudly.
func (g *FixedSuffix) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.suffixes) {
		panic("FixedSuffix: all suffixes exhausted")
	}
	s := g.suffixes[g.idx]
	g.idx++
	return s
}

// NewRunID returns "<prefix>_<YYYYmmdd_HHMMSS>_<suffix>" using c for the
// timestamp. An empty prefix becomes "run".
func NewRunID(prefix string, c clock.Clock, gen IDGenerator) string {
	if prefix == "" {
		prefix = "run"
	}
	return prefix + "_" + c.Now().UTC().Format("20060102_150405") + "_" + gen.Generate()
}
