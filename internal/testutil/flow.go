package testutil

// FixedIDGenerator returns the same run-id suffix every time.
//
// Paired with DeterministicClock it makes generated run ids predictable, so
// a test can assert on the run directory it expects.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator returning id.
//
// If id is empty, Generate() returns "deadbeef".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "deadbeef"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
//
// Implements runs.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
