package expressions

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time to timestamp() and the budget guard.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies identifiers to generate_id().
type IDGenerator interface {
	NewID() string
}

// RandomSource supplies random integers to random().
type RandomSource interface {
	Int63n(n int64) int64
}

// Services bundles the nondeterministic inputs of a call. Two calls with
// equivalent services, definition and context produce identical results.
type Services struct {
	Clock  Clock
	IDs    IDGenerator
	Random RandomSource
}

// DefaultServices returns wall-clock time, random UUIDs and a time-seeded RNG.
func DefaultServices() *Services {
	return &Services{
		Clock:  SystemClock{},
		IDs:    UUIDGenerator{},
		Random: NewSeededRandom(time.Now().UnixNano()),
	}
}

// Deterministic returns services that replay identically for the same seed and start time.
func Deterministic(seed int64, start time.Time) *Services {
	return &Services{
		Clock:  FixedClock{T: start},
		IDs:    NewSequentialIDs("id"),
		Random: NewSeededRandom(seed),
	}
}

// WithDefaults fills nil services from DefaultServices.
func (s *Services) WithDefaults() *Services {
	out := &Services{}
	if s != nil {
		*out = *s
	}
	if out.Clock == nil {
		out.Clock = SystemClock{}
	}
	if out.IDs == nil {
		out.IDs = UUIDGenerator{}
	}
	if out.Random == nil {
		out.Random = NewSeededRandom(time.Now().UnixNano())
	}
	return out
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports T.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// StepClock advances by Step on every read. Useful to drive timeouts in tests.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepClock creates a StepClock starting at start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start, step: step}
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// UUIDGenerator issues random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// SequentialIDs issues "<prefix>-1", "<prefix>-2", ...
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialIDs creates a SequentialIDs generator.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next)
}

// SeededRandom is a math/rand source guarded for concurrent use.
type SeededRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededRandom creates a SeededRandom.
func NewSeededRandom(seed int64) *SeededRandom {
	return &SeededRandom{rng: rand.New(rand.NewSource(seed))}
}

func (r *SeededRandom) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63n(n)
}
