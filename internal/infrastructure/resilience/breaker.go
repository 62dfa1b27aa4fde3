package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrProbeLimit  = errors.New("circuit breaker probe limit reached")
)

// State is the position of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

// Settings configures a Breaker. Zero fields take the defaults below.
type Settings struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold uint32
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// Probes is the number of calls let through while half-open. That many
	// consecutive successes close the circuit again.
	Probes uint32
	// IsFailure decides whether an error counts against the server. Errors it
	// rejects are returned to the caller and tallied as successes.
	IsFailure func(err error) bool
	// OnStateChange observes transitions.
	OnStateChange func(name string, from, to State)
}

const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
)

// Counts are the tallies of the current state.
type Counts struct {
	Requests             uint32 `json:"requests"`
	Successes            uint32 `json:"successes"`
	Failures             uint32 `json:"failures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
}

// Breaker fails fast once a server keeps failing, and lets a few probes
// through after a cooldown to find out whether it recovered.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	// generation changes on every transition so results of calls started in
	// an earlier state are ignored.
	generation uint64
}

// New creates a closed breaker.
func New(name string, s Settings) *Breaker {
	if s.Threshold == 0 {
		s.Threshold = DefaultThreshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = DefaultCooldown
	}
	if s.Probes == 0 {
		s.Probes = 1
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{name: name, settings: s, now: time.Now, state: StateClosed}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving an expired open circuit to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Counts returns the tallies of the current state.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the circuit and clears the counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// Do runs fn unless the circuit is open. A context that is already done is
// reported without touching the breaker.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	gen, err := b.acquire()
	if err != nil {
		return zero, err
	}

	done := false
	defer func() {
		if !done {
			b.release(gen, true)
		}
	}()

	out, err := fn(ctx)
	done = true
	b.release(gen, err != nil && b.settings.IsFailure(err))
	return out, err
}

func (b *Breaker) acquire() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	switch b.state {
	case StateOpen:
		return b.generation, ErrCircuitOpen
	case StateHalfOpen:
		if b.counts.Requests >= b.settings.Probes {
			return b.generation, ErrProbeLimit
		}
	}
	b.counts.Requests++
	return b.generation, nil
}

func (b *Breaker) release(gen uint64, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return
	}
	if failed {
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.settings.Threshold {
			b.transition(StateOpen)
		}
		return
	}
	b.counts.Successes++
	b.counts.ConsecutiveSuccesses++
	b.counts.ConsecutiveFailures = 0
	if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
		b.transition(StateClosed)
	}
}

// advance must be called with mu held.
func (b *Breaker) advance() {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		b.transition(StateHalfOpen)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.counts = Counts{}
	b.generation++
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if from != to && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
