package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase is one timed step of an operation.
type Phase struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	done     bool
}

// PhaseTimer stops a single phase. Use it with defer.
type PhaseTimer struct {
	timer *Timer
	name  string
}

// Stop records the phase duration. Only the first call has effect.
func (pt *PhaseTimer) Stop() time.Duration {
	return pt.timer.stop(pt.name)
}

// Timer records named phases in the order they were started.
type Timer struct {
	mu      sync.Mutex
	name    string
	started time.Time
	phases  []*Phase
	byName  map[string]*Phase
	logger  Logger
	clock   Clock
	enabled bool
}

// TimerOption configures a Timer instance.
type TimerOption func(*Timer)

// WithLogger sets where PrintSummary writes. Lines go out at debug level.
func WithLogger(logger Logger) TimerOption {
	return func(t *Timer) {
		t.logger = logger
	}
}

// WithClock sets a custom clock.
func WithClock(clock Clock) TimerOption {
	return func(t *Timer) {
		t.clock = clock
	}
}

// WithEnabled turns the timer into a no-op when false.
func WithEnabled(enabled bool) TimerOption {
	return func(t *Timer) {
		t.enabled = enabled
	}
}

// NewTimer creates a new Timer with the given name and options.
func NewTimer(name string, opts ...TimerOption) *Timer {
	t := &Timer{
		name:    name,
		byName:  make(map[string]*Phase),
		clock:   NewRealClock(),
		enabled: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.started = t.clock.Now()
	return t
}

// Start begins timing phaseName. Restarting a name replaces its record.
func (t *Timer) Start(phaseName string) *PhaseTimer {
	pt := &PhaseTimer{timer: t, name: phaseName}
	if !t.enabled {
		return pt
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := &Phase{Name: phaseName, Start: t.clock.Now()}
	if _, ok := t.byName[phaseName]; !ok {
		t.phases = append(t.phases, p)
	} else {
		for i, old := range t.phases {
			if old.Name == phaseName {
				t.phases[i] = p
			}
		}
	}
	t.byName[phaseName] = p
	return pt
}

func (t *Timer) stop(name string) time.Duration {
	if !t.enabled {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byName[name]
	if !ok {
		return 0
	}
	if !p.done {
		p.Duration = t.clock.Since(p.Start)
		p.done = true
	}
	return p.Duration
}

// TimeFuncWithError runs fn as phase phaseName.
func (t *Timer) TimeFuncWithError(phaseName string, fn func() error) (time.Duration, error) {
	pt := t.Start(phaseName)
	err := fn()
	return pt.Stop(), err
}

// Duration returns the recorded duration of phaseName.
func (t *Timer) Duration(phaseName string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.byName[phaseName]; ok {
		return p.Duration
	}
	return 0
}

// Phases returns copies of all phases in start order.
func (t *Timer) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Phase, len(t.phases))
	for i, p := range t.phases {
		out[i] = *p
	}
	return out
}

// Total returns the time elapsed since the timer was created.
func (t *Timer) Total() time.Duration {
	return t.clock.Since(t.started)
}

// Summary formats all phases, one per line.
func (t *Timer) Summary() string {
	if !t.enabled {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s timing:", t.name)
	for _, p := range t.Phases() {
		fmt.Fprintf(&sb, " %s=%v", p.Name, p.Duration)
	}
	fmt.Fprintf(&sb, " total=%v", t.Total())
	return sb.String()
}

// PrintSummary writes Summary to the configured logger.
func (t *Timer) PrintSummary() {
	if !t.enabled || t.logger == nil {
		return
	}
	t.logger.Debug("%s", t.Summary())
}

// Reset clears all phases and restarts the total.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.phases = nil
	t.byName = make(map[string]*Phase)
	t.started = t.clock.Now()
}

// NewNullTimer returns a disabled timer.
func NewNullTimer() *Timer {
	return NewTimer("", WithEnabled(false))
}
