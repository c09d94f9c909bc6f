package pool

import "time"

// breaker is a rolling-window failure-ratio circuit breaker, independent of
// per-task retries: it sees one record per terminal outcome.
//
// Closed: admissions proceed; outcomes fill the window. Once the window is
// full and the failure ratio exceeds the threshold, the breaker opens for a
// cooldown. After the cooldown the first admission becomes the half-open
// probe; its success closes the breaker and resets the window, its failure
// reopens with a doubled (capped) cooldown.
//
// Owned by the coordinator; no internal locking.
type breaker struct {
	disabled  bool
	window    []bool // true = failure
	idx       int
	filled    int
	fails     int
	threshold float64

	state        CircuitState
	openUntil    time.Time
	cooldown     time.Duration
	baseCooldown time.Duration
	maxCooldown  time.Duration

	probeInFlight bool
}

func newBreaker(cfg Config) *breaker {
	if cfg.CircuitWindow < 0 {
		return &breaker{disabled: true}
	}
	return &breaker{
		window:       make([]bool, cfg.CircuitWindow),
		threshold:    cfg.CircuitFailureThreshold,
		cooldown:     cfg.CircuitCooldown,
		baseCooldown: cfg.CircuitCooldown,
		maxCooldown:  cfg.CircuitMaxCooldown,
	}
}

// admit decides whether a new submission may pass. In half-open state the
// first admission is marked as the probe via the returned flag.
func (b *breaker) admit(now time.Time) (probe bool, err error) {
	if b.disabled {
		return false, nil
	}
	switch b.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if now.Before(b.openUntil) {
			return false, ErrCircuitOpen
		}
		// Cooldown elapsed: this submission is the half-open probe.
		b.state = CircuitHalfOpen
		b.probeInFlight = true
		return true, nil
	case CircuitHalfOpen:
		if b.probeInFlight {
			return false, ErrCircuitOpen
		}
		b.probeInFlight = true
		return true, nil
	}
	return false, nil
}

// record observes one terminal outcome. Returns the new state so the caller
// can publish transition events; a transition happened iff the state differs
// from before the call.
func (b *breaker) record(now time.Time, probe, failed bool) CircuitState {
	if b.disabled {
		return CircuitClosed
	}
	if probe {
		b.probeInFlight = false
		if failed {
			b.reopen(now)
		} else {
			b.close()
		}
		return b.state
	}

	if b.state != CircuitClosed {
		// Straggler outcome from before the trip; the window resets on close
		// anyway, so it carries no signal.
		return b.state
	}

	if b.window[b.idx] {
		b.fails--
	}
	b.window[b.idx] = failed
	if failed {
		b.fails++
	}
	b.idx = (b.idx + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}

	// Ratio is meaningful only over a full window; a single early failure
	// must not trip the breaker.
	if b.filled == len(b.window) && b.ratio() > b.threshold {
		b.cooldown = b.baseCooldown
		b.open(now)
	}
	return b.state
}

// release returns a claimed probe whose task resolved without running
// (cancelled or expired while queued). The slot frees up so the next
// admission becomes the probe; the outcome window is untouched.
func (b *breaker) release(probe bool) {
	if b.disabled || !probe {
		return
	}
	b.probeInFlight = false
}

func (b *breaker) ratio() float64 {
	if b.filled == 0 {
		return 0
	}
	return float64(b.fails) / float64(b.filled)
}

func (b *breaker) open(now time.Time) {
	b.state = CircuitOpen
	b.openUntil = now.Add(b.cooldown)
}

func (b *breaker) reopen(now time.Time) {
	b.cooldown *= 2
	if b.cooldown > b.maxCooldown {
		b.cooldown = b.maxCooldown
	}
	b.open(now)
}

func (b *breaker) close() {
	b.state = CircuitClosed
	b.openUntil = time.Time{}
	b.cooldown = b.baseCooldown
	for i := range b.window {
		b.window[i] = false
	}
	b.idx = 0
	b.filled = 0
	b.fails = 0
}

func (b *breaker) currentState() CircuitState {
	if b.disabled {
		return CircuitClosed
	}
	return b.state
}
