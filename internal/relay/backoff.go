package relay

import "time"

const (
	defaultBackoffFloor   = 1 * time.Second
	defaultBackoffCeiling = 30 * time.Second
)

// Backoff yields reconnect delays that double from floor up to ceiling. The
// ceiling holds until Reset.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration
	current time.Duration
}

func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = defaultBackoffFloor
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{floor: floor, ceiling: ceiling, current: floor}
}

// Next returns the delay to use now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current = min(b.current*2, b.ceiling)
	return d
}

func (b *Backoff) Reset() {
	b.current = b.floor
}
