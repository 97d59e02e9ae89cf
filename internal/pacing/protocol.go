package pacing

import "fmt"

// Event is one stimulus entry: the level is applied at start and held for
// duration time units. A positive period makes the event recur; multiplier
// limits a periodic event to that many occurrences (0 = no limit).
type Event struct {
	Level      float64
	Start      float64
	Duration   float64
	Period     float64
	Multiplier int
}

// Protocol is a time-ordered stimulus description. The zero value is a valid
// empty protocol (stimulus permanently off).
type Protocol struct {
	events []Event
}

// Schedule adds an event to the protocol.
func (p *Protocol) Schedule(level, start, duration, period float64, multiplier int) error {
	if start < 0 {
		return fmt.Errorf("pacing: event start must be non-negative, got %g", start)
	}
	if duration <= 0 {
		return fmt.Errorf("pacing: event duration must be positive, got %g", duration)
	}
	if period < 0 {
		return fmt.Errorf("pacing: event period must be non-negative, got %g", period)
	}
	if multiplier < 0 {
		return fmt.Errorf("pacing: event multiplier must be non-negative, got %d", multiplier)
	}
	if multiplier > 0 && period == 0 {
		return fmt.Errorf("pacing: non-zero multiplier requires a non-zero period")
	}
	if period > 0 && duration > period {
		return fmt.Errorf("pacing: event duration %g exceeds period %g", duration, period)
	}
	p.events = append(p.events, Event{level, start, duration, period, multiplier})
	return nil
}

// Events returns a copy of the scheduled events.
func (p *Protocol) Events() []Event {
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// BlockTrain is a convenience constructor for the common periodic stimulus:
// a pulse of the given level and duration every period time units, starting
// at offset.
func BlockTrain(period, duration, offset, level float64) (*Protocol, error) {
	p := &Protocol{}
	if err := p.Schedule(level, offset, duration, period, 0); err != nil {
		return nil, err
	}
	return p, nil
}
