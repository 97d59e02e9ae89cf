package pacing

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrTimeRegression indicates an attempt to advance the system to a time
// before its current time.
var ErrTimeRegression = errors.New("pacing: new time cannot be before current time")

// SimultaneousEventError indicates two protocol events firing at the same
// instant, which leaves the stimulus level undefined.
type SimultaneousEventError struct {
	Time float64
}

func (e *SimultaneousEventError) Error() string {
	return fmt.Sprintf("pacing: simultaneous protocol events at t=%g", e.Time)
}

// System tracks the stimulus level over time for a protocol. It answers what
// level applies now and when it next changes, and is advanced strictly
// forwards by the simulation loop.
type System struct {
	queue  []Event // pending events, sorted by start time
	time   float64
	level  float64
	active bool
	tDown  float64 // switch-off time of the active event
}

// NewSystem populates a pacing system from a protocol and advances it to
// time zero, so events starting at t=0 are already reflected in Level.
func NewSystem(p *Protocol) (*System, error) {
	s := &System{}
	if p != nil {
		s.queue = p.Events()
		sort.SliceStable(s.queue, func(i, j int) bool {
			return s.queue[i].Start < s.queue[j].Start
		})
	}
	if err := s.Advance(0, math.Inf(1)); err != nil {
		return nil, err
	}
	return s, nil
}

// Time returns the system's current time.
func (s *System) Time() float64 { return s.time }

// Level returns the stimulus level at the current time.
func (s *System) Level() float64 { return s.level }

// NextTime returns the next time at which the level changes, or +Inf when no
// change is pending.
func (s *System) NextTime() float64 {
	tnext := math.Inf(1)
	if s.active && s.tDown < tnext {
		tnext = s.tDown
	}
	if len(s.queue) > 0 && s.queue[0].Start < tnext {
		tnext = s.queue[0].Start
	}
	return tnext
}

// Advance moves the system to time t, bounded above by max: the system never
// advances past max, no matter how far ahead t lies. Moving backwards is an
// error.
func (s *System) Advance(t, max float64) error {
	if t > max {
		t = max
	}
	if t < s.time {
		return fmt.Errorf("%w: t=%g, current=%g", ErrTimeRegression, t, s.time)
	}
	for {
		tnext := s.NextTime()
		if tnext > t {
			break
		}
		s.time = tnext
		if s.active && s.tDown <= tnext {
			s.active = false
			s.level = 0
		}
		if len(s.queue) > 0 && s.queue[0].Start <= tnext {
			e := s.queue[0]
			s.queue = s.queue[1:]
			if len(s.queue) > 0 && s.queue[0].Start == e.Start {
				return &SimultaneousEventError{Time: e.Start}
			}
			s.active = true
			s.level = e.Level
			s.tDown = e.Start + e.Duration
			if e.Period > 0 {
				reschedule := true
				if e.Multiplier > 0 {
					e.Multiplier--
					if e.Multiplier == 0 {
						reschedule = false
					}
				}
				if reschedule {
					e.Start += e.Period
					if err := s.insert(e); err != nil {
						return err
					}
				}
			}
		}
	}
	s.time = t
	return nil
}

// insert places e back into the queue, keeping it sorted by start time. A
// periodic event rescheduled onto the same instant as a pending event is
// detected here, before either fires.
func (s *System) insert(e Event) error {
	i := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].Start >= e.Start
	})
	if i < len(s.queue) && s.queue[i].Start == e.Start {
		return &SimultaneousEventError{Time: e.Start}
	}
	s.queue = append(s.queue, Event{})
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = e
	return nil
}
