package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/cardiosim/internal/device"
	"github.com/san-kum/cardiosim/internal/pacing"
)

// Sim is one simulation run: it owns the device buffer set, the pacing
// system, and the compiled kernels for the lifetime of the run. Construct
// one per run; a Sim is not safe for concurrent use.
type Sim struct {
	cfg  Config
	dev  device.Device
	bufs *buffers
	pace *pacing.System

	kDiff device.Kernel
	kSlow device.Kernel
	kFast device.Kernel
	kStep device.Kernel

	// Scalar simulation state; the minimal state needed to resume a
	// chunked run. The log table holds pointers into these.
	time  float64
	level float64 // stimulus level at the current time
	dt    float64

	dtMin         float64
	stepsTillSlow int // 0..Ratio-1; slow pass when it reaches 0
	halt          bool
	done          bool

	table *logTable

	guards   []func() // unwound in reverse by Release
	released bool
}

// New initializes a run: pacing first (a malformed protocol must surface
// before any device allocation), then buffers, program, kernels, and the
// log binding table. The Sim takes ownership of dev; Release frees it.
// Every initialization failure unwinds through Release before returning.
func New(cfg Config, dev device.Device) (_ *Sim, err error) {
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	sim := &Sim{cfg: cfg, dev: dev}
	defer func() {
		if err != nil {
			sim.Release()
		}
	}()

	if sim.pace, err = pacing.NewSystem(cfg.Protocol); err != nil {
		return nil, fmt.Errorf("engine: pacing: %w", err)
	}
	if err = sim.pace.Advance(cfg.TMin, cfg.TMax); err != nil {
		return nil, fmt.Errorf("engine: pacing: %w", err)
	}
	sim.level = sim.pace.Level()

	sim.time = cfg.TMin
	sim.dt = cfg.StepSize
	sim.dtMin = cfg.StepSize * 1e-2

	if sim.bufs, err = allocBuffers(dev, &sim.cfg); err != nil {
		return nil, err
	}
	sim.guards = append(sim.guards, sim.bufs.release)

	prog, err := dev.Build(cfg.KernelSource)
	if err != nil {
		return nil, &DeviceError{Op: "program build", Err: err}
	}
	sim.guards = append(sim.guards, prog.Release)

	if sim.kDiff, err = prog.Kernel(KernelDiffusion); err != nil {
		return nil, &DeviceError{Op: "kernel binding", Err: err}
	}
	if sim.kSlow, err = prog.Kernel(KernelSlow); err != nil {
		return nil, &DeviceError{Op: "kernel binding", Err: err}
	}
	if sim.kFast, err = prog.Kernel(KernelFast); err != nil {
		return nil, &DeviceError{Op: "kernel binding", Err: err}
	}
	if sim.kStep, err = prog.Kernel(KernelStep); err != nil {
		return nil, &DeviceError{Op: "kernel binding", Err: err}
	}

	if sim.table, err = buildLogTable(&sim.cfg, &sim.time, &sim.level, &sim.dt, sim.bufs); err != nil {
		return nil, err
	}

	// Initial sample at tmin, before the first step. With nothing bound,
	// logging is disabled outright instead of firing on every step.
	if len(sim.table.srcs) > 0 {
		sim.table.sample()
		sim.table.next = cfg.TMin + cfg.LogInterval
	} else {
		sim.table.next = cfg.TMax + 1
	}
	return sim, nil
}

// Time returns the current simulation time.
func (s *Sim) Time() float64 { return s.time }

// Log returns the sampled output series. Valid after Release: series live
// in host memory.
func (s *Sim) Log() *Log { return s.table.log }

// State copies the current device state into dst, which must hold at least
// Cells()*NState values. It forces a blocking readback, so it belongs
// between chunks, never inside the step loop.
func (s *Sim) State(dst []float64) error {
	if s.released {
		return configErrorf("state readback on a released simulation")
	}
	if err := s.bufs.readbackState(); err != nil {
		return err
	}
	copy(dst, s.bufs.hostState)
	return nil
}

// Done reports whether the run reached tmax or halted.
func (s *Sim) Done() bool { return s.done }

// Halted reports whether the run was stopped by NaN detection.
func (s *Sim) Halted() bool { return s.halt }

// HaltSentinel is the time value a halted run reports: one unit below tmin,
// so it precedes any valid reached time.
func (s *Sim) HaltSentinel() float64 { return s.cfg.TMin - 1 }

// Step runs the next chunk of internal steps and returns the reached
// simulation time. Smaller lattices get larger chunks, since their kernels
// complete faster. A mid-run return carries a time strictly below tmax; a
// completed run returns a time at or above tmax; a halted run returns the
// sentinel tmin-1. On completion or halt the final state is written to
// cfg.StateOut and all resources are released.
func (s *Sim) Step() (float64, error) {
	if s.released {
		return 0, configErrorf("step on a released simulation")
	}

	stepsLeft := 500 + 200000/s.cfg.Cells()
	if stepsLeft < 1000 {
		stepsLeft = 1000
	}

	for {
		// Diffusion pass, every step.
		err := s.kDiff.Launch(s.cfg.Nx, s.cfg.Ny,
			s.cfg.Nx, s.cfg.Ny, s.cfg.Gx, s.cfg.Gy, s.bufs.state, s.bufs.idiff)
		if err != nil {
			return 0, s.fail("diffusion launch", err)
		}

		// Reaction pass, operator-split by rate: the slow pass re-evaluates
		// everything and refreshes the cache; the fast pass reuses it.
		if s.stepsTillSlow < 1 {
			if err := s.launchReaction(s.kSlow); err != nil {
				return 0, s.fail("slow reaction launch", err)
			}
			s.stepsTillSlow = s.cfg.Ratio - 1
		} else {
			if err := s.launchReaction(s.kFast); err != nil {
				return 0, s.fail("fast reaction launch", err)
			}
			s.stepsTillSlow--
		}

		// Explicit Euler update, in place.
		err = s.kStep.Launch(s.cfg.Nx, s.cfg.Ny,
			s.cfg.Nx, s.cfg.Ny, s.dt, s.bufs.state, s.bufs.deriv)
		if err != nil {
			return 0, s.fail("integration launch", err)
		}

		// Advance time and the pacing system to t+dt.
		s.time += s.dt
		if err := s.pace.Advance(s.time, s.cfg.TMax); err != nil {
			s.Release()
			return 0, fmt.Errorf("engine: pacing: %w", err)
		}
		s.level = s.pace.Level()

		if s.time >= s.table.next {
			if err := s.logSample(); err != nil {
				s.Release()
				return 0, err
			}
		}

		if s.time >= s.cfg.TMax || s.halt {
			break
		}

		// Next step size: shrink from the default to exactly reach tmax or
		// the next pacing event, but never below the floor — a boundary
		// closer than the floor is absorbed into the current step. The log
		// interval deliberately does not constrain dt.
		s.dt = s.cfg.StepSize
		if d := s.cfg.TMax - s.time; d > s.dtMin && d < s.dt {
			s.dt = d
		}
		if d := s.pace.NextTime() - s.time; d > s.dtMin && d < s.dt {
			s.dt = d
		}

		stepsLeft--
		if stepsLeft == 0 {
			if err := s.dev.Finish(); err != nil {
				return 0, s.fail("queue flush", err)
			}
			return s.time, nil
		}
	}

	return s.finish()
}

// Run drives Step chunks until the run completes, checking ctx between
// chunks. Cancellation is cooperative: the chunk boundary is the only
// preemption point.
func (s *Sim) Run(ctx context.Context) (float64, error) {
	for {
		select {
		case <-ctx.Done():
			return s.time, ctx.Err()
		default:
		}
		t, err := s.Step()
		if err != nil {
			return t, err
		}
		if s.done {
			return t, nil
		}
	}
}

// Release frees every resource acquired during initialization, unwinding
// the guard stack in reverse acquisition order, and releases the device.
// Idempotent: safe to call repeatedly and on a partially initialized run.
func (s *Sim) Release() {
	if s.released {
		return
	}
	s.released = true
	s.dev.Finish()
	for i := len(s.guards) - 1; i >= 0; i-- {
		s.guards[i]()
	}
	s.guards = nil
	s.dev.Release()
}

func (s *Sim) launchReaction(k device.Kernel) error {
	return k.Launch(s.cfg.Nx, s.cfg.Ny,
		s.cfg.Nx, s.cfg.Ny, s.time, s.dt, s.cfg.NxPaced, s.cfg.NyPaced, s.level,
		s.bufs.state, s.bufs.idiff, s.bufs.deriv, s.bufs.cache)
}

// logSample performs one logging trigger: the lazy readbacks (the only two
// blocking device-to-host transfers in the step loop), the NaN check on the
// fresh state, and one append per bound variable.
func (s *Sim) logSample() error {
	if s.table.loggingDiffusion {
		if err := s.bufs.readbackIdiff(); err != nil {
			return err
		}
	}
	if s.table.loggingStates {
		if err := s.bufs.readbackState(); err != nil {
			return err
		}
		for _, v := range s.bufs.hostState {
			if math.IsNaN(v) {
				s.halt = true
				break
			}
		}
	}
	s.table.sample()
	s.table.next += s.table.interval
	return nil
}

// finish drains the final state to the caller's output slice, flushes the
// queue, and tears the run down. A halted run reports the sentinel time.
func (s *Sim) finish() (float64, error) {
	if err := s.bufs.readbackState(); err != nil {
		s.Release()
		return 0, err
	}
	copy(s.cfg.StateOut, s.bufs.hostState)
	s.done = true
	s.Release()
	if s.halt {
		return s.HaltSentinel(), nil
	}
	return s.time, nil
}

func (s *Sim) fail(op string, err error) error {
	s.Release()
	return &DeviceError{Op: op, Err: err}
}
