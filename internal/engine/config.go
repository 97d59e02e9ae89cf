package engine

import "github.com/san-kum/cardiosim/internal/pacing"

// Kernel entry points every compiled program must expose, in the argument
// order fixed by the kernel generator:
//
//	calc_diff_current(nx, ny, gx, gy, state, idiff)
//	calc_slow_derivs(nx, ny, time, dt, nxPaced, nyPaced, pace, state, idiff, deriv, cache)
//	calc_fast_derivs(nx, ny, time, dt, nxPaced, nyPaced, pace, state, idiff, deriv, cache)
//	perform_step(nx, ny, dt, state, deriv)
const (
	KernelDiffusion = "calc_diff_current"
	KernelSlow      = "calc_slow_derivs"
	KernelFast      = "calc_fast_derivs"
	KernelStep      = "perform_step"
)

// ModelInfo describes the shape of a compiled cell model: how many scalars
// each cell's state vector holds, how many values the slow reaction pass
// caches for the fast pass, and the variable names log requests resolve
// against.
type ModelInfo struct {
	NState int      // state scalars per cell
	NCache int      // cached scalars per cell, handed from slow to fast pass
	States []string // log name per state index, e.g. "membrane.V"

	// Names of the fixed scalar bindings.
	TimeName      string // simulation time, e.g. "engine.time"
	PaceName      string // stimulus level
	StepName      string // step size
	DiffusionName string // per-cell diffusion current, e.g. "membrane.i_diff"
}

// Config holds everything needed to initialize one simulation run.
type Config struct {
	KernelSource string
	Model        ModelInfo

	Nx, Ny int     // lattice dimensions (Ny = 1 for the 1-D case)
	Gx, Gy float64 // cell-to-cell conductances

	TMin, TMax float64
	StepSize   float64 // default (maximum) step size; the floor is StepSize/100

	StateIn  []float64 // initial state, len Nx*Ny*NState, row-major by cell then state index
	StateOut []float64 // final state, same shape, written at run end

	Protocol         *pacing.Protocol
	NxPaced, NyPaced int // stimulated corner region

	LogVars     []string
	LogInterval float64

	Ratio int // slow/fast rate ratio R >= 1
}

// Cells returns the lattice cell count.
func (c *Config) Cells() int { return c.Nx * c.Ny }

// Validate checks everything except the state shapes, which the buffer
// manager verifies when it allocates.
func (c *Config) Validate() error {
	if c.Nx < 1 || c.Ny < 1 {
		return configErrorf("lattice must be at least 1x1, got %dx%d", c.Nx, c.Ny)
	}
	if c.Model.NState < 1 {
		return configErrorf("model must have at least one state variable")
	}
	if len(c.Model.States) != c.Model.NState {
		return configErrorf("model declares %d state names for %d states", len(c.Model.States), c.Model.NState)
	}
	if c.Model.NCache < 0 {
		return configErrorf("model cache size cannot be negative")
	}
	if c.Gx < 0 || c.Gy < 0 {
		return configErrorf("conductances must be non-negative, got gx=%g gy=%g", c.Gx, c.Gy)
	}
	if c.TMax <= c.TMin {
		return configErrorf("time window [%g, %g] is empty", c.TMin, c.TMax)
	}
	if c.StepSize <= 0 {
		return configErrorf("step size must be positive, got %g", c.StepSize)
	}
	if c.NxPaced < 0 || c.NxPaced > c.Nx || c.NyPaced < 0 || c.NyPaced > c.Ny {
		return configErrorf("paced region %dx%d does not fit the %dx%d lattice", c.NxPaced, c.NyPaced, c.Nx, c.Ny)
	}
	if c.LogInterval < 0 {
		return configErrorf("log interval must be non-negative, got %g", c.LogInterval)
	}
	if c.Ratio < 1 {
		return configErrorf("slow/fast ratio must be at least 1, got %d", c.Ratio)
	}
	return nil
}
