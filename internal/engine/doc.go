// Package engine drives a reaction-diffusion simulation of excitable cells
// on a 1-D or 2-D lattice, offloading per-cell work to an accelerator
// through the device package.
//
// The core is a multi-rate operator-split time loop. Every internal step
// launches, in order: the diffusion kernel, one reaction kernel (the full
// slow+fast evaluation every R-th step, the cheap fast-only evaluation in
// between), and the explicit Euler update. The step size adapts to land
// exactly on the end of the run and on stimulus-protocol boundaries, never
// dropping below a fixed floor.
//
// Runs execute in chunks:
//
//	s, err := engine.New(cfg, dev)
//	for !s.Done() {
//	    t, err := s.Step() // one chunk of internal steps
//	    ...
//	}
//
// or in one call with cooperative cancellation at chunk boundaries:
//
//	t, err := s.Run(ctx)
//
// # Thread safety
//
// A Sim is single-owner: exactly one goroutine drives it, and it owns the
// full device buffer set for the lifetime of the run.
package engine
