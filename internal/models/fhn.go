// Package models bundles ready-to-run excitable-cell models so the CLI and
// tests do not depend on an external kernel generator. Each model carries
// its shape description, a host kernel library, and OKL source for
// accelerator builds.
package models

import (
	"fmt"

	"github.com/san-kum/cardiosim/internal/device"
	"github.com/san-kum/cardiosim/internal/engine"
)

// Model is a cell model in the form the engine consumes.
type Model struct {
	Name    string
	Info    engine.ModelInfo
	Kernels device.Library
	Source  string // OKL kernel source for the accelerator path

	params FHNParams
}

// FHNParams are the coefficients of the modified FitzHugh-Nagumo model.
type FHNParams struct {
	A  float64 // excitation threshold
	B  float64 // recovery rate
	C1 float64 // excitation strength
	C2 float64 // recovery coupling strength
	D  float64 // recovery decay
}

// DefaultFHNParams returns coefficients giving a stable travelling action
// potential on a normalized membrane (v in [0, 1]).
func DefaultFHNParams() FHNParams {
	return FHNParams{A: 0.13, B: 0.013, C1: 0.26, C2: 0.1, D: 1.0}
}

// FitzHughNagumo builds the two-state modified FitzHugh-Nagumo model.
// State layout per cell: [v, w], v the fast excitation variable and w the
// slow recovery variable. The slow pass evaluates both derivatives and
// caches the recovery conductance c2*w; the fast pass re-evaluates only
// dv/dt from that cache, leaving dw/dt stale until the next slow pass.
func FitzHughNagumo(p FHNParams) *Model {
	m := &Model{
		Name:   "fhn",
		params: p,
		Info: engine.ModelInfo{
			NState:        2,
			NCache:        1,
			States:        []string{"membrane.v", "recovery.w"},
			TimeName:      "engine.time",
			PaceName:      "engine.pace",
			StepName:      "engine.dt",
			DiffusionName: "membrane.i_diff",
		},
		Source: fhnSource(p),
	}

	reaction := func(slow bool) device.KernelFunc {
		return func(nx, ny int, args []interface{}) error {
			nxPaced := args[4].(int)
			nyPaced := args[5].(int)
			pace := args[6].(float64)
			state := args[7].([]float64)
			idiff := args[8].([]float64)
			deriv := args[9].([]float64)
			cache := args[10].([]float64)
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					c := y*nx + x
					v := state[2*c]
					w := state[2*c+1]
					istim := 0.0
					if x < nxPaced && y < nyPaced {
						istim = pace
					}
					if slow {
						cache[c] = m.coupling(w)
						deriv[2*c+1] = m.recovery(v, w)
					}
					deriv[2*c] = m.excitation(v, cache[c]) - idiff[c] + istim
				}
			}
			return nil
		}
	}

	m.Kernels = device.Library{
		engine.KernelDiffusion: func(nx, ny int, args []interface{}) error {
			gx := args[2].(float64)
			gy := args[3].(float64)
			state := args[4].([]float64)
			idiff := args[5].([]float64)
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					c := y*nx + x
					v := state[2*c]
					d := 0.0
					if x > 0 {
						d += gx * (v - state[2*(c-1)])
					}
					if x < nx-1 {
						d += gx * (v - state[2*(c+1)])
					}
					if y > 0 {
						d += gy * (v - state[2*(c-nx)])
					}
					if y < ny-1 {
						d += gy * (v - state[2*(c+nx)])
					}
					idiff[c] = d
				}
			}
			return nil
		},
		engine.KernelSlow: reaction(true),
		engine.KernelFast: reaction(false),
		engine.KernelStep: func(nx, ny int, args []interface{}) error {
			dt := args[2].(float64)
			state := args[3].([]float64)
			deriv := args[4].([]float64)
			for i := range state {
				state[i] += dt * deriv[i]
			}
			return nil
		},
	}

	return m
}

func (m *Model) excitation(v, coupling float64) float64 {
	p := m.params
	return p.C1*v*(v-p.A)*(1-v) - coupling*v
}

func (m *Model) recovery(v, w float64) float64 {
	p := m.params
	return p.B * (v - p.D*w)
}

func (m *Model) coupling(w float64) float64 {
	return m.params.C2 * w
}

// fhnSource emits the OKL program for the accelerator path, with the model
// coefficients baked in as compile-time constants.
func fhnSource(p FHNParams) string {
	return fmt.Sprintf(`
#define FHN_A  %gf
#define FHN_B  %gf
#define FHN_C1 %gf
#define FHN_C2 %gf
#define FHN_D  %gf
`, p.A, p.B, p.C1, p.C2, p.D) + fhnKernels
}

const fhnKernels = `
// Modified FitzHugh-Nagumo, two states per cell: [v, w].

@kernel void calc_diff_current(const int nx, const int ny,
                               const float gx, const float gy,
                               const float *state, float *idiff) {
  for (int y = 0; y < ny; ++y; @outer) {
    for (int x = 0; x < nx; ++x; @inner) {
      const int c = y * nx + x;
      const float v = state[2 * c];
      float d = 0.0f;
      if (x > 0)      d += gx * (v - state[2 * (c - 1)]);
      if (x < nx - 1) d += gx * (v - state[2 * (c + 1)]);
      if (y > 0)      d += gy * (v - state[2 * (c - nx)]);
      if (y < ny - 1) d += gy * (v - state[2 * (c + nx)]);
      idiff[c] = d;
    }
  }
}

@kernel void calc_slow_derivs(const int nx, const int ny,
                              const float t, const float dt,
                              const int nx_paced, const int ny_paced,
                              const float pace,
                              const float *state, const float *idiff,
                              float *deriv, float *cache) {
  for (int y = 0; y < ny; ++y; @outer) {
    for (int x = 0; x < nx; ++x; @inner) {
      const int c = y * nx + x;
      const float v = state[2 * c];
      const float w = state[2 * c + 1];
      const float istim = (x < nx_paced && y < ny_paced) ? pace : 0.0f;
      cache[c] = FHN_C2 * w;
      deriv[2 * c + 1] = FHN_B * (v - FHN_D * w);
      deriv[2 * c] = FHN_C1 * v * (v - FHN_A) * (1.0f - v)
                   - cache[c] * v - idiff[c] + istim;
    }
  }
}

@kernel void calc_fast_derivs(const int nx, const int ny,
                              const float t, const float dt,
                              const int nx_paced, const int ny_paced,
                              const float pace,
                              const float *state, const float *idiff,
                              float *deriv, const float *cache) {
  for (int y = 0; y < ny; ++y; @outer) {
    for (int x = 0; x < nx; ++x; @inner) {
      const int c = y * nx + x;
      const float v = state[2 * c];
      const float istim = (x < nx_paced && y < ny_paced) ? pace : 0.0f;
      deriv[2 * c] = FHN_C1 * v * (v - FHN_A) * (1.0f - v)
                   - cache[c] * v - idiff[c] + istim;
    }
  }
}

@kernel void perform_step(const int nx, const int ny, const float dt,
                          float *state, const float *deriv) {
  for (int y = 0; y < ny; ++y; @outer) {
    for (int x = 0; x < nx; ++x; @inner) {
      const int c = y * nx + x;
      state[2 * c] += dt * deriv[2 * c];
      state[2 * c + 1] += dt * deriv[2 * c + 1];
    }
  }
}
`
