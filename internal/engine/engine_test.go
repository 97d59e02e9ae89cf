package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/cardiosim/internal/device"
	"github.com/san-kum/cardiosim/internal/pacing"
)

// launchRecord captures what the kernels saw, per step.
type launchRecord struct {
	slowSteps []int     // step indices where the slow pass ran
	fastSteps []int     // step indices where the fast pass ran
	dts       []float64 // dt passed to each integration launch
	times     []float64 // time passed to each reaction launch
	step      int
}

// decayLibrary is a one-state test model: dv/dt = -k*v - i_diff + i_stim.
// The slow pass caches the decay rate; the fast pass reuses it, so with
// ratio 1 the split is exactly a single-rate evaluation.
func decayLibrary(k float64, rec *launchRecord) device.Library {
	reaction := func(slow bool) device.KernelFunc {
		return func(nx, ny int, args []interface{}) error {
			t := args[2].(float64)
			nxPaced := args[4].(int)
			nyPaced := args[5].(int)
			pace := args[6].(float64)
			state := args[7].([]float64)
			idiff := args[8].([]float64)
			deriv := args[9].([]float64)
			cache := args[10].([]float64)
			if rec != nil {
				if slow {
					rec.slowSteps = append(rec.slowSteps, rec.step)
				} else {
					rec.fastSteps = append(rec.fastSteps, rec.step)
				}
				rec.times = append(rec.times, t)
			}
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					c := y*nx + x
					if slow {
						cache[c] = k
					}
					istim := 0.0
					if x < nxPaced && y < nyPaced {
						istim = pace
					}
					deriv[c] = -cache[c]*state[c] - idiff[c] + istim
				}
			}
			return nil
		}
	}
	return device.Library{
		KernelDiffusion: func(nx, ny int, args []interface{}) error {
			gx := args[2].(float64)
			gy := args[3].(float64)
			state := args[4].([]float64)
			idiff := args[5].([]float64)
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					c := y*nx + x
					v := state[c]
					d := 0.0
					if x > 0 {
						d += gx * (v - state[c-1])
					}
					if x < nx-1 {
						d += gx * (v - state[c+1])
					}
					if y > 0 {
						d += gy * (v - state[c-nx])
					}
					if y < ny-1 {
						d += gy * (v - state[c+nx])
					}
					idiff[c] = d
				}
			}
			return nil
		},
		KernelSlow: reaction(true),
		KernelFast: reaction(false),
		KernelStep: func(nx, ny int, args []interface{}) error {
			dt := args[2].(float64)
			state := args[3].([]float64)
			deriv := args[4].([]float64)
			if rec != nil {
				rec.dts = append(rec.dts, dt)
				rec.step++
			}
			for i := range state {
				state[i] += dt * deriv[i]
			}
			return nil
		},
	}
}

// trackingDevice counts live buffer allocations so tests can verify that
// failed initializations leave nothing allocated.
type trackingDevice struct {
	device.Device
	live int
}

func (d *trackingDevice) NewBuffer(n int) (device.Buffer, error) {
	b, err := d.Device.NewBuffer(n)
	if err != nil {
		return nil, err
	}
	d.live++
	return &trackingBuffer{Buffer: b, dev: d}, nil
}

type trackingBuffer struct {
	device.Buffer
	dev      *trackingDevice
	released bool
}

func (b *trackingBuffer) Release() {
	if !b.released {
		b.released = true
		b.dev.live--
	}
	b.Buffer.Release()
}

func oneStateModel() ModelInfo {
	return ModelInfo{
		NState:        1,
		NCache:        1,
		States:        []string{"membrane.v"},
		TimeName:      "engine.time",
		PaceName:      "engine.pace",
		StepName:      "engine.dt",
		DiffusionName: "membrane.i_diff",
	}
}

func baseConfig(nx, ny int) Config {
	cells := nx * ny
	state := make([]float64, cells)
	for i := range state {
		state[i] = 1.0
	}
	return Config{
		Model:       oneStateModel(),
		Nx:          nx,
		Ny:          ny,
		TMin:        0,
		TMax:        1,
		StepSize:    0.01,
		StateIn:     state,
		StateOut:    make([]float64, cells),
		Ratio:       1,
		LogInterval: 0.25,
	}
}

func TestReleaseIdempotent(t *testing.T) {
	cfg := baseConfig(4, 1)
	s, err := New(cfg, device.NewHostDevice(decayLibrary(1.0, nil)))
	if err != nil {
		t.Fatal(err)
	}
	s.Release()
	s.Release() // must be a no-op
	if _, err := s.Step(); err == nil {
		t.Error("expected error stepping a released simulation")
	}
}

func TestSlowFastCadence(t *testing.T) {
	rec := &launchRecord{}
	cfg := baseConfig(4, 1)
	cfg.Ratio = 3
	s, err := New(cfg, device.NewHostDevice(decayLibrary(1.0, rec)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i, step := range rec.slowSteps {
		if step != i*3 {
			t.Fatalf("slow pass %d ran at step %d, want %d", i, step, i*3)
		}
	}
	total := len(rec.slowSteps) + len(rec.fastSteps)
	if total != rec.step {
		t.Fatalf("reaction launches %d != steps %d", total, rec.step)
	}
	// Over any 3 consecutive steps exactly one slow pass.
	isSlow := make(map[int]bool, len(rec.slowSteps))
	for _, step := range rec.slowSteps {
		isSlow[step] = true
	}
	for start := 0; start+3 <= rec.step; start++ {
		n := 0
		for i := start; i < start+3; i++ {
			if isSlow[i] {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("steps [%d,%d): %d slow passes, want 1", start, start+3, n)
		}
	}
}

func TestStepSizeBounds(t *testing.T) {
	rec := &launchRecord{}
	cfg := baseConfig(4, 1)
	cfg.NxPaced = 1
	cfg.NyPaced = 1
	proto := &pacing.Protocol{}
	// An event boundary off the step grid forces a shrunk step.
	if err := proto.Schedule(1, 0.505, 0.1, 0, 0); err != nil {
		t.Fatal(err)
	}
	cfg.Protocol = proto

	s, err := New(cfg, device.NewHostDevice(decayLibrary(1.0, rec)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	floor := cfg.StepSize / 100
	shrunk := false
	for i, dt := range rec.dts {
		if dt > cfg.StepSize+1e-15 {
			t.Fatalf("dt[%d] = %g exceeds default %g", i, dt, cfg.StepSize)
		}
		if dt < floor-1e-15 {
			t.Fatalf("dt[%d] = %g below floor %g", i, dt, floor)
		}
		if dt < cfg.StepSize-1e-15 {
			shrunk = true
		}
	}
	if !shrunk {
		t.Error("expected at least one shrunk step to hit the pacing event")
	}

	// The event start must be hit exactly (the reaction sees it as a time).
	hit := false
	for _, tm := range rec.times {
		if math.Abs(tm-0.505) < 1e-12 {
			hit = true
			break
		}
	}
	if !hit {
		t.Error("pacing event time 0.505 was never reached exactly")
	}
}

func TestTimeMonotonicFromTMin(t *testing.T) {
	rec := &launchRecord{}
	cfg := baseConfig(4, 1)
	cfg.TMin = 5
	cfg.TMax = 6
	s, err := New(cfg, device.NewHostDevice(decayLibrary(1.0, rec)))
	if err != nil {
		t.Fatal(err)
	}
	if s.Time() != 5 {
		t.Fatalf("time at start = %g, want 5", s.Time())
	}
	end, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if end < 6 {
		t.Errorf("end time = %g, want >= 6", end)
	}
	if rec.times[0] != 5 {
		t.Errorf("first step ran at t=%g, want 5", rec.times[0])
	}
	for i := 1; i < len(rec.times); i++ {
		if rec.times[i] < rec.times[i-1] {
			t.Fatalf("time regressed: %g after %g", rec.times[i], rec.times[i-1])
		}
	}
}

func TestLoggedSeriesLengths(t *testing.T) {
	cfg := baseConfig(4, 1)
	cfg.LogVars = []string{"engine.time", "engine.pace", "0.membrane.v", "2.membrane.i_diff"}
	s, err := New(cfg, device.NewHostDevice(decayLibrary(1.0, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	log := s.Log()
	want := int(math.Floor((cfg.TMax-cfg.TMin)/cfg.LogInterval)) + 1
	if log.Len() != want {
		t.Errorf("log length = %d, want %d", log.Len(), want)
	}
	for _, name := range log.Names() {
		if got := len(log.Series(name)); got != log.Len() {
			t.Errorf("series %q length = %d, want %d", name, got, log.Len())
		}
	}
	times := log.Series("engine.time")
	if times[0] != cfg.TMin {
		t.Errorf("initial sample at t=%g, want %g", times[0], cfg.TMin)
	}
}

func TestLoggingDisabledWithoutVariables(t *testing.T) {
	cfg := baseConfig(4, 1)
	cfg.LogVars = nil
	s, err := New(cfg, device.NewHostDevice(decayLibrary(1.0, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Log().Len() != 0 {
		t.Errorf("log length = %d, want 0", s.Log().Len())
	}
}

func TestUnresolvedLogNameFailsWithoutLeaks(t *testing.T) {
	cfg := baseConfig(4, 1)
	cfg.LogVars = []string{"engine.time", "no.such.variable"}
	dev := &trackingDevice{Device: device.NewHostDevice(decayLibrary(1.0, nil))}
	_, err := New(cfg, dev)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if dev.live != 0 {
		t.Errorf("%d device buffers still allocated after failed init", dev.live)
	}
}

func TestShapeErrorFailsBeforeAllocation(t *testing.T) {
	cfg := baseConfig(4, 1)
	cfg.StateIn = cfg.StateIn[:3] // one short
	dev := &trackingDevice{Device: device.NewHostDevice(decayLibrary(1.0, nil))}
	_, err := New(cfg, dev)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if dev.live != 0 {
		t.Errorf("%d device buffers allocated despite shape error", dev.live)
	}
}

// failingDevice fails the n-th buffer allocation, counting from 1.
type failingDevice struct {
	device.Device
	failAt int
	calls  int
}

func (d *failingDevice) NewBuffer(n int) (device.Buffer, error) {
	d.calls++
	if d.calls == d.failAt {
		return nil, errors.New("out of device memory")
	}
	return d.Device.NewBuffer(n)
}

func TestAllocationFailureUnwinds(t *testing.T) {
	// Fail the third allocation so two buffers are live when init aborts;
	// the unwind must release both and report a DeviceError, not panic.
	cfg := baseConfig(4, 1)
	tracking := &trackingDevice{Device: device.NewHostDevice(decayLibrary(1.0, nil))}
	dev := &failingDevice{Device: tracking, failAt: 3}
	s, err := New(cfg, dev)
	if s != nil {
		t.Fatal("expected nil simulation on failed init")
	}
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if tracking.live != 0 {
		t.Errorf("%d device buffers still allocated after failed init", tracking.live)
	}
}

func TestKernelBindingFailureUnwinds(t *testing.T) {
	// A library missing an entry point fails at kernel binding, after the
	// buffers and program are already acquired.
	cfg := baseConfig(4, 1)
	lib := decayLibrary(1.0, nil)
	delete(lib, KernelFast)
	dev := &trackingDevice{Device: device.NewHostDevice(lib)}
	s, err := New(cfg, dev)
	if s != nil {
		t.Fatal("expected nil simulation on failed init")
	}
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if dev.live != 0 {
		t.Errorf("%d device buffers still allocated after failed init", dev.live)
	}
}

func TestMalformedProtocolFailsBeforeAllocation(t *testing.T) {
	// Two periodic events colliding at t=2 surface as a pacing error during
	// init, before any device buffer exists.
	cfg := baseConfig(4, 1)
	proto := &pacing.Protocol{}
	if err := proto.Schedule(1, 0, 0.5, 2, 0); err != nil {
		t.Fatal(err)
	}
	if err := proto.Schedule(1, 2, 0.5, 0, 0); err != nil {
		t.Fatal(err)
	}
	cfg.Protocol = proto
	dev := &trackingDevice{Device: device.NewHostDevice(decayLibrary(1.0, nil))}
	s, err := New(cfg, dev)
	if s != nil || err == nil {
		t.Fatal("expected failed init for a malformed protocol")
	}
	var simErr *pacing.SimultaneousEventError
	if !errors.As(err, &simErr) {
		t.Fatalf("expected SimultaneousEventError, got %v", err)
	}
	if dev.live != 0 {
		t.Errorf("%d device buffers allocated despite protocol error", dev.live)
	}
}

func TestNaNHaltReturnsSentinel(t *testing.T) {
	cfg := baseConfig(4, 1)
	cfg.LogVars = []string{"0.membrane.v"}
	lib := decayLibrary(1.0, nil)
	// Poison the state partway through the run.
	step := lib[KernelStep]
	lib[KernelStep] = func(nx, ny int, args []interface{}) error {
		state := args[3].([]float64)
		if err := step(nx, ny, args); err != nil {
			return err
		}
		if len(state) > 2 && state[0] < 0.7 {
			state[2] = math.NaN()
		}
		return nil
	}
	s, err := New(cfg, device.NewHostDevice(lib))
	if err != nil {
		t.Fatal(err)
	}
	end, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Halted() {
		t.Fatal("expected run to halt on NaN")
	}
	if end != cfg.TMin-1 {
		t.Errorf("halted run returned %g, want sentinel %g", end, cfg.TMin-1)
	}
	if end >= cfg.TMin {
		t.Error("sentinel must precede the run's start time")
	}
}

func TestEulerEquivalenceDecoupled(t *testing.T) {
	// 1-D lattice of 4 cells, 1 state, gx=0, ratio=1: each cell is an
	// independent Euler integration of dv/dt = -k*v.
	const k = 2.5
	cfg := baseConfig(4, 1)
	cfg.Gx = 0
	cfg.LogVars = []string{"engine.time"}
	s, err := New(cfg, device.NewHostDevice(decayLibrary(k, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := int(math.Floor((cfg.TMax-cfg.TMin)/cfg.LogInterval)) + 1
	if s.Log().Len() != want {
		t.Errorf("log length = %d, want %d", s.Log().Len(), want)
	}

	// Mirror the engine's step-size selection exactly.
	v := 1.0
	tm := cfg.TMin
	dt := cfg.StepSize
	dtMin := cfg.StepSize / 100
	for tm < cfg.TMax {
		v += dt * (-k * v)
		tm += dt
		dt = cfg.StepSize
		if d := cfg.TMax - tm; d > dtMin && d < dt {
			dt = d
		}
	}
	for i, got := range cfg.StateOut {
		if got != v {
			t.Errorf("cell %d final state = %g, want %g", i, got, v)
		}
	}
}

func TestPacedRegionCorner(t *testing.T) {
	// 2x2 lattice, 1x1 paced region, no coupling, no decay: only cell
	// (0,0) integrates the stimulus.
	cfg := baseConfig(2, 2)
	for i := range cfg.StateIn {
		cfg.StateIn[i] = 0
	}
	cfg.NxPaced = 1
	cfg.NyPaced = 1
	proto := &pacing.Protocol{}
	if err := proto.Schedule(1, 0, 1, 0, 0); err != nil {
		t.Fatal(err)
	}
	cfg.Protocol = proto
	cfg.LogVars = []string{"0.0.membrane.v", "1.1.membrane.v"}

	s, err := New(cfg, device.NewHostDevice(decayLibrary(0, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if math.Abs(cfg.StateOut[0]-1.0) > 1e-9 {
		t.Errorf("paced cell (0,0) = %g, want ~1.0", cfg.StateOut[0])
	}
	for i := 1; i < 4; i++ {
		if cfg.StateOut[i] != 0 {
			t.Errorf("unpaced cell %d = %g, want 0", i, cfg.StateOut[i])
		}
	}
}

func TestChunkedStepping(t *testing.T) {
	// 4 cells: chunk size is 500 + 200000/4 = 50500 steps. A long window
	// needs several chunks; each mid-run return is strictly below tmax.
	cfg := baseConfig(4, 1)
	cfg.TMax = 1000
	cfg.LogInterval = 100
	s, err := New(cfg, device.NewHostDevice(decayLibrary(1.0, nil)))
	if err != nil {
		t.Fatal(err)
	}

	mid, err := s.Step()
	if err != nil {
		t.Fatal(err)
	}
	if s.Done() {
		t.Fatal("run finished in a single chunk; expected a mid-run return")
	}
	if mid <= cfg.TMin || mid >= cfg.TMax {
		t.Fatalf("chunk boundary time = %g, want in (%g, %g)", mid, cfg.TMin, cfg.TMax)
	}

	prev := mid
	for !s.Done() {
		cur, err := s.Step()
		if err != nil {
			t.Fatal(err)
		}
		if cur < prev {
			t.Fatalf("time regressed across chunks: %g after %g", cur, prev)
		}
		prev = cur
	}
	if prev < cfg.TMax {
		t.Errorf("final time = %g, want >= %g", prev, cfg.TMax)
	}
}

func TestRunCancellationBetweenChunks(t *testing.T) {
	cfg := baseConfig(4, 1)
	cfg.TMax = 1e6 // far more steps than one chunk
	s, err := New(cfg, device.NewHostDevice(decayLibrary(0, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.Step(); err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero lattice", func(c *Config) { c.Nx = 0 }},
		{"negative conductance", func(c *Config) { c.Gx = -1 }},
		{"empty window", func(c *Config) { c.TMax = c.TMin }},
		{"zero step", func(c *Config) { c.StepSize = 0 }},
		{"ratio zero", func(c *Config) { c.Ratio = 0 }},
		{"paced region too large", func(c *Config) { c.NxPaced = 99 }},
		{"negative log interval", func(c *Config) { c.LogInterval = -1 }},
	}
	for _, tc := range cases {
		cfg := baseConfig(4, 1)
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
	cfg := baseConfig(4, 1)
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
