package engine

import "fmt"

// Log holds the sampled output series of one run. Every bound variable gets
// one series; all series grow together, one value per logging trigger.
type Log struct {
	names []string
	index map[string]int
	data  [][]float64
}

func newLog() *Log {
	return &Log{index: make(map[string]int)}
}

// Names returns the bound variable names in binding order.
func (l *Log) Names() []string { return l.names }

// Series returns the sampled values for a bound variable, or nil if the
// name was never bound.
func (l *Log) Series(name string) []float64 {
	i, ok := l.index[name]
	if !ok {
		return nil
	}
	return l.data[i]
}

// Len returns the number of samples taken so far.
func (l *Log) Len() int {
	if len(l.data) == 0 {
		return 0
	}
	return len(l.data[0])
}

// logTable binds requested variable names to their source storage, built
// once at initialization. The step loop only walks the fixed src list;
// it never looks anything up by name.
type logTable struct {
	log  *Log
	srcs []*float64

	// Derived once so unlogged buffers are never read back.
	loggingDiffusion bool
	loggingStates    bool

	interval float64
	next     float64
}

// buildLogTable resolves every requested name against the fixed scalar
// bindings (time, stimulus level, step size) and the per-cell bindings
// (diffusion current and each state component, named by flattened spatial
// index). A request naming anything else is a fatal configuration error.
func buildLogTable(cfg *Config, time, pace, dt *float64, bufs *buffers) (*logTable, error) {
	t := &logTable{log: newLog(), interval: cfg.LogInterval}

	requested := make(map[string]bool, len(cfg.LogVars))
	for _, name := range cfg.LogVars {
		requested[name] = true
	}

	t.add(requested, cfg.Model.TimeName, time)
	t.add(requested, cfg.Model.PaceName, pace)
	t.add(requested, cfg.Model.StepName, dt)

	for y := 0; y < cfg.Ny; y++ {
		for x := 0; x < cfg.Nx; x++ {
			cell := y*cfg.Nx + x
			name := cellName(cfg, x, y, cfg.Model.DiffusionName)
			if t.add(requested, name, &bufs.hostIdiff[cell]) {
				t.loggingDiffusion = true
			}
			for k, state := range cfg.Model.States {
				name := cellName(cfg, x, y, state)
				if t.add(requested, name, &bufs.hostState[cell*cfg.Model.NState+k]) {
					t.loggingStates = true
				}
			}
		}
	}

	if len(t.srcs) != len(requested) {
		return nil, configErrorf("log request contains %d unknown variable(s)", len(requested)-len(t.srcs))
	}
	return t, nil
}

func (t *logTable) add(requested map[string]bool, name string, src *float64) bool {
	if !requested[name] {
		return false
	}
	t.log.index[name] = len(t.log.names)
	t.log.names = append(t.log.names, name)
	t.log.data = append(t.log.data, nil)
	t.srcs = append(t.srcs, src)
	return true
}

// sample appends the current value of every bound variable, in binding
// order. Callers are responsible for any buffer readback first.
func (t *logTable) sample() {
	for i, src := range t.srcs {
		t.log.data[i] = append(t.log.data[i], *src)
	}
}

// cellName builds the per-cell binding name: "<x>.<name>" on a 1-D lattice,
// "<x>.<y>.<name>" on a 2-D lattice.
func cellName(cfg *Config, x, y int, name string) string {
	if cfg.Ny == 1 {
		return fmt.Sprintf("%d.%s", x, name)
	}
	return fmt.Sprintf("%d.%d.%s", x, y, name)
}
