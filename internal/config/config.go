package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/cardiosim/internal/engine"
	"github.com/san-kum/cardiosim/internal/models"
	"github.com/san-kum/cardiosim/internal/pacing"
)

const (
	DefaultNx          = 64
	DefaultStepSize    = 0.01
	DefaultTMax        = 500.0
	DefaultRatio       = 4
	DefaultLogInterval = 1.0
	DefaultStimLevel   = 0.5
	DefaultStimStart   = 10.0
	DefaultStimLength  = 2.0
	DefaultStimPeriod  = 400.0
)

// Config is a YAML run description: the lattice, the time window, the
// stimulus protocol, and what to log.
type Config struct {
	Model       string   `yaml:"model"`
	Nx          int      `yaml:"nx"`
	Ny          int      `yaml:"ny"`
	Gx          float64  `yaml:"gx"`
	Gy          float64  `yaml:"gy"`
	TMin        float64  `yaml:"t_min"`
	TMax        float64  `yaml:"t_max"`
	StepSize    float64  `yaml:"step_size"`
	Ratio       int      `yaml:"ratio"`
	PacedX      int      `yaml:"paced_x"`
	PacedY      int      `yaml:"paced_y"`
	LogInterval float64  `yaml:"log_interval"`
	LogVars     []string `yaml:"log_vars"`

	Stimulus StimulusConfig `yaml:"stimulus"`
	FHN      FHNConfig      `yaml:"fhn"`
}

// StimulusConfig describes one (optionally periodic) stimulus event.
type StimulusConfig struct {
	Level      float64 `yaml:"level"`
	Start      float64 `yaml:"start"`
	Duration   float64 `yaml:"duration"`
	Period     float64 `yaml:"period"`
	Multiplier int     `yaml:"multiplier"`
}

// FHNConfig overrides the modified FitzHugh-Nagumo coefficients. Zero
// values fall back to the model defaults.
type FHNConfig struct {
	A  float64 `yaml:"a"`
	B  float64 `yaml:"b"`
	C1 float64 `yaml:"c1"`
	C2 float64 `yaml:"c2"`
	D  float64 `yaml:"d"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:       "fhn",
		Nx:          DefaultNx,
		Ny:          1,
		Gx:          1.0,
		Gy:          0,
		TMin:        0,
		TMax:        DefaultTMax,
		StepSize:    DefaultStepSize,
		Ratio:       DefaultRatio,
		PacedX:      4,
		PacedY:      1,
		LogInterval: DefaultLogInterval,
		Stimulus: StimulusConfig{
			Level:    DefaultStimLevel,
			Start:    DefaultStimStart,
			Duration: DefaultStimLength,
			Period:   DefaultStimPeriod,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Build resolves the run file into an engine configuration and the model
// whose kernels will run it. LogVars defaults to the simulation time plus
// the membrane potential of every cell.
func (c *Config) Build() (engine.Config, *models.Model, error) {
	var m *models.Model
	switch c.Model {
	case "", "fhn":
		m = models.FitzHughNagumo(c.fhnParams())
	default:
		return engine.Config{}, nil, fmt.Errorf("config: unknown model %q", c.Model)
	}

	proto := &pacing.Protocol{}
	if c.Stimulus.Level != 0 {
		err := proto.Schedule(c.Stimulus.Level, c.Stimulus.Start,
			c.Stimulus.Duration, c.Stimulus.Period, c.Stimulus.Multiplier)
		if err != nil {
			return engine.Config{}, nil, err
		}
	}

	logVars := c.LogVars
	if len(logVars) == 0 {
		logVars = DefaultLogVars(c.Nx, c.Ny, m.Info)
	}

	cells := c.Nx * c.Ny
	ec := engine.Config{
		KernelSource: m.Source,
		Model:        m.Info,
		Nx:           c.Nx,
		Ny:           c.Ny,
		Gx:           c.Gx,
		Gy:           c.Gy,
		TMin:         c.TMin,
		TMax:         c.TMax,
		StepSize:     c.StepSize,
		StateIn:      make([]float64, cells*m.Info.NState),
		StateOut:     make([]float64, cells*m.Info.NState),
		Protocol:     proto,
		NxPaced:      c.PacedX,
		NyPaced:      c.PacedY,
		LogVars:      logVars,
		LogInterval:  c.LogInterval,
		Ratio:        c.Ratio,
	}
	return ec, m, nil
}

// DefaultLogVars names the simulation time and the first state component of
// every cell.
func DefaultLogVars(nx, ny int, info engine.ModelInfo) []string {
	vars := []string{info.TimeName}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			if ny == 1 {
				vars = append(vars, fmt.Sprintf("%d.%s", x, info.States[0]))
			} else {
				vars = append(vars, fmt.Sprintf("%d.%d.%s", x, y, info.States[0]))
			}
		}
	}
	return vars
}

func (c *Config) fhnParams() models.FHNParams {
	p := models.DefaultFHNParams()
	if c.FHN.A != 0 {
		p.A = c.FHN.A
	}
	if c.FHN.B != 0 {
		p.B = c.FHN.B
	}
	if c.FHN.C1 != 0 {
		p.C1 = c.FHN.C1
	}
	if c.FHN.C2 != 0 {
		p.C2 = c.FHN.C2
	}
	if c.FHN.D != 0 {
		p.D = c.FHN.D
	}
	return p
}
