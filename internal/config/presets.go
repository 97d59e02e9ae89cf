package config

import "sort"

// Presets are ready-made run descriptions for common experiments.
var presets = map[string]func() *Config{
	"cable": func() *Config {
		// A 1-D strand paced from one end.
		cfg := DefaultConfig()
		cfg.Nx = 128
		cfg.PacedX = 4
		return cfg
	},
	"sheet": func() *Config {
		// A 2-D sheet paced from one corner.
		cfg := DefaultConfig()
		cfg.Nx = 32
		cfg.Ny = 32
		cfg.Gy = 1.0
		cfg.PacedX = 4
		cfg.PacedY = 4
		cfg.TMax = 200
		return cfg
	},
	"single": func() *Config {
		// One isolated cell, every step logged.
		cfg := DefaultConfig()
		cfg.Nx = 1
		cfg.Gx = 0
		cfg.PacedX = 1
		cfg.TMax = 100
		cfg.LogInterval = cfg.StepSize
		return cfg
	},
}

// GetPreset returns a named preset, or nil when it does not exist.
func GetPreset(name string) *Config {
	f, ok := presets[name]
	if !ok {
		return nil
	}
	return f()
}

// ListPresets returns the available preset names, sorted.
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
