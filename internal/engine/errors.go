package engine

import "fmt"

// ConfigError reports an invalid simulation configuration: bad lattice or
// state shapes, an invalid time window, or a log request naming unknown
// variables. Configuration errors are fatal and always surface before the
// first step runs.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "engine: invalid configuration: " + e.Reason
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// DeviceError reports a fatal accelerator failure: allocation, program
// build, kernel binding, launch, or transfer. The failed run is torn down
// before the error is returned; no operation is retried.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("engine: device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
