package device

import "fmt"

// Device is the narrow contract the engine drives: allocate buffers, build a
// program, launch kernels, and wait for the queue to drain. Launches are
// asynchronous but execute in submission order with respect to the buffers
// they touch; only Upload, Download and Finish block the caller.
type Device interface {
	Name() string
	Available() bool
	NewBuffer(n int) (Buffer, error)
	Build(source string) (Program, error)
	Finish() error
	Release()
}

// Buffer is a device-resident array of n scalars with a blocking
// host transfer in each direction.
type Buffer interface {
	Len() int
	Upload(src []float64) error
	Download(dst []float64) error
	Release()
}

// Program is a compiled kernel program exposing named entry points.
type Program interface {
	Kernel(name string) (Kernel, error)
	Release()
}

// Kernel is a single entry point. Launch enqueues one execution over an
// nx by ny grid; scalar arguments and Buffer handles are passed in the
// order fixed by the kernel's signature.
type Kernel interface {
	Launch(nx, ny int, args ...interface{}) error
}

// BuildError reports a program compilation failure together with the
// device compiler's diagnostic log.
type BuildError struct {
	Log string
	Err error
}

func (e *BuildError) Error() string {
	if e.Log != "" {
		return fmt.Sprintf("device: program build failed: %v\n%s", e.Err, e.Log)
	}
	return fmt.Sprintf("device: program build failed: %v", e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Auto returns the OCCA device when the binary was built with accelerator
// support and a device is present, otherwise the host device.
func Auto(lib Library) Device {
	if d := NewOCCADevice(""); d.Available() {
		return d
	}
	return NewHostDevice(lib)
}
