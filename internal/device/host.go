package device

import "fmt"

// KernelFunc is a host-side kernel body. It receives the launch grid and the
// launch arguments with every Buffer argument already resolved to its backing
// []float64, so the body mutates device memory in place exactly like a real
// kernel would.
type KernelFunc func(nx, ny int, args []interface{}) error

// Library maps kernel entry-point names to host implementations. It stands
// in for compiled program source on the host device.
type Library map[string]KernelFunc

// HostDevice executes kernels synchronously on the CPU, in submission order.
// It is always available and serves as the reference device for tests and as
// the fallback when no accelerator is present.
type HostDevice struct {
	lib      Library
	released bool
}

func NewHostDevice(lib Library) *HostDevice {
	return &HostDevice{lib: lib}
}

func (d *HostDevice) Name() string    { return "host" }
func (d *HostDevice) Available() bool { return true }

func (d *HostDevice) NewBuffer(n int) (Buffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("device: buffer size must be positive, got %d", n)
	}
	return &hostBuffer{data: make([]float64, n)}, nil
}

// Build ignores the kernel source text: the host device runs the Go kernel
// library it was constructed with. An empty library is a build failure so
// misconfiguration surfaces at the same point it would on a real device.
func (d *HostDevice) Build(source string) (Program, error) {
	if len(d.lib) == 0 {
		return nil, &BuildError{Err: fmt.Errorf("host device has no kernel library")}
	}
	return &hostProgram{lib: d.lib}, nil
}

// Finish is a no-op: host launches complete before Launch returns.
func (d *HostDevice) Finish() error { return nil }

func (d *HostDevice) Release() { d.released = true }

type hostBuffer struct {
	data     []float64
	released bool
}

func (b *hostBuffer) Len() int { return len(b.data) }

func (b *hostBuffer) Upload(src []float64) error {
	if len(src) != len(b.data) {
		return fmt.Errorf("device: upload size %d does not match buffer size %d", len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

func (b *hostBuffer) Download(dst []float64) error {
	if len(dst) != len(b.data) {
		return fmt.Errorf("device: download size %d does not match buffer size %d", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

func (b *hostBuffer) Release() { b.released = true }

type hostProgram struct {
	lib Library
}

func (p *hostProgram) Kernel(name string) (Kernel, error) {
	fn, ok := p.lib[name]
	if !ok {
		return nil, fmt.Errorf("device: kernel %q not found in program", name)
	}
	return &hostKernel{fn: fn}, nil
}

func (p *hostProgram) Release() {}

type hostKernel struct {
	fn KernelFunc
}

func (k *hostKernel) Launch(nx, ny int, args ...interface{}) error {
	resolved := make([]interface{}, len(args))
	for i, a := range args {
		if b, ok := a.(*hostBuffer); ok {
			resolved[i] = b.data
		} else {
			resolved[i] = a
		}
	}
	return k.fn(nx, ny, resolved)
}
