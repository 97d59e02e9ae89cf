//go:build occa

package device

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"
)

// OCCADevice drives an accelerator through the OCCA runtime. Scalars cross
// the boundary as float32; the engine works in float64 and conversion happens
// only here.
type OCCADevice struct {
	dev       *gocca.OCCADevice
	mode      string
	available bool
}

// NewOCCADevice opens a device in the given OCCA mode ("CUDA", "OpenCL",
// "Serial", ...). An empty mode selects OpenCL. A failed open yields an
// unavailable device rather than an error so callers can fall back.
func NewOCCADevice(mode string) *OCCADevice {
	if mode == "" {
		mode = "OpenCL"
	}
	dev, err := gocca.NewDevice(fmt.Sprintf(`{"mode": %q}`, mode))
	if err != nil {
		return &OCCADevice{mode: mode}
	}
	return &OCCADevice{dev: dev, mode: mode, available: true}
}

func (d *OCCADevice) Name() string    { return "occa (" + d.mode + ")" }
func (d *OCCADevice) Available() bool { return d.available }

func (d *OCCADevice) NewBuffer(n int) (Buffer, error) {
	if !d.available {
		return nil, fmt.Errorf("device: occa device not available")
	}
	if n <= 0 {
		return nil, fmt.Errorf("device: buffer size must be positive, got %d", n)
	}
	mem := d.dev.MallocFloat32(make([]float32, n))
	return &occaBuffer{mem: mem, n: n}, nil
}

func (d *OCCADevice) Build(source string) (Program, error) {
	if !d.available {
		return nil, fmt.Errorf("device: occa device not available")
	}
	return &occaProgram{dev: d.dev, source: source}, nil
}

func (d *OCCADevice) Finish() error {
	if d.available {
		d.dev.Finish()
	}
	return nil
}

func (d *OCCADevice) Release() {
	if d.available {
		d.dev.Free()
		d.available = false
	}
}

type occaBuffer struct {
	mem *gocca.OCCAMemory
	n   int
}

func (b *occaBuffer) Len() int { return b.n }

func (b *occaBuffer) Upload(src []float64) error {
	if len(src) != b.n {
		return fmt.Errorf("device: upload size %d does not match buffer size %d", len(src), b.n)
	}
	tmp := make([]float32, b.n)
	for i, v := range src {
		tmp[i] = float32(v)
	}
	b.mem.CopyFrom(unsafe.Pointer(&tmp[0]), int64(b.n*4))
	return nil
}

func (b *occaBuffer) Download(dst []float64) error {
	if len(dst) != b.n {
		return fmt.Errorf("device: download size %d does not match buffer size %d", len(dst), b.n)
	}
	tmp := make([]float32, b.n)
	b.mem.CopyToFloat32(tmp)
	for i, v := range tmp {
		dst[i] = float64(v)
	}
	return nil
}

func (b *occaBuffer) Release() {
	if b.mem != nil {
		b.mem.Free()
		b.mem = nil
	}
}

// occaProgram compiles entry points on demand: OCCA builds one kernel per
// BuildKernel call from the shared source text.
type occaProgram struct {
	dev     *gocca.OCCADevice
	source  string
	kernels []*gocca.OCCAKernel
}

func (p *occaProgram) Kernel(name string) (Kernel, error) {
	k, err := p.dev.BuildKernel(p.source, name)
	if err != nil {
		return nil, &BuildError{Log: err.Error(), Err: fmt.Errorf("building kernel %q", name)}
	}
	p.kernels = append(p.kernels, k)
	return &occaKernel{k: k}, nil
}

func (p *occaProgram) Release() {
	for _, k := range p.kernels {
		if k != nil {
			k.Free()
		}
	}
	p.kernels = nil
}

type occaKernel struct {
	k *gocca.OCCAKernel
}

func (k *occaKernel) Launch(nx, ny int, args ...interface{}) error {
	resolved := make([]interface{}, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case *occaBuffer:
			resolved[i] = v.mem
		case float64:
			resolved[i] = float32(v)
		case int:
			resolved[i] = int32(v)
		default:
			resolved[i] = a
		}
	}
	return k.k.RunWithArgs(resolved...)
}
