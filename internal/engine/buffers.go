package engine

import "github.com/san-kum/cardiosim/internal/device"

// buffers owns the device-resident state of one run together with the host
// mirrors used for uploads and readbacks. Nothing outside this type touches
// the device allocations.
type buffers struct {
	state device.Buffer // nx*ny*nState
	idiff device.Buffer // nx*ny
	deriv device.Buffer // nx*ny*nState
	cache device.Buffer // nx*ny*nCache

	hostState []float64
	hostIdiff []float64

	released bool
}

// allocBuffers validates the initial state shape, creates the device
// buffers, and uploads the initial contents. On any failure the partial
// allocation is released before the error is returned.
func allocBuffers(dev device.Device, cfg *Config) (*buffers, error) {
	cells := cfg.Cells()
	nState := cells * cfg.Model.NState
	if len(cfg.StateIn) != nState {
		return nil, configErrorf("initial state has %d values, want nx*ny*n_state = %d", len(cfg.StateIn), nState)
	}
	if len(cfg.StateOut) != nState {
		return nil, configErrorf("output state has %d values, want nx*ny*n_state = %d", len(cfg.StateOut), nState)
	}

	b := &buffers{
		hostState: make([]float64, nState),
		hostIdiff: make([]float64, cells),
	}
	copy(b.hostState, cfg.StateIn)

	var err error
	if b.state, err = dev.NewBuffer(nState); err != nil {
		b.release()
		return nil, &DeviceError{Op: "state allocation", Err: err}
	}
	if b.idiff, err = dev.NewBuffer(cells); err != nil {
		b.release()
		return nil, &DeviceError{Op: "diffusion-current allocation", Err: err}
	}
	if b.deriv, err = dev.NewBuffer(nState); err != nil {
		b.release()
		return nil, &DeviceError{Op: "derivative allocation", Err: err}
	}
	// A model with nothing to cache still gets a placeholder allocation so
	// kernel argument binding stays uniform.
	nCache := cells * cfg.Model.NCache
	if nCache == 0 {
		nCache = 1
	}
	if b.cache, err = dev.NewBuffer(nCache); err != nil {
		b.release()
		return nil, &DeviceError{Op: "cache allocation", Err: err}
	}

	if err = b.state.Upload(b.hostState); err != nil {
		b.release()
		return nil, &DeviceError{Op: "state upload", Err: err}
	}
	if err = b.idiff.Upload(b.hostIdiff); err != nil {
		b.release()
		return nil, &DeviceError{Op: "diffusion-current upload", Err: err}
	}
	return b, nil
}

// readbackState synchronously copies the device state buffer into its host
// mirror. Blocking and slow; called only when logging or run end needs it.
func (b *buffers) readbackState() error {
	if err := b.state.Download(b.hostState); err != nil {
		return &DeviceError{Op: "state readback", Err: err}
	}
	return nil
}

// readbackIdiff synchronously copies the diffusion-current buffer into its
// host mirror.
func (b *buffers) readbackIdiff() error {
	if err := b.idiff.Download(b.hostIdiff); err != nil {
		return &DeviceError{Op: "diffusion-current readback", Err: err}
	}
	return nil
}

// release frees all device allocations. Idempotent, and safe on a partially
// allocated set: every error path downstream of allocBuffers unwinds through
// here.
func (b *buffers) release() {
	if b.released {
		return
	}
	b.released = true
	if b.cache != nil {
		b.cache.Release()
	}
	if b.deriv != nil {
		b.deriv.Release()
	}
	if b.idiff != nil {
		b.idiff.Release()
	}
	if b.state != nil {
		b.state.Release()
	}
}
