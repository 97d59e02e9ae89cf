//go:build !occa

package device

import "fmt"

// OCCADevice stub for builds without accelerator support.
type OCCADevice struct{}

func NewOCCADevice(mode string) *OCCADevice { return &OCCADevice{} }

func (d *OCCADevice) Name() string    { return "occa (not available)" }
func (d *OCCADevice) Available() bool { return false }

func (d *OCCADevice) NewBuffer(n int) (Buffer, error) {
	return nil, fmt.Errorf("device: occa support not compiled in")
}

func (d *OCCADevice) Build(source string) (Program, error) {
	return nil, fmt.Errorf("device: occa support not compiled in")
}

func (d *OCCADevice) Finish() error { return nil }
func (d *OCCADevice) Release()      {}
