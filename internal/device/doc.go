// Package device abstracts the accelerator the simulation engine drives.
//
// The engine only needs a narrow contract: allocate device buffers, build a
// kernel program, launch named kernels over a grid, and flush the queue.
// Two backends implement it:
//
//   - OCCA: real accelerator execution (CUDA/OpenCL/...) via gocca,
//     enabled with the "occa" build tag
//   - Host: in-process execution of Go kernel functions, always available
//
// Select automatically:
//
//	dev := device.Auto(model.Kernels())
//
// Launches execute in submission order with respect to shared buffers; only
// buffer transfers and Finish block the caller.
package device
