// Package storage defines persistence contracts for kernels launched by the
// bridge.
package storage
