package types

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory marks a DeviceError caused by exhausted device memory.
var ErrOutOfMemory = errors.New("out of memory")

// ModelLoadError reports a missing, malformed or incompatible model.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// DeviceError reports an unavailable device or an out-of-memory condition.
type DeviceError struct {
	Device Device
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s on device %q: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IOError reports a failure creating the output directory or writing an artifact.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
