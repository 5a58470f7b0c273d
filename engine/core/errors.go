package core

import (
	"errors"
)

// Error kinds. Call sites wrap these with fmt.Errorf("...: %w", ErrX) and
// callers match them with errors.Is.
var (
	ErrBackendInitFailure     = errors.New("backend init failure")
	ErrResourceNotFound       = errors.New("resource not found")
	ErrMalformedAsset         = errors.New("malformed asset")
	ErrIO                     = errors.New("io error")
	ErrOutOfMemory            = errors.New("out of memory")
	ErrPipelineCompileFailure = errors.New("pipeline compile failure")
	ErrSwapchainOutOfDate     = errors.New("swapchain out of date")
	ErrFenceTimeout           = errors.New("fence timeout")
	ErrInvalidState           = errors.New("invalid state")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrBackendInitFailure, "BackendInitFailure"},
	{ErrResourceNotFound, "ResourceNotFound"},
	{ErrMalformedAsset, "MalformedAsset"},
	{ErrIO, "IOError"},
	{ErrOutOfMemory, "OutOfMemory"},
	{ErrPipelineCompileFailure, "PipelineCompileFailure"},
	{ErrSwapchainOutOfDate, "SwapchainOutOfDate"},
	{ErrFenceTimeout, "FenceTimeout"},
	{ErrInvalidState, "InvalidState"},
}

// ErrorKind returns the name of the first error kind found in err's chain.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// IsRecoverable reports whether the frame loop can continue after err.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSwapchainOutOfDate) || errors.Is(err, ErrFenceTimeout)
}
