package core

import (
	"errors"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	// ErrCapacityExceeded is returned (and logged fatal) whenever a
	// fixed-size GPU buffer cap configured by RendererConfig is exceeded
	// at load time. The caller is expected to terminate.
	ErrCapacityExceeded = errors.New("renderer: buffer capacity exceeded")
	// ErrMissingDirectionalLight is returned when a scene is submitted
	// for shadow-casting rendering without the one required directional
	// light.
	ErrMissingDirectionalLight = errors.New("renderer: scene has no directional light")
	// ErrDeviceLost marks an unrecoverable submit/present failure. The
	// renderer does not attempt device recovery.
	ErrDeviceLost = errors.New("renderer: device lost")
	// ErrSurfaceOutOfDate marks a recoverable acquire/present failure
	// that should trigger a resize instead of terminating the frame loop.
	ErrSurfaceOutOfDate = errors.New("renderer: swapchain surface out of date")
)
