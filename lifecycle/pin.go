package lifecycle

import (
	"context"
	"sync"
)

// Pin describes how the extension image was pinned into the process.
type Pin struct {
	// Path is the file the extension code was loaded from.
	Path string
	// Handle is the retained loader handle, 0 for static images.
	Handle uintptr
	// Static is true when the code is part of the main executable and can
	// never be unloaded.
	Static bool
}

// Pinner makes the extension image resident for the rest of the process.
type Pinner interface {
	Pin(ctx context.Context) (Pin, error)
}

// PinnerFunc adapts a function to Pinner.
type PinnerFunc func(ctx context.Context) (Pin, error)

func (f PinnerFunc) Pin(ctx context.Context) (Pin, error) { return f(ctx) }

// SelfPinner pins the image that contains this package. The first result is
// kept for the process; later calls return it unchanged.
type SelfPinner struct{}

var (
	selfOnce sync.Once
	selfPinV Pin
	selfErr  error
)

func (SelfPinner) Pin(context.Context) (Pin, error) {
	selfOnce.Do(func() {
		selfPinV, selfErr = selfPin()
	})
	return selfPinV, selfErr
}
