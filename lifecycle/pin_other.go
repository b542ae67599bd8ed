//go:build !linux || !cgo

package lifecycle

import (
	"os"

	"github.com/wippyai/wasm-hostext/errors"
)

// Without a dynamic loader the extension is linked into the executable and
// is resident until exit.
func selfPin() (Pin, error) {
	path, err := os.Executable()
	if err != nil {
		return Pin{}, errors.PinFailure("cannot resolve executable", err)
	}
	return Pin{Path: path, Static: true}, nil
}
