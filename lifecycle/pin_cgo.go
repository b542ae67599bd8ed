//go:build linux && cgo

package lifecycle

/*
#define _GNU_SOURCE
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

// Any symbol in this image works; dladdr maps it back to the image file.
static int hostext_anchor;

static const char* hostext_image_path(void) {
	Dl_info info;
	if (dladdr((void*)&hostext_anchor, &info) == 0 || info.dli_fname == NULL) {
		return NULL;
	}
	return info.dli_fname;
}

// Take a reference that keeps the image mapped even after every other
// handle is closed. NOLOAD first, so an image loaded under another name is
// not opened twice.
static void* hostext_pin(const char* path) {
	void* h = dlopen(path, RTLD_NOW | RTLD_NODELETE | RTLD_NOLOAD);
	if (h == NULL) {
		h = dlopen(path, RTLD_NOW | RTLD_NODELETE);
	}
	return h;
}

static void* hostext_pin_main(void) {
	return dlopen(NULL, RTLD_NOW);
}

static const char* hostext_dlerror(void) {
	return dlerror();
}
*/
import "C"

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/wippyai/wasm-hostext/errors"
)

func dlerr() error {
	if e := C.hostext_dlerror(); e != nil {
		return fmt.Errorf("%s", C.GoString(e))
	}
	return nil
}

func selfPin() (Pin, error) {
	cpath := C.hostext_image_path()
	if cpath == nil {
		return Pin{}, errors.PinFailure("dladdr could not resolve the extension image", nil)
	}
	path := C.GoString(cpath)

	if isMainExecutable(path) {
		h := C.hostext_pin_main()
		if h == nil {
			return Pin{}, errors.PinFailure("dlopen(NULL) failed", dlerr())
		}
		return Pin{Path: path, Handle: uintptr(h), Static: true}, nil
	}

	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	h := C.hostext_pin(cs)
	if h == nil {
		return Pin{}, errors.PinFailure(fmt.Sprintf("dlopen(%q) failed", path), dlerr())
	}
	// Never closed.
	return Pin{Path: path, Handle: uintptr(h)}, nil
}

func isMainExecutable(path string) bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	a, err := os.Stat(path)
	if err != nil {
		return false
	}
	b, err := os.Stat(exe)
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}
