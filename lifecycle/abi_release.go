//go:build !hostext_debug

package lifecycle

const abiFlavor = 0
