//go:build !hostext_debug

package host

const abiFlavor = 0
