//go:build hostext_debug

package host

// Debug builds carry extra bookkeeping in shared structures and must not be
// mixed with release builds.
const abiFlavor = 1
