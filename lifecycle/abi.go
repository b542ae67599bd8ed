package lifecycle

import "github.com/wippyai/wasm-hostext/host"

// abiVersion is the contract this extension core was built against.
const abiVersion = 1

// ABI is this build's contract: version plus build flavor.
const ABI = abiVersion<<8 | abiFlavor

// Fails to compile when the host and the extension disagree on ABI. A
// negative difference is an invalid array length, a positive one a type
// mismatch.
var _ [0]struct{} = [host.ABI - ABI]struct{}{}
