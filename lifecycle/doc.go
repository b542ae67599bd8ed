// Package lifecycle drives an extension module from load to ready.
//
// A Controller waits for the host's interpreter-initialized event. On the
// first event it pins the module image, resolves its namespace and runs the
// registry under the interpreter's execution lock:
//
//	AwaitingHostEvent -> Pinning -> Registering -> Ready
//	                        |            |
//	                        +-> Failed <-+
//
// Later events are logged as reentrant and rejected with
// errors.ErrAlreadyRegistered. A pinned controller refuses every unload
// request for the rest of the process.
//
// # Pinning
//
// SelfPinner locates the shared object holding this package and reopens it
// with RTLD_NODELETE, so closing the loader's own handle never unmaps it.
// When the package is linked into the main executable, or cgo is off, the
// image is static and pinning only records its path.
//
// # Failure policy
//
// PolicyDegraded keeps the namespace usable when some entries fail and at
// least one installs. PolicyStrict treats any entry failure as fatal.
// Installed entries are never rolled back.
//
// # Build contract
//
// The package fails to compile against a host package built with a
// different ABI version or flavor.
package lifecycle
