// Package host is the interpreter owner that extensions plug into.
//
// A process has at most one Host. It owns the wazero runtime, its execution
// lock and the extension namespaces. Extensions never create interpreters;
// they subscribe to EventInterpreterInitialized and install into the
// namespace the host resolves for them:
//
//	h, err := host.New(ctx, host.Config{})
//	defer h.Close(ctx)
//
//	h.Subscribe(host.EventInterpreterInitialized, ctrl.OnInterpreterInitialized)
//	h.Load(ctrl)
//	err = h.Start(ctx)
//
//	mod, err := h.Instantiate(ctx, "guest", wasm)
//	out, err := h.Call(ctx, mod, "run", 2, 3)
//
// Instantiate binds every namespace as a host module named after it before
// the guest is instantiated, so guests import from "ext" directly.
//
// # Unload
//
// Unload asks the extension first. A pinned extension always refuses, and
// the host keeps it.
//
// # Build contract
//
// ABI combines the contract version with the build flavor (-tags
// hostext_debug). Extensions compare it with their own at compile time.
package host
