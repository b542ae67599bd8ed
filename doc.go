// Package hostext lets a native Go extension module install callable surface
// into a single, already running, host-owned wazero interpreter.
//
// The library is organized into several packages with distinct responsibilities:
//
//	hostext/          Root package with Memory and Allocator interfaces
//	├── bridge/       Execution lock, interpreter handle, scoped access
//	├── convert/      Go <-> interpreter value conversion (WIT typed)
//	├── resource/     Handle table tying native objects to interpreter handles
//	├── namespace/    Extension namespace and its wazero host module binding
//	├── registry/     Ordered registration entries
//	├── lifecycle/    Host event state machine, self-pinning
//	├── host/         Reference host owning the interpreter
//	├── config/       HCL configuration
//	├── errors/       Structured error types
//	├── demo/         Demo entries used by the CLI
//	└── cmd/hostext/  CLI and interactive TUI
//
// # Lifecycle
//
// The host owns the interpreter and fires one event when it is ready:
//
//	h, err := host.New(ctx, host.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close(ctx)
//
//	ext := lifecycle.New(lifecycle.Env{
//	    Interpreter: h.Interpreter(),
//	    Resolver:    h,
//	    Pinner:      lifecycle.SelfPinner{},
//	}, registry.New(demo.Entries()...), lifecycle.WithModuleName("demo"))
//
//	h.Subscribe(host.EventInterpreterInitialized, ext.OnInterpreterInitialized)
//	if err := h.Load(ext); err != nil {
//	    log.Fatal(err)
//	}
//	if err := h.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// On the event the controller pins its own image so it is never unloaded, then
// installs every registry entry into the "ext" namespace. Guests import from it:
//
//	mod, err := h.Instantiate(ctx, "guest", guestWasm)
//	out, err := h.Call(ctx, mod, "run", 2, 3)
//
// # Thread Safety
//
// Every access to the interpreter or a namespace goes through bridge.With,
// which holds the interpreter's execution lock. Reentrancy is carried by the
// context: a context derived from an active scope re-enters without blocking.
// Do not hand such a context to another goroutine.
//
// # Unloading
//
// Extension modules are never unloaded. Once pinned, host unload requests are
// rejected for the rest of the process.
package hostext
