// Package bridge guards every crossing between native code and the host's
// interpreter.
//
// The host owns exactly one interpreter and one ExecutionLock. Native code
// touches interpreter state only inside With or Call:
//
//	err := bridge.With(ctx, it, func(ctx context.Context) error {
//	    scope, _ := bridge.ScopeFrom(ctx, it)
//	    mod := scope.Runtime().Module("ext")
//	    ...
//	})
//
// The lock is released on every exit path, including panics inside op.
// There is no timeout and no cancellation: acquisition waits until the
// current holder releases, and an op runs to completion once started.
//
// # Reentrancy
//
// The context passed to op carries the active scope. Calling With again with
// that context (directly, or from a host function the interpreter invoked
// with it) runs the nested op without acquiring the lock again.
//
// # Caller obligations
//
// Interpreter objects obtained inside op (modules, functions, memory views)
// must not be used after With returns. Scope.Valid reports false once the
// scope is released, but the bridge cannot police objects that escaped it.
// A context carrying a scope must stay on the goroutine that received it.
package bridge
