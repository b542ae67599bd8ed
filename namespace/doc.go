// Package namespace holds the host-owned extension namespace.
//
// A Namespace is an ordered set of capabilities that guests import from a
// single host module name (DefaultName, "ext"). Extensions add Funcs and
// Classes with Install while holding the interpreter's execution lock:
//
//	err := bridge.With(ctx, it, func(ctx context.Context) error {
//	    return ns.Install(ctx, &namespace.Func{
//	        Name:    "add",
//	        Params:  []wit.Type{wit.S32{}, wit.S32{}},
//	        Results: []wit.Type{wit.S32{}},
//	        Handler: func(ctx context.Context, args []any) ([]any, error) {
//	            return []any{args[0].(int32) + args[1].(int32)}, nil
//	        },
//	    })
//	})
//
// Names are unique. A second Install of the same name fails with a
// name_collision error.
//
// Bind exposes the namespace to guests as a wazero host module. Every call
// from a guest runs under the bridge; wazero hands the guest's context to the
// host function, so the call re-enters the scope the guest was started in.
package namespace
