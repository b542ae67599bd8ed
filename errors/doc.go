// Package errors provides structured error types for the host extension core.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the entry or field path, Go/WIT type names, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseConvert, errors.KindOverflow).
//		Path("point", "x").
//		GoType("int64").
//		WitType("s32").
//		Detail("value %d does not fit", v).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Overflow(errors.PhaseConvert, path, v, "s32")
//	err := errors.NameCollision("ext", "add")
//
// Registration failures are reported per entry through RegistrationError,
// which never aborts the remaining entries.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
