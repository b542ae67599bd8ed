// Package registry holds the fixed set of entries an extension module
// installs into the host's namespace.
//
// Entries are declared once, in order:
//
//	reg := registry.New(
//	    registry.Capabilities("math", addFunc, mulFunc),
//	    registry.NewEntry("text", installText),
//	)
//
// RegisterAll runs each entry exactly once under the execution lock. One
// failing entry never prevents the others from installing; the failures are
// returned together as an *errors.RegistrationError and listed in the Report.
// There is no rollback: whatever installed stays installed.
//
// A panic inside an installer is recovered and reported as that entry's
// failure.
package registry
