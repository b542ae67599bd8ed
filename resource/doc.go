// Package resource ties native objects to interpreter-side handles.
//
// When an extension hands a native object to the interpreter, the object is
// stored in a Table and the interpreter receives an integer Handle. The
// native object stays alive until the interpreter drops the handle:
//
//	table := resource.NewTable()
//
//	// Native object becomes interpreter-owned
//	h, err := table.Insert(counterType, &Counter{})
//
//	// Method calls borrow it for the duration of the call
//	v, release, err := table.Borrow(h, counterType)
//	defer release()
//
//	// Interpreter-side finalization destroys the native object
//	err = table.Drop(h, counterType)
//
// # Destruction
//
// Values implementing Dropper are destroyed by Drop. Drop refuses while any
// borrow is outstanding, so a native destructor never runs while the
// interpreter still uses the object.
//
// Tables belong to a pinned extension module and live for the rest of the
// process. There is no Close: the interpreter may hold handles until exit.
//
// # Observers
//
// Subscribe receives lifecycle events for logging and tests:
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    if e.Type == resource.EventDropped { ... }
//	}))
package resource
