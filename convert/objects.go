package convert

import (
	"sync"

	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/resource"
)

// Objects ties native object lifetime to interpreter-side handles.
// Each class gets a type id so a handle for one class cannot be used as
// another.
type Objects struct {
	table *resource.Table
	types map[string]uint32
	names map[uint32]string
	mu    sync.Mutex
}

// NewObjects creates an object store over table. A nil table gets a fresh one.
func NewObjects(table *resource.Table) *Objects {
	if table == nil {
		table = resource.NewTable()
	}
	return &Objects{
		table: table,
		types: make(map[string]uint32),
		names: make(map[uint32]string),
	}
}

// TypeID returns the id for class, assigning one on first use.
func (o *Objects) TypeID(class string) uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.types[class]; ok {
		return id
	}
	id := uint32(len(o.types) + 1)
	o.types[class] = id
	o.names[id] = class
	return id
}

// ClassName returns the class registered under id.
func (o *Objects) ClassName(id uint32) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.names[id]
}

// Own hands v to the interpreter and returns its handle.
func (o *Objects) Own(typeID uint32, v any) (resource.Handle, error) {
	return o.table.Insert(typeID, v)
}

// Get returns the object behind h without borrowing it.
func (o *Objects) Get(h resource.Handle, typeID uint32) (any, error) {
	return o.table.Get(h, typeID)
}

// Borrow returns the object behind h and a release func. The object cannot
// be destroyed until release is called.
func (o *Objects) Borrow(h resource.Handle, typeID uint32) (any, func(), error) {
	return o.table.Borrow(h, typeID)
}

// Drop releases the interpreter's reference and runs the native destructor.
func (o *Objects) Drop(h resource.Handle, typeID uint32) error {
	if err := o.table.Drop(h, typeID); err != nil {
		return errors.Wrap(errors.PhaseConvert, errors.KindInvalidInput, err,
			"drop "+o.ClassName(typeID))
	}
	return nil
}

// Len returns the number of live objects.
func (o *Objects) Len() int {
	return o.table.Len()
}

// Table returns the underlying handle table.
func (o *Objects) Table() *resource.Table {
	return o.table
}
