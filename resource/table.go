package resource

import (
	"fmt"
	"sync"

	"github.com/wippyai/wasm-hostext/errors"
)

// Handle is an opaque reference to a native object held by the interpreter.
// Handle 0 is reserved and always invalid.
type Handle uint32

// EventType identifies a resource lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
	EventBorrowed
	EventBorrowReturned
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	case EventBorrowed:
		return "borrowed"
	case EventBorrowReturned:
		return "borrow-returned"
	}
	return fmt.Sprintf("event(%d)", uint8(t))
}

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is implemented by native objects that need destruction when the
// interpreter releases them.
type Dropper interface {
	Drop()
}

type entry struct {
	value   any
	typeID  uint32
	borrows uint32
	valid   bool
}

// Table maps handles to native objects with type and borrow tracking.
type Table struct {
	entries   []entry
	freeList  []Handle
	observers []Observer
	mu        sync.Mutex
	obsMu     sync.RWMutex
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 16),
		freeList: make([]Handle, 0, 4),
	}
}

// Insert stores v and returns the handle the interpreter will own.
func (t *Table) Insert(typeID uint32, v any) (Handle, error) {
	if v == nil {
		return 0, errors.InvalidInput(errors.PhaseConvert, "cannot own a nil object")
	}

	t.mu.Lock()
	e := entry{value: v, typeID: typeID, valid: true}
	var h Handle
	if n := len(t.freeList); n > 0 {
		h = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[h-1] = e
	} else {
		if uint64(len(t.entries)) >= uint64(^uint32(0)) {
			t.mu.Unlock()
			return 0, errors.Overflow(errors.PhaseConvert, nil, len(t.entries), "handle")
		}
		t.entries = append(t.entries, e)
		h = Handle(len(t.entries))
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, TypeID: typeID, Value: v})
	return h, nil
}

// lookup returns the live entry for h. Caller holds t.mu.
func (t *Table) lookup(h Handle, typeID uint32) (*entry, error) {
	if h == 0 || int(h) > len(t.entries) {
		return nil, errors.NotFound(errors.PhaseConvert, "handle", fmt.Sprint(h))
	}
	e := &t.entries[h-1]
	if !e.valid {
		return nil, errors.NotFound(errors.PhaseConvert, "handle", fmt.Sprint(h))
	}
	if e.typeID != typeID {
		return nil, errors.New(errors.PhaseConvert, errors.KindTypeMismatch).
			Value(h).
			Detail("handle %d has type %d, want %d", h, e.typeID, typeID).
			Build()
	}
	return e, nil
}

// Get returns the object behind h if it has the expected type.
func (t *Table) Get(h Handle, typeID uint32) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.lookup(h, typeID)
	if err != nil {
		return nil, err
	}
	return e.value, nil
}

// Borrow returns the object and a release function. Drop is refused until
// every borrow is released. Release is idempotent.
func (t *Table) Borrow(h Handle, typeID uint32) (any, func(), error) {
	t.mu.Lock()
	e, err := t.lookup(h, typeID)
	if err != nil {
		t.mu.Unlock()
		return nil, nil, err
	}
	e.borrows++
	v := e.value
	t.mu.Unlock()

	t.notify(Event{Type: EventBorrowed, Handle: h, TypeID: typeID, Value: v})

	var once sync.Once
	release := func() {
		once.Do(func() {
			t.mu.Lock()
			if int(h) <= len(t.entries) {
				if e := &t.entries[h-1]; e.valid && e.borrows > 0 {
					e.borrows--
				}
			}
			t.mu.Unlock()
			t.notify(Event{Type: EventBorrowReturned, Handle: h, TypeID: typeID, Value: v})
		})
	}
	return v, release, nil
}

// Drop is the interpreter-side finalization of h. It removes the entry and
// destroys the native object if it implements Dropper.
func (t *Table) Drop(h Handle, typeID uint32) error {
	t.mu.Lock()
	e, err := t.lookup(h, typeID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if e.borrows > 0 {
		n := e.borrows
		t.mu.Unlock()
		return errors.New(errors.PhaseConvert, errors.KindInvalidInput).
			Value(h).
			Detail("cannot drop handle %d with %d outstanding borrows", h, n).
			Build()
	}
	v := e.value
	*e = entry{}
	t.freeList = append(t.freeList, h)
	t.mu.Unlock()

	if d, ok := v.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{Type: EventDropped, Handle: h, TypeID: typeID, Value: v})
	return nil
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries) - len(t.freeList)
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
