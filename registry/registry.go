package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostext/bridge"
	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/namespace"
)

// Entry installs one named piece of extension surface into a namespace.
type Entry interface {
	Name() string
	Install(ctx context.Context, ns *namespace.Namespace) error
}

// EntryFunc adapts a function to Entry.
type EntryFunc struct {
	fn   func(ctx context.Context, ns *namespace.Namespace) error
	name string
}

// NewEntry creates an entry that runs fn.
func NewEntry(name string, fn func(ctx context.Context, ns *namespace.Namespace) error) *EntryFunc {
	return &EntryFunc{name: name, fn: fn}
}

func (e *EntryFunc) Name() string { return e.name }

func (e *EntryFunc) Install(ctx context.Context, ns *namespace.Namespace) error {
	return e.fn(ctx, ns)
}

// Capabilities creates an entry that installs caps in order.
func Capabilities(name string, caps ...namespace.Capability) *EntryFunc {
	return NewEntry(name, func(ctx context.Context, ns *namespace.Namespace) error {
		for _, c := range caps {
			if err := ns.Install(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// Report is the outcome of RegisterAll.
type Report struct {
	Namespace string
	Installed []string
	Failed    []*errors.EntryError
}

// Total returns how many entries ran.
func (r *Report) Total() int {
	return len(r.Installed) + len(r.Failed)
}

// Degraded reports whether some, but not all, entries failed.
func (r *Report) Degraded() bool {
	return len(r.Failed) > 0 && len(r.Installed) > 0
}

// Registry is the fixed, ordered set of entries an extension module installs.
type Registry struct {
	report  *Report
	entries []Entry
	mu      sync.Mutex
	started bool
}

// New creates a registry. The entry set cannot change afterwards.
func New(entries ...Entry) *Registry {
	return &Registry{entries: append([]Entry(nil), entries...)}
}

// Entries returns the entries in declaration order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Report returns the result of the completed RegisterAll, or nil.
func (r *Registry) Report() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// RegisterAll installs every entry into ns, in declaration order, under the
// interpreter's execution lock. A failing entry does not stop the ones after
// it and nothing is rolled back. The error aggregates every failed entry as
// a *errors.RegistrationError.
//
// Entries run once per registry. Later calls return ErrAlreadyRegistered
// without touching ns.
func (r *Registry) RegisterAll(ctx context.Context, ns *namespace.Namespace) (*Report, error) {
	if ns == nil {
		return nil, errors.InvalidInput(errors.PhaseRegister, "nil namespace")
	}

	r.mu.Lock()
	if r.started {
		report := r.report
		r.mu.Unlock()
		Logger().Warn("registration requested again", zap.String("namespace", ns.Name()))
		return report, errors.AlreadyRegistered(fmt.Sprintf("%d entries already ran", len(r.entries)))
	}
	r.started = true
	r.mu.Unlock()

	report := &Report{Namespace: ns.Name()}
	failures := &errors.RegistrationError{Namespace: ns.Name()}

	err := bridge.With(ctx, ns.Owner(), func(ctx context.Context) error {
		for i, e := range r.entries {
			name := entryName(e)
			if err := install(ctx, e, ns); err != nil {
				failures.Add(i, name, err)
				report.Failed = append(report.Failed, failures.Entries[len(failures.Entries)-1])
				Logger().Warn("entry failed",
					zap.String("namespace", ns.Name()),
					zap.Int("index", i),
					zap.String("entry", name),
					zap.Error(err))
				continue
			}
			report.Installed = append(report.Installed, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.report = report
	r.mu.Unlock()

	Logger().Info("registration complete",
		zap.String("namespace", ns.Name()),
		zap.Int("installed", len(report.Installed)),
		zap.Int("failed", len(report.Failed)))

	return report, failures.Err()
}

// install runs one entry, turning a panic into that entry's failure.
func install(ctx context.Context, e Entry, ns *namespace.Namespace) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Wrap(errors.PhaseRegister, errors.KindRegistration,
				fmt.Errorf("panic: %v", p), "installer panicked")
		}
	}()
	if e == nil {
		return errors.InvalidInput(errors.PhaseRegister, "nil entry")
	}
	return e.Install(ctx, ns)
}

func entryName(e Entry) string {
	if e == nil {
		return "<nil>"
	}
	return e.Name()
}
