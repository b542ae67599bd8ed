package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhasePin       Phase = "pin"       // module self-pinning
	PhaseRegister  Phase = "register"  // namespace installation
	PhaseConvert   Phase = "convert"   // native <-> interpreter values
	PhaseBridge    Phase = "bridge"    // execution lock scopes
	PhaseLifecycle Phase = "lifecycle" // host event handling
	PhaseHost      Phase = "host"      // host interpreter operations
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindPinFailure        Kind = "pin_failure"
	KindRegistration      Kind = "registration"
	KindAlreadyRegistered Kind = "already_registered"
	KindNameCollision     Kind = "name_collision"
	KindReentrantEvent    Kind = "reentrant_event"
	KindPinned            Kind = "pinned"
	KindAlreadyExists     Kind = "already_exists"
	KindTypeMismatch      Kind = "type_mismatch"
	KindOverflow          Kind = "overflow"
	KindInvalidUTF8       Kind = "invalid_utf8"
	KindFieldMissing      Kind = "field_missing"
	KindFieldUnknown      Kind = "field_unknown"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindAllocation        Kind = "allocation"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindNotInScope        Kind = "not_in_scope"
	KindUnsupported       Kind = "unsupported"
	KindTrap              Kind = "trap"
)

// Sentinels for errors.Is checks. Matching is by phase and kind.
var (
	ErrAlreadyRegistered = &Error{Phase: PhaseRegister, Kind: KindAlreadyRegistered}
	ErrReentrantEvent    = &Error{Phase: PhaseLifecycle, Kind: KindReentrantEvent}
	ErrPinned            = &Error{Phase: PhaseHost, Kind: KindPinned}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	GoType  string
	WitType string
	Detail  string
	Path    []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.WitType != "" {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.WitType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", WIT type ")
			b.WriteString(e.WitType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("WIT type ")
			b.WriteString(e.WitType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.WitType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether err, or an error it wraps, is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Kind == kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WitType sets the WIT type name
func (b *Builder) WitType(t string) *Builder {
	b.err.WitType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, witType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Path:    path,
		GoType:  goType,
		WitType: witType,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindOverflow,
		Path:    path,
		WitType: targetType,
		Detail:  fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:   value,
	}
}

// FieldMissing creates a missing field error
func FieldMissing(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldMissing,
		Path:   path,
		Detail: fmt.Sprintf("required field %q not found", fieldName),
	}
}

// FieldUnknown creates an unknown field error
func FieldUnknown(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldUnknown,
		Path:   path,
		Detail: fmt.Sprintf("unknown field %q", fieldName),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("range [%d, %d) out of bounds", offset, uint64(offset)+uint64(length)),
		Value:  offset,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// NameCollision creates an error for a name that is already installed
func NameCollision(namespace, name string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindNameCollision,
		Path:   []string{namespace, name},
		Detail: fmt.Sprintf("%q already installed in %q", name, namespace),
	}
}

// NotInScope creates an error for interpreter access outside a bridge scope
func NotInScope(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInScope,
		Detail: fmt.Sprintf("%s requires the execution lock", op),
	}
}

// PinFailure creates a module pinning error
func PinFailure(detail string, cause error) *Error {
	return &Error{
		Phase:  PhasePin,
		Kind:   KindPinFailure,
		Detail: detail,
		Cause:  cause,
	}
}

// Pinned creates an error for an unload request against a pinned module
func Pinned(module string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindPinned,
		Detail: fmt.Sprintf("module %q is pinned for the process lifetime", module),
	}
}

// AlreadyRegistered creates an error for a repeated registration
func AlreadyRegistered(detail string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindAlreadyRegistered,
		Detail: detail,
	}
}

// ReentrantEvent creates an error for a repeated host lifecycle event
func ReentrantEvent(event string, count int) *Error {
	return &Error{
		Phase:  PhaseLifecycle,
		Kind:   KindReentrantEvent,
		Detail: fmt.Sprintf("event %q received %d times", event, count),
		Value:  count,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// EntryError is a single failed registration entry
type EntryError struct {
	Err   error
	Name  string
	Index int
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry #%d %q: %v", e.Index, e.Name, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// RegistrationError is returned when one or more registration entries fail.
// Entries that installed successfully stay installed.
type RegistrationError struct {
	Namespace string
	Entries   []*EntryError
}

// Add records a failed entry.
func (e *RegistrationError) Add(index int, name string, err error) {
	e.Entries = append(e.Entries, &EntryError{Index: index, Name: name, Err: err})
}

// Len returns the number of failed entries.
func (e *RegistrationError) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Entries)
}

// Err returns nil when no entry failed.
func (e *RegistrationError) Err() error {
	if e.Len() == 0 {
		return nil
	}
	return e
}

func (e *RegistrationError) Error() string {
	if len(e.Entries) == 0 {
		return "[register] registration: no entries failed"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[register] registration: %d entr", len(e.Entries)))
	if len(e.Entries) == 1 {
		b.WriteString("y")
	} else {
		b.WriteString("ies")
	}
	b.WriteString(" failed")
	if e.Namespace != "" {
		b.WriteString(" in ")
		b.WriteString(e.Namespace)
	}
	b.WriteByte(':')
	for _, entry := range e.Entries {
		b.WriteString("\n  - ")
		b.WriteString(entry.Error())
	}
	return b.String()
}

// Is matches any registration-kind target so callers can test with
// errors.Is(err, &Error{Phase: PhaseRegister, Kind: KindRegistration}).
func (e *RegistrationError) Is(target error) bool {
	switch t := target.(type) {
	case *RegistrationError:
		return true
	case *Error:
		return t.Phase == PhaseRegister && t.Kind == KindRegistration
	}
	return false
}

// Unwrap exposes per-entry causes to errors.Is/As.
func (e *RegistrationError) Unwrap() []error {
	var combined error
	for _, entry := range e.Entries {
		combined = multierr.Append(combined, entry)
	}
	return multierr.Errors(combined)
}
