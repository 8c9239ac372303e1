package action

import (
	"strings"

	"github.com/google/uuid"
)

// ReservedPrefix marks lifecycle type names.
const ReservedPrefix = "$"

// ModuleID identifies a module definition.
// It is minted once per DefineModule call and compared by value.
type ModuleID struct {
	id   uuid.UUID
	name string
}

// DefineModule mints a new, process-wide unique ModuleID.
// The name is used for logging and diagnostics only; two modules with the
// same name are still distinct.
func DefineModule(name string) ModuleID {
	return ModuleID{
		id:   uuid.New(),
		name: name,
	}
}

// Name returns the human-readable module name.
func (m ModuleID) Name() string {
	return m.name
}

// UUID returns the unique token backing the ID.
func (m ModuleID) UUID() uuid.UUID {
	return m.id
}

// IsZero reports whether m was never minted.
func (m ModuleID) IsZero() bool {
	return m.id == uuid.Nil
}

// String returns "name#xxxxxxxx" using the first block of the UUID.
func (m ModuleID) String() string {
	if m.IsZero() {
		return "<none>"
	}
	s := m.id.String()
	return m.name + "#" + s[:8]
}

// Type returns the action type with the given name in this module.
// Names must be non-empty and must not start with ReservedPrefix.
func (m ModuleID) Type(name string) (Type, error) {
	if m.IsZero() {
		return Type{}, ErrZeroModule
	}
	if name == "" {
		return Type{}, ErrEmptyName
	}
	if strings.HasPrefix(name, ReservedPrefix) {
		return Type{}, &ReservedNameError{Module: m, Name: name}
	}
	return Type{Module: m, Name: name}, nil
}

// MustType is like Type but panics on error.
// It is meant for package-level type declarations.
func (m ModuleID) MustType(name string) Type {
	t, err := m.Type(name)
	if err != nil {
		panic(err)
	}
	return t
}

// Type identifies a kind of action.
// Two types are equal iff both the module and the name match.
type Type struct {
	Module ModuleID
	Name   string
}

// New creates an action of this type carrying payload.
func (t Type) New(payload any) Action {
	return Action{Type: t, Payload: payload}
}

// Empty creates an action of this type without a payload.
func (t Type) Empty() Action {
	return Action{Type: t}
}

// IsLifecycle reports whether t is one of the reserved lifecycle types.
func (t Type) IsLifecycle() bool {
	return strings.HasPrefix(t.Name, ReservedPrefix)
}

// IsZero reports whether t is the zero Type.
func (t Type) IsZero() bool {
	return t.Module.IsZero() && t.Name == ""
}

// String returns "module/name".
func (t Type) String() string {
	return t.Module.Name() + "/" + t.Name
}

// Types implements Matcher.
func (t Type) Types() []Type {
	return []Type{t}
}

// Matches implements Matcher.
func (t Type) Matches(other Type) bool {
	return t == other
}

// Action is an immutable message dispatched into the store.
// Actions have no identity beyond their type and payload.
type Action struct {
	Type    Type
	Payload any
}

// String returns the action type as a string.
func (a Action) String() string {
	return a.Type.String()
}
