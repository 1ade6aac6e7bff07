// Package pacerr defines the error taxonomy shared across pac's install and
// uninstall engine. Every fallible operation in the engine returns (or wraps)
// a *Error so callers can branch on Kind with errors.As instead of matching
// strings.
package pacerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories the engine can produce.
type Kind string

const (
	Network               Kind = "network"
	RemoteStatus          Kind = "remote_status"
	NotFound              Kind = "not_found"
	Deserialize           Kind = "deserialize"
	HashMismatch          Kind = "hash_mismatch"
	NoBottle              Kind = "no_bottle"
	PathConflict          Kind = "path_conflict"
	PrefixTooLong         Kind = "prefix_too_long"
	MachOEdit             Kind = "macho_edit"
	CycleInDependencies   Kind = "cycle_in_dependencies"
	BrokenPackagePresent  Kind = "broken_package_present"
	IO                    Kind = "io"
	CatalogError          Kind = "catalog_error"
)

// Error is the concrete error type carried through the engine. It wraps an
// underlying cause and tags it with a Kind for structured handling.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare *Error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and reports
// whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// OperationMessage renders the single-line user-visible form:
// "Can not <verb> <name>, error: <kind>: <detail>".
func OperationMessage(verb, name string, err error) string {
	if e, ok := err.(*Error); ok {
		return fmt.Sprintf("Can not %s %s, error: %s: %s", verb, name, e.Kind, e.Detail)
	}
	return fmt.Sprintf("Can not %s %s, error: %v", verb, name, err)
}

// InstallMessage renders the single-line user-visible form:
// "Can not install <name>, error: <kind>: <detail>".
func InstallMessage(name string, err error) string {
	return OperationMessage("install", name, err)
}

// UninstallMessage renders the single-line user-visible form:
// "Can not uninstall <name>, error: <kind>: <detail>".
func UninstallMessage(name string, err error) string {
	return OperationMessage("uninstall", name, err)
}
