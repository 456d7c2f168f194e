package xpg

import (
	"errors"
)

// ErrMultipleRows is returned by Get when the query yields more than one row.
var ErrMultipleRows = errors.New("xpg: multiple rows returned for Get query")

// ErrInvalidType is returned by RegisterType for an empty oid set, a zero
// oid, an empty name or a nil cast function.
var ErrInvalidType = errors.New("xpg: register type: invalid arguments")

// ErrUnplacedData is returned when keyword data is supplied but the template
// contains none of __data__, __keys__ or __values__.
var ErrUnplacedData = errors.New("xpg: rewrite: data supplied but template has no __data__, __keys__ or __values__")

// ErrMultipleData is returned when more than one Data value is passed to a
// single statement.
var ErrMultipleData = errors.New("xpg: rewrite: more than one Data argument")

// ErrArgCount is returned when the number of %s markers and arguments differ.
var ErrArgCount = errors.New("xpg: bind: argument count does not match %s markers")

// ErrMissingAttribute is matched by *MissingAttributeError.
var ErrMissingAttribute = errors.New("xpg: missing attribute")

// ErrScriptCycle is returned when \ir directives include a file recursively.
var ErrScriptCycle = errors.New("xpg: script: include cycle")

// ErrNotConnected is returned by operations that need a live session when
// none is available and none may be opened implicitly.
var ErrNotConnected = errors.New("xpg: not connected")

// OperationalError marks a connectivity failure: the physical session is no
// longer usable and the Conn drops it.
type OperationalError struct {
	Err error
}

func (e *OperationalError) Error() string { return "xpg: operational error: " + e.Err.Error() }
func (e *OperationalError) Unwrap() error { return e.Err }

// IsOperational reports whether err carries an *OperationalError.
func IsOperational(err error) bool {
	var oe *OperationalError
	return errors.As(err, &oe)
}

// MissingAttributeError is returned by Row.Attr for an absent column.
type MissingAttributeError struct {
	Name string
}

func (e *MissingAttributeError) Error() string { return "xpg: row has no attribute " + e.Name }
func (e *MissingAttributeError) Is(target error) bool {
	return target == ErrMissingAttribute
}

// ErrNilParams is returned by DataOf for a nil pointer.
var ErrNilParams = errors.New("xpg: data: nil params")

// ErrUnsupportedArg is returned by DataOf when the argument is neither a
// struct nor a map with string keys.
var ErrUnsupportedArg = errors.New("xpg: data: params must be struct or map[string]T")

// ErrDuplicateKeyTag is returned when two struct fields (including embedded)
// resolve to the same column name (case-insensitive), e.g. via db:"name".
var ErrDuplicateKeyTag = errors.New("xpg: data: duplicate key from struct tags/fields")
