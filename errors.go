package chainexport

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyRun is returned when Run is called on a RangeExporter that has
	// already left the idle state.
	ErrAlreadyRun = errors.New("range exporter has already been run")

	// ErrInvalidRange is returned when the start of a range lies past its end.
	ErrInvalidRange = errors.New("start height is greater than end height")

	// ErrUnknownEntityKind is returned by a chain's Transform dispatcher when
	// asked for an entity kind the chain does not produce.
	ErrUnknownEntityKind = errors.New("unknown entity kind")
)

// MalformedInputError is the only failure a transformer produces. It reports
// that a required field is absent or that a field could not be coerced to
// its declared type. Field is the dotted path of the offending field.
type MalformedInputError struct {
	Field  string
	Reason string
	Err    error
}

// NewMalformedInputError constructs a MalformedInputError for field.
func NewMalformedInputError(field, reason string, err error) *MalformedInputError {
	return &MalformedInputError{Field: field, Reason: reason, Err: err}
}

func (e *MalformedInputError) Error() string {
	msg := "malformed input"
	if e.Field != "" {
		msg = fmt.Sprintf("%s: field %q", msg, e.Field)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// FetchError reports that a payload could not be retrieved from a chain API.
// Retries have already been exhausted by the time a FetchError is returned.
type FetchError struct {
	Target     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Target, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExportError reports that a sink failed to open, accept a record, or close.
type ExportError struct {
	Op  string
	Err error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Op, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// PositionError attaches the range position being processed to an error.
type PositionError struct {
	Position uint64
	Err      error
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position %d: %v", e.Position, e.Err)
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

// ErrorKind names the category of err for operator diagnostics.
func ErrorKind(err error) string {
	var (
		malformed *MalformedInputError
		fetch     *FetchError
		export    *ExportError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &malformed):
		return "malformed input"
	case errors.As(err, &fetch):
		return "fetch"
	case errors.As(err, &export):
		return "export"
	default:
		return "unknown"
	}
}

// FailedPosition returns the position carried by err, if any.
func FailedPosition(err error) (uint64, bool) {
	var posErr *PositionError
	if errors.As(err, &posErr) {
		return posErr.Position, true
	}
	return 0, false
}
