package portal

import (
	"errors"
	"fmt"
)

// ErrUnresolved is returned by Submit when it is called before the report
// context and chain have been resolved.
var ErrUnresolved = errors.New("portal: report context is not resolved")

// AuthenticationError means the portal did not accept the login, either
// because the credentials are wrong or because the login page changed.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("portal: authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Cause distinguishes why an identifier could not be resolved.
type Cause int

const (
	// CauseSchemaDrift means a field was renamed/missing or the response could not be decoded.
	CauseSchemaDrift Cause = iota
	// CauseEmptyResult means the query succeeded but returned no rows.
	CauseEmptyResult
	// CauseTransport means the request itself failed.
	CauseTransport
	// CauseMissingField means locally cached state lacks a required value.
	CauseMissingField
	// CauseIndexOutOfRange means the resolved ordinal has no configured content.
	CauseIndexOutOfRange
)

func (c Cause) String() string {
	switch c {
	case CauseSchemaDrift:
		return "schema-drift"
	case CauseEmptyResult:
		return "empty-result"
	case CauseTransport:
		return "transport"
	case CauseMissingField:
		return "missing-field"
	case CauseIndexOutOfRange:
		return "index-out-of-range"
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

type ResolutionError struct {
	Cause Cause
	Step  string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("portal: resolve %s: %s: %v", e.Step, e.Cause, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// OrdinalOverflowError is returned when a report ordinal has no title.
type OrdinalOverflowError struct {
	Kind    Kind
	Ordinal int
}

func (e *OrdinalOverflowError) Error() string {
	if e.Kind.Weekly() {
		return fmt.Sprintf("portal: ordinal %d of report kind %q is not positive", e.Ordinal, string(e.Kind))
	}
	return fmt.Sprintf(
		"portal: ordinal %d of report kind %q is outside of %d..%d",
		e.Ordinal, string(e.Kind), minMonthlyOrdinal, maxMonthlyOrdinal,
	)
}

// SubmissionError means the portal rejected the report.
type SubmissionError struct {
	Title   string
	Code    string
	Message string
}

func (e *SubmissionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("portal: submit %s: rejected with code %q: %s", e.Title, e.Code, msg)
}

// TransportError is a network level failure (connection, timeout, bad
// status) of the request named by Op.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("portal: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsCause reports whether err is a ResolutionError with the given cause.
func IsCause(err error, cause Cause) bool {
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		return false
	}
	return resErr.Cause == cause
}

func resolutionError(step string, cause Cause, format string, args ...any) *ResolutionError {
	return &ResolutionError{
		Cause: cause,
		Step:  step,
		Err:   fmt.Errorf(format, args...),
	}
}
