package orchestrator

import "fmt"

type ErrorKind string

const (
	ErrorInvalid      ErrorKind = "invalid"
	ErrorUnavailable  ErrorKind = "unavailable"
	ErrorProvisioning ErrorKind = "provisioning"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test with
// errors.Is(err, &Error{Kind: ErrorProvisioning}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func invalidError(message string, err error) *Error {
	return &Error{Kind: ErrorInvalid, Message: message, Err: err}
}

func unavailableError(message string, err error) *Error {
	return &Error{Kind: ErrorUnavailable, Message: message, Err: err}
}

func provisioningError(message string, err error) *Error {
	return &Error{Kind: ErrorProvisioning, Message: message, Err: err}
}
