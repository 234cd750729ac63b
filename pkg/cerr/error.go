package cerr

import (
	"errors"
	"fmt"
	"runtime"
)

// Error carries a Code plus a human-readable message. Msg is returned to the
// caller together with the code; Err is only for logs.
type Error struct {
	Code  Code
	Msg   string
	Err   error
	Stack string
}

func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
	if code == Internal || code == Unknown {
		stackTrace := make([]byte, 2048)
		n := runtime.Stack(stackTrace, false)
		err.Stack = string(stackTrace[0:n])
	}
	return err
}

func Newf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...), nil)
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code.String(), e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code.String(), e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the Code from err, or Unknown for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return Unknown
}

func IsCode(err error, code Code) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code == code
	}
	return false
}
