package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is a coded application error. Code is the HTTP status the error is
// rendered with; Message becomes the envelope "error" member and Detail the
// "message" member.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"error"`
	Detail  string         `json:"message,omitempty"`
	Fields  map[string]any `json:"-"`
	Err     error          `json:"-"`
	Stack   string         `json:"stack,omitempty"`
	Context []KeyValue     `json:"context,omitempty"`
}

// KeyValue is a log-only annotation.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

func WithCode(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(),
	}
}

func (e *Error) clone() *Error {
	n := *e
	n.Context = append([]KeyValue(nil), e.Context...)
	if e.Fields != nil {
		n.Fields = make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			n.Fields[k] = v
		}
	}
	return &n
}

// WithDetail sets the human readable "message" member.
func (e *Error) WithDetail(detail string) *Error {
	if e == nil {
		return nil
	}
	n := e.clone()
	n.Detail = detail
	return n
}

// WithCause attaches the underlying error without changing what the client sees.
func (e *Error) WithCause(err error) *Error {
	if e == nil {
		return nil
	}
	n := e.clone()
	n.Err = err
	return n
}

// WithField adds an extra top level member to the rendered envelope.
func (e *Error) WithField(key string, value any) *Error {
	if e == nil {
		return nil
	}
	n := e.clone()
	if n.Fields == nil {
		n.Fields = make(map[string]any)
	}
	n.Fields[key] = value
	return n
}

func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}
	n := e.clone()
	n.Context = append(n.Context, KeyValue{Key: key, Value: value})
	return n
}

// Envelope is the JSON body an error renders as.
func (e *Error) Envelope() map[string]any {
	body := make(map[string]any, 2+len(e.Fields))
	for k, v := range e.Fields {
		body[k] = v
	}
	body["error"] = e.Message
	if e.Detail != "" {
		body["message"] = e.Detail
	}
	return body
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// drop the goroutine header plus captureStack and its constructor
	lines := strings.Split(stack, "\n")
	if len(lines) > 5 {
		stack = strings.Join(lines[5:], "\n")
	}
	return strings.TrimSpace(stack)
}

// GetCode returns the first code found in the chain, or 0.
func GetCode(err error) int {
	var e *Error
	for err != nil {
		if stderrors.As(err, &e) {
			if e.Code != 0 {
				return e.Code
			}
			err = e.Err
			continue
		}
		return 0
	}
	return 0
}

func GetMessage(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Is reports whether target is in err's chain.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Cause returns the innermost error.
func Cause(err error) error {
	for err != nil {
		next := stderrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return err
}

func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
