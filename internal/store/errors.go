package store

import "fmt"

// StoreError wraps any database failure with the operation that caused it.
// Callers check with errors.As; the wrapped error is reachable via Unwrap.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// storeErr builds a StoreError for the given operation.
func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// storeErrf builds a StoreError with a formatted operation description.
func storeErrf(err error, format string, args ...any) error {
	return &StoreError{Op: fmt.Sprintf(format, args...), Err: err}
}
