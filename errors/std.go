package errors

import (
	baseErrors "errors"
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return baseErrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return baseErrors.As(err, target)
}

// Unwrap returns the result of calling Unwrap on err, if any.
func Unwrap(err error) error {
	return baseErrors.Unwrap(err)
}

// Join returns an error that wraps the given errors, discarding nils.
func Join(errs ...error) error {
	return baseErrors.Join(errs...)
}

// Append adds err to the joined error acc. Either side may be nil.
func Append(acc error, err error) error {
	if err == nil {
		return acc
	}
	if acc == nil {
		return err
	}
	return baseErrors.Join(acc, err)
}
