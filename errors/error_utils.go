package errors

import (
	"context"
	"errors"
)

// IsNotFound reports whether err is any of the not-found categories (namespace, blob, ref or generic).
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		for e := tErr; e != nil; {
			switch e.Code() {
			case ERR_NOT_FOUND, ERR_BLOB_NOT_FOUND, ERR_REF_NOT_FOUND, ERR_NAMESPACE_NOT_FOUND:
				return true
			}

			next, ok := e.wrappedErr.(*Error)
			if !ok {
				break
			}

			e = next
		}
	}

	return false
}

// IsCanceled reports whether err was caused by a cancelled context or cooperative shutdown.
// Cancelled operations are not failures and must never be logged as errors.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return true
	}

	return Is(err, ErrContextCanceled)
}

// IsRetryableError determines if an error is transient and the operation should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		switch tErr.Code() {
		case ERR_STORAGE_UNAVAILABLE, ERR_CONFLICT:
			return true
		}
	}

	return false
}
