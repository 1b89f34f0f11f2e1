package blob

import (
	"errors"
	"fmt"
)

const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeBucketNotFound      = "E_BUCKET_NOT_FOUND"
	CodeObjectNotFound      = "E_OBJECT_NOT_FOUND"
	CodePermissionDenied    = "E_PERMISSION_DENIED"
	CodeTimeout             = "E_TIMEOUT"
	CodeReadFailed          = "E_BLOB_READ_FAILED"
	CodeWriteFailed         = "E_BLOB_WRITE_FAILED"
)

// Error wraps blob store failures with retryability hints.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

func wrapError(code string, retryable bool, err error) *Error {
	if err == nil {
		return &Error{Code: code, Retryable: retryable}
	}
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// IsNotFound reports whether err (or anything it wraps) is a missing-object error.
func IsNotFound(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == CodeObjectNotFound
	}
	return false
}

// NotFound builds the error stores return for a missing key.
func NotFound(key string) error {
	return wrapError(CodeObjectNotFound, false, fmt.Errorf("object %q not found", key))
}
