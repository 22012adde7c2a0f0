package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCardNotFound = errors.New("card not found")
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported card type for stage")
	ErrTemporary    = errors.New("temporary failure")
	ErrTimeout      = errors.New("timeout")
	ErrNetwork      = errors.New("network failure")
	ErrRejected     = errors.New("rejected by remote service")
	ErrNoContent    = errors.New("no content to analyze")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
