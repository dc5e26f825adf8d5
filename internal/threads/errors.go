package threads

import (
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatcore/internal/database"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalid:
		return "invalid"
	}
	return "internal"
}

type ThreadError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ThreadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ThreadError) Unwrap() error {
	return e.Err
}

func NewNotFoundError(format string, args ...any) *ThreadError {
	return &ThreadError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidError(format string, args ...any) *ThreadError {
	return &ThreadError{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

func NewInternalError(msg string, err error) *ThreadError {
	return &ThreadError{Kind: KindInternal, Message: msg, Err: err}
}

// wrapStoreError maps repository sentinels onto error kinds.
func wrapStoreError(msg string, err error) *ThreadError {
	var te *ThreadError
	if errors.As(err, &te) {
		return te
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		return &ThreadError{Kind: KindNotFound, Message: msg, Err: err}
	case errors.Is(err, database.ErrMaxDepth), errors.Is(err, database.ErrAlreadyAssigned):
		return &ThreadError{Kind: KindInvalid, Message: msg, Err: err}
	}
	return NewInternalError(msg, err)
}

func kindOf(err error) (Kind, bool) {
	var te *ThreadError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return KindInternal, false
}

func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

func IsInvalid(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindInvalid
}
