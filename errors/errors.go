package errors

import (
	stderrors "errors"
	"fmt"
)

// Root categories. Every sentinel below wraps exactly one of them.
var (
	ErrNotFound       = fmt.Errorf("not found")
	ErrInvalidState   = fmt.Errorf("invalid state")
	ErrInvalidRequest = fmt.Errorf("invalid request")
	ErrTransientInfra = fmt.Errorf("transient infrastructure failure")
	ErrPoisonMessage  = fmt.Errorf("poison message")
)

var (
	ErrRoomNotFound         = fmt.Errorf("room %w", ErrNotFound)
	ErrNotAParticipant      = fmt.Errorf("participant %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)

	ErrInvalidRoomKind          = fmt.Errorf("operation not allowed for this room kind: %w", ErrInvalidState)
	ErrAlreadyMember            = fmt.Errorf("user is already a member: %w", ErrInvalidState)
	ErrUnsupportedForDirectRoom = fmt.Errorf("direct rooms can only be hidden: %w", ErrInvalidState)
	ErrParticipantHidden        = fmt.Errorf("participant has hidden the room: %w", ErrInvalidState)
	ErrContentTooLong           = fmt.Errorf("content too long: %w", ErrInvalidRequest)
	ErrInvalidToken             = fmt.Errorf("invalid or expired token: %w", ErrInvalidRequest)

	ErrSessionClosed  = fmt.Errorf("session closed")
	ErrSessionTimeout = fmt.Errorf("session send timeout")
	ErrWorkerPanic    = fmt.Errorf("worker panic")
	ErrUnknownDriver  = fmt.Errorf("unknown driver")
)

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// Transient marks an infrastructure failure as retryable.
func Transient(err error) error {
	if err == nil || Is(err, ErrTransientInfra) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientInfra, err)
}

// IsClientError reports errors caused by the caller rather than the system.
func IsClientError(err error) bool {
	return Is(err, ErrNotFound) || Is(err, ErrInvalidState) || Is(err, ErrInvalidRequest)
}

func IsTransient(err error) bool { return Is(err, ErrTransientInfra) }

func IsPoison(err error) bool { return Is(err, ErrPoisonMessage) }
