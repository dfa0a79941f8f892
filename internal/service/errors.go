package service

import (
	"errors"
	"fmt"
)

// Membership and invariant errors. These are surfaced to the caller so the
// API layer can distinguish "fix your input" from "retry later".
var (
	// ErrGroupNotFound indicates the group or invite code does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrAlreadyInGroup indicates the user already belongs to some group
	// and must leave it before creating or joining another.
	ErrAlreadyInGroup = errors.New("user already belongs to a group")

	// ErrAlreadyMember indicates the user is already in the group they are
	// trying to join.
	ErrAlreadyMember = errors.New("user is already a member of this group")

	// ErrNotMember indicates the user is not in the group they are trying
	// to leave.
	ErrNotMember = errors.New("user is not a member of this group")

	// ErrCodeExhausted indicates invite-code generation ran out of retries
	// without finding an unused code.
	ErrCodeExhausted = errors.New("could not generate a unique invite code")
)

// ValidationError reports malformed input: blank required trip fields or a
// badly shaped invite code.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
