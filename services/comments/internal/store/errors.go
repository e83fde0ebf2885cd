package store

import (
	"errors"
	"fmt"
)

// Validation reasons carried by ValidationError.
const (
	ReasonDuplicate          = "duplicate"
	ReasonEmpty              = "empty"
	ReasonTooLong            = "too_long"
	ReasonReplyLimit         = "reply_limit"
	ReasonMaxDepth           = "max_depth"
	ReasonClosed             = "closed"
	ReasonBlockedContentType = "blocked_content_type"
	ReasonInvalidParent      = "invalid_parent"
	ReasonRejected           = "rejected"
)

var (
	// ErrNotFound is returned for missing or filtered-out comments.
	ErrNotFound = errors.New("comment not found")
	// ErrIndexCollision means two siblings ended up with the same index. It is
	// never corrected silently.
	ErrIndexCollision = errors.New("comment index collision")
)

// ValidationError is a user-facing rejection of a write.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Message)
}

// Invalid builds a *ValidationError.
func Invalid(reason, message string) error {
	return &ValidationError{Reason: reason, Message: message}
}

// IsValidation reports whether err is (or wraps) a *ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
