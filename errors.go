package discussions

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Store matches exactly one of these
// with errors.Is.
var (
	// Setup errors
	ErrConfiguration      = errors.New("configuration error")
	ErrDatabaseConnection = errors.New("database connection failed")

	// Operation errors
	ErrStoreVector  = errors.New("store vector failed")
	ErrQueryVector  = errors.New("query vectors failed")
	ErrDeleteVector = errors.New("delete vector failed")

	// Authorization errors, never wrapped as ErrDeleteVector
	ErrDiscussionNotFound   = errors.New("discussion not found")
	ErrUserDiscussionAccess = errors.New("user cannot access discussion")
)

// OperationError reports an infrastructure failure. It keeps the message of
// the underlying driver error but not its type: Unwrap yields only Kind.
type OperationError struct {
	Kind error
	Msg  string
}

func (e *OperationError) Error() string {
	return e.Msg
}

func (e *OperationError) Unwrap() error {
	return e.Kind
}

func newOperationError(kind error, action string, cause error) *OperationError {
	msg := action
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", action, cause)
	}
	return &OperationError{Kind: kind, Msg: msg}
}

// DiscussionNotFoundError is returned when an owner-checked delete targets a
// record that does not exist.
type DiscussionNotFoundError struct {
	DiscussionID string
}

func (e *DiscussionNotFoundError) Error() string {
	return fmt.Sprintf("discussion %q not found", e.DiscussionID)
}

func (e *DiscussionNotFoundError) Is(target error) bool {
	return target == ErrDiscussionNotFound
}

// UserDiscussionAccessError is returned when a user tries to delete a
// discussion owned by someone else. OwnerID is "unknown" when the record
// carries no usable owner.
type UserDiscussionAccessError struct {
	UserID       string
	OwnerID      string
	DiscussionID string
}

func (e *UserDiscussionAccessError) Error() string {
	return fmt.Sprintf("user %q doesn't have permission to delete discussion %q", e.UserID, e.DiscussionID)
}

func (e *UserDiscussionAccessError) Is(target error) bool {
	return target == ErrUserDiscussionAccess
}

// IsNotFound returns true if err reports a missing discussion
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDiscussionNotFound)
}

// IsAccessDenied returns true if err reports an ownership violation
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrUserDiscussionAccess)
}
