package domain

import "errors"

var (
	// ErrReauthorizeNeeded signals that the stored credential can no longer be
	// refreshed and the user must re-grant consent. Never retryable.
	ErrReauthorizeNeeded = errors.New("credential: reauthorization needed")
	// ErrReceiptNotFound signals a lookup for an unknown receipt.
	ErrReceiptNotFound = errors.New("receipt: not found")
	// ErrDeadlineNotFound signals a lookup for an unknown deadline.
	ErrDeadlineNotFound = errors.New("deadline: not found")
	// ErrCredentialNotFound signals that no credential row exists for the user.
	ErrCredentialNotFound = errors.New("credential: not found")
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("returnwatch: invalid request")
)
