package trade

import "errors"

var (
	// ErrInvalidArgument is returned when a create request is malformed.
	ErrInvalidArgument = errors.New("offer and want must be non-empty")
	// ErrNotFound is returned when no trade exists for the given id.
	ErrNotFound = errors.New("trade not found")
	// ErrAlreadyResolved is returned when a resolution targets a trade that
	// is no longer pending. The transition is rejected, never repeated.
	ErrAlreadyResolved = errors.New("trade already resolved")
	// ErrTransferFailed is returned when the ledger collaborator rejects the
	// transfer for an accepted trade. The trade remains pending.
	ErrTransferFailed = errors.New("ledger transfer failed")
)
