package repositories

import "errors"

var (
	// ErrStoreUnavailable means the fast store could not be reached.
	ErrStoreUnavailable = errors.New("fast store unavailable")
	// ErrDurableWrite means a batch could not be committed to the durable store.
	ErrDurableWrite = errors.New("durable write failed")

	ErrRoomNotFound    = errors.New("chat room not found")
	ErrMessageNotFound = errors.New("message not found")
)
