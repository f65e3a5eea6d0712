package blockstream

import "errors"

// Common errors. Asynchronous failures are wrapped with chunk/block
// context via %w, so callers can classify them with errors.Is.
var (
	ErrClosed          = errors.New("block writer closed")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTransport       = errors.New("chunk transport failed")
	ErrCommit          = errors.New("metadata commit failed")
	ErrQuorumTimeout   = errors.New("timed out waiting for quorum commit")
	ErrInterrupted     = errors.New("wait interrupted")
)
