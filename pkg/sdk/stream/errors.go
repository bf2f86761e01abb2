package stream

import "errors"

var (
	// ErrConnection reports that the socket is unavailable.
	ErrConnection = errors.New("stream: connection unavailable")
	// ErrDuplicateRequest reports a request id that is already pending.
	ErrDuplicateRequest = errors.New("stream: duplicate request id")
)
