package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

// ErrStorageUnavailable wraps playlist-store I/O failures. Callers log and
// carry on; the next mutation retries.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrPipeClosed reports that an encoder stdin/stdout closed mid-transfer.
var ErrPipeClosed = errors.New("encoder pipe closed")

// ErrStreamStuck is raised by the watchdog when no bytes reached the
// segmenter for longer than the stuck timeout.
var ErrStreamStuck = errors.New("stream stuck")

// ErrCredentialExpired reports that the upstream rejected a worker token.
var ErrCredentialExpired = errors.New("credential expired")

// FloodWaitError carries the upstream "slow down" wait duration.
// Callers sleep Wait+1s and retry rather than unwinding.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %s", e.Wait)
}

// AsFloodWait extracts a FloodWaitError from an error chain.
func AsFloodWait(err error) (*FloodWaitError, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}
