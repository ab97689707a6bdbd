package fetch

import (
	"errors"
	"fmt"
)

// ErrRemoteQueryFailed matches every *ChunkError via errors.Is.
var ErrRemoteQueryFailed = errors.New("remote query failed")

// ChunkError reports a chunk whose registry query failed. StatusCode is zero
// when no HTTP response was received.
type ChunkError struct {
	Index       int
	Identifiers []string
	StatusCode  int
	Err         error
}

func (e *ChunkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote query failed for chunk %d (%d identifiers, status %d): %v",
			e.Index, len(e.Identifiers), e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote query failed for chunk %d (%d identifiers): %v",
		e.Index, len(e.Identifiers), e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRemoteQueryFailed.
func (e *ChunkError) Is(target error) bool {
	return target == ErrRemoteQueryFailed
}
