package monitor

import (
	"errors"
	"fmt"
)

// ErrResolutionFailure signals that the chain kept reorganising across the
// whole retry budget. The node is likely in a bad state; no data from this
// cycle can be trusted.
var ErrResolutionFailure = errors.New("chain reorganisation resolution failed")

// ErrBlockNotAvailable signals a timestamp/header request outside the
// buffered range.
var ErrBlockNotAvailable = errors.New("block not available")

// ErrOutOfRangeRead signals that a bounded lookup resolved to a block outside
// its specified range; a source or caller contract violation.
var ErrOutOfRangeRead = errors.New("block outside of specified read range")

// ReorgDetectedError is raised when a block hash no longer matches our
// buffered record. It is recovered internally by the UpdateChain retry loop
// and only surfaces past it through logs.
type ReorgDetectedError struct {
	BlockNumber  uint64
	OriginalHash string
	NewHash      string
}

func (e *ReorgDetectedError) Error() string {
	return fmt.Sprintf("chain reorganisation detected at block #%d: original hash %s, new hash %s", e.BlockNumber, e.OriginalHash, e.NewHash)
}
