package monitor

import (
	"context"
	"fmt"
)

// TimestampReader lazily resolves block timestamps for a fixed block range,
// fetching each block on demand and caching the result. It is meant for
// sparse reads over long ranges where loading every header upfront would be
// wasteful.
type TimestampReader struct {
	source     HeaderSource
	startBlock uint64
	endBlock   uint64

	byNumber map[uint64]uint64
	byHash   map[string]uint64
}

// NewTimestampReader builds a reader bounded to the inclusive range
// [start, end].
func NewTimestampReader(source HeaderSource, start, end uint64) (*TimestampReader, error) {
	if start == 0 {
		return nil, fmt.Errorf("start block must be positive, got %d", start)
	}
	if end < start {
		return nil, fmt.Errorf("end block %d before start block %d", end, start)
	}
	return &TimestampReader{
		source:     source,
		startBlock: start,
		endBlock:   end,
		byNumber:   map[uint64]uint64{},
		byHash:     map[string]uint64{},
	}, nil
}

// Timestamp returns the UNIX timestamp of a block inside the reader's range.
// A block outside the range, or a source resolving to one, fails with
// ErrOutOfRangeRead.
func (r *TimestampReader) Timestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := r.byNumber[number]; ok {
		return ts, nil
	}
	if number < r.startBlock || number > r.endBlock {
		return 0, fmt.Errorf("%w: block %d outside range %d-%d", ErrOutOfRangeRead, number, r.startBlock, r.endBlock)
	}

	headers, err := r.source.FetchHeaders(ctx, number, number)
	if err != nil {
		return 0, fmt.Errorf("fetch header %d: %w", number, err)
	}
	for _, h := range headers {
		if h.Number < r.startBlock || h.Number > r.endBlock {
			return 0, fmt.Errorf("%w: read block %d %s out of bounds of range %d-%d", ErrOutOfRangeRead, h.Number, h.Hash, r.startBlock, r.endBlock)
		}
		r.byNumber[h.Number] = h.Timestamp
		r.byHash[h.Hash] = h.Timestamp
	}

	ts, ok := r.byNumber[number]
	if !ok {
		return 0, fmt.Errorf("%w: block %d not returned by source", ErrBlockNotAvailable, number)
	}
	return ts, nil
}

// TimestampByHash returns the cached timestamp for a block hash seen through
// this reader.
func (r *TimestampReader) TimestampByHash(hash string) (uint64, bool) {
	ts, ok := r.byHash[hash]
	return ts, ok
}
