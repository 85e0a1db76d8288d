package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

const (
	// DefaultCheckDepth is how many trailing blocks are re-verified on
	// every scan, even when no reorg occurred.
	DefaultCheckDepth uint64 = 20

	// DefaultMaxCycleTries bounds the UpdateChain retry loop.
	DefaultMaxCycleTries = 10

	// DefaultReorgWait is how long to wait between retries to let the
	// node's view of the chain settle.
	DefaultReorgWait = 5 * time.Second

	// loadChunkSize bounds single FetchHeaders calls during initial loads
	// so progress and save hooks fire at block granularity.
	loadChunkSize uint64 = 256
)

// Options tunes a Monitor. Zero values fall back to the defaults above.
type Options struct {
	CheckDepth    uint64
	MaxCycleTries int
	ReorgWait     time.Duration

	// Sleep replaces the blocking wait between reorg resolution retries.
	// Tests swap in a no-op; production code may swap in a cancellable
	// timed wait.
	Sleep func(time.Duration)
}

// Resolution is the outcome of one UpdateChain cycle.
type Resolution struct {
	// LastLiveBlock is the chain tip as far as our node knows.
	LastLiveBlock uint64

	// LatestGoodBlock is the highest block for which no rollback is
	// needed: the earliest good block across all reorgs seen this cycle.
	LatestGoodBlock uint64

	// ReorgDetected tells whether any reorg was seen during this cycle.
	ReorgDetected bool
}

// Monitor maintains a contiguous in-memory buffer of recent block headers and
// detects and resolves divergence between the buffer and the live chain.
//
// A Monitor is not safe for concurrent use: all mutation assumes exclusive,
// serialized access. Run one monitor per chain-reading worker or serialize
// access externally.
type Monitor struct {
	source HeaderSource
	log    *slog.Logger

	headers       map[uint64]Header
	lastBlockRead uint64

	checkDepth    uint64
	maxCycleTries int
	reorgWait     time.Duration
	sleep         func(time.Duration)
}

// New builds a monitor reading from source with an empty header buffer.
func New(source HeaderSource, log *slog.Logger, opts Options) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if opts.CheckDepth == 0 {
		opts.CheckDepth = DefaultCheckDepth
	}
	if opts.MaxCycleTries == 0 {
		opts.MaxCycleTries = DefaultMaxCycleTries
	}
	if opts.ReorgWait == 0 {
		opts.ReorgWait = DefaultReorgWait
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Monitor{
		source:        source,
		log:           log,
		headers:       map[uint64]Header{},
		checkDepth:    opts.CheckDepth,
		maxCycleTries: opts.MaxCycleTries,
		reorgWait:     opts.ReorgWait,
		sleep:         opts.Sleep,
	}
}

// HasData reports whether any headers are buffered yet.
func (m *Monitor) HasData() bool {
	return len(m.headers) > 0
}

// LastBlockRead returns the highest buffered block number, 0 when empty.
func (m *Monitor) LastBlockRead() uint64 {
	return m.lastBlockRead
}

// HeaderByNumber returns the buffered header for a block, if present.
func (m *Monitor) HeaderByNumber(number uint64) (Header, bool) {
	h, ok := m.headers[number]
	return h, ok
}

// AddBlock appends one header to the buffer. Blocks must be added in order:
// a duplicate number or a number other than LastBlockRead+1 on a non-empty
// buffer indicates a bug in the fetch loop and is not retried.
func (m *Monitor) AddBlock(h Header) error {
	if _, ok := m.headers[h.Number]; ok {
		return fmt.Errorf("block %d already added", h.Number)
	}
	if m.lastBlockRead != 0 && h.Number != m.lastBlockRead+1 {
		return fmt.Errorf("blocks must be added in order: last block read is %d, got %d", m.lastBlockRead, h.Number)
	}
	m.headers[h.Number] = h
	m.lastBlockRead = h.Number
	return nil
}

// CheckBlockReorg compares an externally observed hash against our buffered
// record for that block. A mismatch returns *ReorgDetectedError. Unknown
// block numbers are ignored: there is nothing to compare against.
func (m *Monitor) CheckBlockReorg(number uint64, hash string) error {
	original, ok := m.headers[number]
	if !ok {
		return nil
	}
	if original.Hash != hash {
		return &ReorgDetectedError{
			BlockNumber:  number,
			OriginalHash: original.Hash,
			NewHash:      hash,
		}
	}
	return nil
}

// Truncate deletes every buffered header above latestGood and rewinds
// LastBlockRead to it. The buffer must be non-empty.
func (m *Monitor) Truncate(latestGood uint64) error {
	if m.lastBlockRead == 0 {
		return errors.New("truncate on an empty header buffer")
	}
	for n := latestGood + 1; n <= m.lastBlockRead; n++ {
		delete(m.headers, n)
	}
	m.lastBlockRead = latestGood
	return nil
}

// ScanChain performs one detection pass: it re-fetches the trailing
// checkDepth blocks plus anything new up to the chain tip, verifies every
// fetched header against the buffer and appends the ones we have not seen.
// A hash mismatch returns *ReorgDetectedError; any other error propagates
// as-is.
func (m *Monitor) ScanChain(ctx context.Context) error {
	tip, err := m.source.ChainTip(ctx)
	if err != nil {
		return fmt.Errorf("chain tip: %w", err)
	}

	start := uint64(1)
	if m.lastBlockRead > m.checkDepth {
		start = m.lastBlockRead - m.checkDepth
	}
	if start > tip {
		return nil
	}

	headers, err := m.source.FetchHeaders(ctx, start, tip)
	if err != nil {
		return fmt.Errorf("fetch headers %d-%d: %w", start, tip, err)
	}

	for _, h := range headers {
		if err := m.CheckBlockReorg(h.Number, h.Hash); err != nil {
			return err
		}
		if _, ok := m.headers[h.Number]; !ok {
			if err := m.AddBlock(h); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateChain drives one duty cycle: keep scanning until the chain presents a
// consistent view, truncating the buffer back to the last good block after
// each detected reorg and waiting for the node to settle before retrying.
// When the retry budget runs out it fails with ErrResolutionFailure and the
// caller must not trust any data from this cycle.
func (m *Monitor) UpdateChain(ctx context.Context) (Resolution, error) {
	triesLeft := m.maxCycleTries
	maxPurge := m.lastBlockRead
	reorgDetected := false

	for triesLeft > 0 {
		err := m.ScanChain(ctx)
		if err == nil {
			return Resolution{
				LastLiveBlock:   m.lastBlockRead,
				LatestGoodBlock: maxPurge,
				ReorgDetected:   reorgDetected,
			}, nil
		}

		var reorg *ReorgDetectedError
		if !errors.As(err, &reorg) {
			return Resolution{}, err
		}

		m.log.Info("chain reorganisation detected",
			"block", reorg.BlockNumber,
			"original_hash", reorg.OriginalHash,
			"new_hash", reorg.NewHash,
		)

		latestGood := reorg.BlockNumber - 1
		reorgDetected = true

		// The watermark only ever narrows: the final resolution reports
		// the earliest good block across all retries of this cycle.
		if maxPurge != 0 {
			maxPurge = min(latestGood, maxPurge)
		} else {
			maxPurge = reorg.BlockNumber
		}

		if err := m.Truncate(latestGood); err != nil {
			return Resolution{}, err
		}
		triesLeft--
		m.sleep(m.reorgWait)
	}

	return Resolution{}, fmt.Errorf("%w: last block read %d, attempts %d", ErrResolutionFailure, m.lastBlockRead, m.maxCycleTries)
}

// BlockTimestamp returns the UNIX UTC timestamp of a buffered block. The
// error message carries the latest buffered block and, when the source can
// report it, the live chain tip, to aid diagnosis.
func (m *Monitor) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if len(m.headers) == 0 {
		return 0, fmt.Errorf("%w: no block headers buffered", ErrBlockNotAvailable)
	}
	h, ok := m.headers[number]
	if !ok {
		if tip, err := m.source.ChainTip(ctx); err == nil {
			return 0, fmt.Errorf("%w: block %d has no data, latest live block is %d, last recorded is %d", ErrBlockNotAvailable, number, tip, m.lastBlockRead)
		}
		return 0, fmt.Errorf("%w: block %d has no data, last recorded is %d", ErrBlockNotAvailable, number, m.lastBlockRead)
	}
	return h.Timestamp, nil
}

// LoadOptions controls the initial buffer fill.
type LoadOptions struct {
	// BlockCount loads the trailing BlockCount blocks up to the tip.
	BlockCount uint64

	// StartBlock, when non-zero, overrides BlockCount with an explicit
	// first block.
	StartBlock uint64

	// Progress, when set, is invoked after every buffered block.
	Progress func(number uint64)

	// Save, when set, is invoked after every buffered block for
	// incremental persistence; its error aborts the load.
	Save func(h Header) error
}

// LoadInitialHeaders bulk-fills the buffer up to the chain tip. When prior
// state exists the load resumes from the block after the highest buffered
// one, so the no-gap invariant holds across restarts. Returns the loaded
// range; start > end means there was nothing to load.
func (m *Monitor) LoadInitialHeaders(ctx context.Context, opts LoadOptions) (uint64, uint64, error) {
	end, err := m.source.ChainTip(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("chain tip: %w", err)
	}

	start := uint64(1)
	switch {
	case opts.StartBlock != 0:
		start = opts.StartBlock
	case opts.BlockCount != 0 && end > opts.BlockCount:
		start = end - opts.BlockCount
	}

	if m.lastBlockRead != 0 {
		// Resume after the last saved block; no gaps allowed.
		start = m.lastBlockRead + 1
	}

	if start > end {
		return start, end, nil
	}

	m.log.Info("loading initial block headers", "start", start, "end", end, "total", end-start+1)

	for chunkStart := start; chunkStart <= end; chunkStart += loadChunkSize {
		chunkEnd := min(chunkStart+loadChunkSize-1, end)
		headers, err := m.source.FetchHeaders(ctx, chunkStart, chunkEnd)
		if err != nil {
			return start, end, fmt.Errorf("fetch headers %d-%d: %w", chunkStart, chunkEnd, err)
		}
		for _, h := range headers {
			if err := m.AddBlock(h); err != nil {
				return start, end, err
			}
			if opts.Save != nil {
				if err := opts.Save(h); err != nil {
					return start, end, fmt.Errorf("save block %d: %w", h.Number, err)
				}
			}
			if opts.Progress != nil {
				opts.Progress(h.Number)
			}
		}
		// Short read: the tip moved under us, stop at what we got.
		if uint64(len(headers)) < chunkEnd-chunkStart+1 {
			return start, m.lastBlockRead, nil
		}
	}

	return start, end, nil
}

// Restore replaces the buffer with previously persisted headers. The mapping
// must be gap-free; LastBlockRead becomes the highest restored block.
func (m *Monitor) Restore(headers map[uint64]Header) error {
	if len(headers) == 0 {
		return errors.New("restore with no headers")
	}

	var lowest, highest uint64
	for n, h := range headers {
		if h.Number != n {
			return fmt.Errorf("header number %d stored under key %d", h.Number, n)
		}
		if lowest == 0 || n < lowest {
			lowest = n
		}
		if n > highest {
			highest = n
		}
	}
	for n := lowest; n <= highest; n++ {
		if _, ok := headers[n]; !ok {
			return fmt.Errorf("gap in restored headers: block %d missing in range %d-%d", n, lowest, highest)
		}
	}

	m.headers = make(map[uint64]Header, len(headers))
	for n, h := range headers {
		m.headers[n] = h
	}
	m.lastBlockRead = highest
	return nil
}

// Export returns the buffered headers in ascending block number order.
func (m *Monitor) Export() []Header {
	out := make([]Header, 0, len(m.headers))
	for _, h := range m.headers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
