// Package sim implements a deterministic in-memory chain for tests and dry
// runs. It produces blocks on demand and can rewrite history to simulate
// minor forks, like a real blockchain under reorganisation.
package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/devblac/headwatch/internal/monitor"
)

// ForkMarker is the hash written by ProduceFork when no marker is given.
const ForkMarker = "0x8888"

// Chain is a simulated block producer implementing monitor.HeaderSource.
type Chain struct {
	nextNumber    uint64
	blocks        map[uint64]monitor.Header
	blockDuration uint64
}

// New creates an empty simulated chain producing one block per second.
func New() *Chain {
	return &Chain{
		nextNumber:    1,
		blocks:        map[uint64]monitor.Header{},
		blockDuration: 1,
	}
}

// HashFor is the hash convention of the simulated chain: the hex of the
// block number.
func HashFor(number uint64) string {
	return fmt.Sprintf("0x%x", number)
}

// ProduceBlocks appends count blocks to the simulated chain.
func (c *Chain) ProduceBlocks(count int) {
	for i := 0; i < count; i++ {
		n := c.nextNumber
		c.blocks[n] = monitor.Header{
			Number:    n,
			Hash:      HashFor(n),
			Timestamp: n * c.blockDuration,
		}
		c.nextNumber++
	}
}

// ProduceFork rewrites an already produced block with a different hash,
// simulating a competing branch becoming canonical at that height.
func (c *Chain) ProduceFork(number uint64, marker string) {
	if marker == "" {
		marker = ForkMarker
	}
	c.blocks[number] = monitor.Header{
		Number:    number,
		Hash:      marker,
		Timestamp: number * c.blockDuration,
	}
}

// Load seeds the simulated chain from persisted headers; production resumes
// after the highest loaded block.
func (c *Chain) Load(blocks map[uint64]monitor.Header) {
	c.blocks = make(map[uint64]monitor.Header, len(blocks))
	var highest uint64
	for n, h := range blocks {
		c.blocks[n] = h
		if n > highest {
			highest = n
		}
	}
	c.nextNumber = highest + 1
}

// ChainTip returns the highest produced block number.
func (c *Chain) ChainTip(_ context.Context) (uint64, error) {
	return c.nextNumber - 1, nil
}

// FetchHeaders returns the produced headers for [start, end] in order.
// Asking for block zero or beyond the produced tip is a contract violation.
func (c *Chain) FetchHeaders(_ context.Context, start, end uint64) ([]monitor.Header, error) {
	if start == 0 {
		return nil, errors.New("cannot fetch data for block zero")
	}
	if end > c.nextNumber-1 {
		return nil, fmt.Errorf("block %d not produced yet, tip is %d", end, c.nextNumber-1)
	}
	out := make([]monitor.Header, 0, end-start+1)
	for n := start; n <= end; n++ {
		out = append(out, c.blocks[n])
	}
	return out, nil
}
