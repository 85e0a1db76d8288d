// Package rpc reads block headers from a live EVM node over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/devblac/headwatch/internal/monitor"
)

// HeaderClient captures the subset of ethclient used by the header source.
type HeaderClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client adapts an EVM JSON-RPC endpoint to monitor.HeaderSource.
type Client struct {
	client HeaderClient
	log    *slog.Logger
}

// Dial connects to an EVM node.
func Dial(rpcURL string, log *slog.Logger) (*Client, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return New(c, log), nil
}

// New wraps an existing header client.
func New(client HeaderClient, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{client: client, log: log}
}

// ChainTip returns the latest block number the node reports as canonical.
func (c *Client) ChainTip(ctx context.Context) (uint64, error) {
	h, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return h.Number.Uint64(), nil
}

// FetchHeaders reads headers for the inclusive range [start, end] block by
// block. A not-found response means the tip moved under us; the read is cut
// short and the headers fetched so far are returned.
func (c *Client) FetchHeaders(ctx context.Context, start, end uint64) ([]monitor.Header, error) {
	if end < start {
		return nil, fmt.Errorf("end block %d before start block %d", end, start)
	}

	c.log.Debug("fetching block headers", "start", start, "end", end, "total", end-start+1)

	headers := make([]monitor.Header, 0, end-start+1)
	for n := start; n <= end; n++ {
		h, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				c.log.Debug("short read, tip moved", "requested_end", end, "got_until", n-1)
				return headers, nil
			}
			return nil, fmt.Errorf("header %d: %w", n, err)
		}
		if got := h.Number.Uint64(); got != n {
			return nil, fmt.Errorf("node returned header %d for block %d", got, n)
		}
		headers = append(headers, monitor.Header{
			Number:    n,
			Hash:      h.Hash().Hex(),
			Timestamp: h.Time,
		})
	}
	return headers, nil
}
