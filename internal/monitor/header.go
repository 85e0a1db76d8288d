package monitor

import "context"

// Header is the minimal per-block identity used for consistency checks.
type Header struct {
	Number    uint64 `json:"number"`
	Hash      string `json:"hash"`
	Timestamp uint64 `json:"timestamp"`
}

// HeaderSource supplies block headers from a live node or a simulated chain.
//
// FetchHeaders returns headers for the inclusive range [start, end] in
// increasing block number order. It may return fewer headers than requested
// when the chain tip is unstable (e.g. a load-balanced RPC backend lags);
// callers must tolerate short reads.
type HeaderSource interface {
	ChainTip(ctx context.Context) (uint64, error)
	FetchHeaders(ctx context.Context, start, end uint64) ([]Header, error)
}
