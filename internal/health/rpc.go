package health

import (
	"context"
	"fmt"

	"github.com/devblac/headwatch/internal/monitor"
)

// RPCChecker pings the chain-header source.
type RPCChecker struct {
	source monitor.HeaderSource
}

// NewRPCChecker creates a checker for a header source.
func NewRPCChecker(source monitor.HeaderSource) *RPCChecker {
	return &RPCChecker{source: source}
}

// Ping asks the source for the chain tip.
func (c *RPCChecker) Ping(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	if _, err := c.source.ChainTip(ctx); err != nil {
		return fmt.Errorf("chain tip: %w", err)
	}
	return nil
}
