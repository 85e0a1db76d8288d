package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devblac/headwatch/internal/metrics"
	"github.com/devblac/headwatch/internal/monitor"
	"github.com/devblac/headwatch/internal/sink"
	"github.com/devblac/headwatch/internal/storage"
)

// Runner drives the monitor duty cycle: one UpdateChain per tick, persisting
// newly read headers, purging persisted rows above the watermark on reorg,
// and notifying sinks.
type Runner struct {
	mon     *monitor.Monitor
	store   *storage.Store
	sinks   map[string]sink.Sender
	mtr     *metrics.Metrics
	log     *slog.Logger
	chainID string
}

// NewRunner wires a monitor to its persistence, metrics, and sinks. store,
// sinks, and mtr may be nil/empty for callers that do not need them.
func NewRunner(mon *monitor.Monitor, store *storage.Store, sinks map[string]sink.Sender, mtr *metrics.Metrics, log *slog.Logger, chainID string) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		mon:     mon,
		store:   store,
		sinks:   sinks,
		mtr:     mtr,
		log:     log,
		chainID: chainID,
	}
}

// RunOnce performs one duty cycle and returns the resolution. A resolution
// failure is notified and surfaced; the caller decides whether to restart
// the monitor fresh or abort.
func (r *Runner) RunOnce(ctx context.Context) (monitor.Resolution, error) {
	prevLast := r.mon.LastBlockRead()

	res, err := r.mon.UpdateChain(ctx)
	if err != nil {
		if errors.Is(err, monitor.ErrResolutionFailure) {
			r.mtr.ResolutionFailure()
			r.notify(ctx, sink.Payload{
				Kind:          sink.KindResolutionFailed,
				Chain:         r.chainID,
				LastLiveBlock: r.mon.LastBlockRead(),
				Detail:        err.Error(),
			})
		}
		return monitor.Resolution{}, err
	}

	persistFrom := prevLast + 1
	if res.ReorgDetected {
		r.mtr.ReorgDetected()
		if r.store != nil {
			if err := r.store.TruncateAbove(ctx, res.LatestGoodBlock); err != nil {
				return res, fmt.Errorf("purge stored headers: %w", err)
			}
		}
		if res.LatestGoodBlock+1 < persistFrom {
			persistFrom = res.LatestGoodBlock + 1
		}
		r.notify(ctx, sink.Payload{
			Kind:            sink.KindReorgDetected,
			Chain:           r.chainID,
			LastLiveBlock:   res.LastLiveBlock,
			LatestGoodBlock: res.LatestGoodBlock,
		})
	}

	last := r.mon.LastBlockRead()
	if r.store != nil && last >= persistFrom {
		headers := make([]monitor.Header, 0, last-persistFrom+1)
		for n := persistFrom; n <= last; n++ {
			if h, ok := r.mon.HeaderByNumber(n); ok {
				headers = append(headers, h)
			}
		}
		if err := r.store.SaveHeaders(ctx, headers); err != nil {
			return res, fmt.Errorf("save headers: %w", err)
		}
		r.mtr.BlocksRead(uint64(len(headers)))
	}
	r.mtr.SetLastBlockRead(last)

	r.log.Debug("duty cycle complete",
		"last_block", last,
		"reorg_detected", res.ReorgDetected,
		"latest_good_block", res.LatestGoodBlock,
	)
	return res, nil
}

func (r *Runner) notify(ctx context.Context, payload sink.Payload) {
	for id, s := range r.sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, payload); err != nil {
			r.log.Warn("sink send failed", "sink", id, "kind", payload.Kind, "error", err)
		}
	}
}
