package unreal

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives each polled snapshot. It must not block.
type Sink func(props map[string]any)

// Poller fetches the properties of one object on a fixed period. Failed
// fetches deliver an empty snapshot and polling carries on.
type Poller struct {
	client     *Client
	objectPath string
	interval   time.Duration
	sink       Sink
	logger     *slog.Logger
}

func NewPoller(client *Client, objectPath string, interval time.Duration, sink Sink, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:     client,
		objectPath: objectPath,
		interval:   interval,
		sink:       sink,
		logger:     logger,
	}
}

// Snapshot fetches every property of the polled object. Errors are logged and
// yield an empty map.
func (p *Poller) Snapshot(ctx context.Context) map[string]any {
	props, err := p.client.GetProperty(ctx, p.objectPath, "")
	if err != nil {
		p.logger.Error("failed to get visualization property", "object", p.objectPath, "err", err)
		return map[string]any{}
	}
	return props
}

// Run polls until ctx is cancelled. With no object path configured it
// returns immediately.
func (p *Poller) Run(ctx context.Context) {
	if p.objectPath == "" {
		p.logger.Warn("solar object path not configured, visualization polling disabled")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		props := p.Snapshot(ctx)
		if ctx.Err() != nil {
			return
		}
		p.sink(props)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
