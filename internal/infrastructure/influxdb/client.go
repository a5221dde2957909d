package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	// SiteTag is the tag carrying site.id on every point.
	SiteTag = "site"
)

// Client is the time-series sink for one irrigation site. Sensor snapshots
// taken by the reconciler and circuit transitions are written as points
// tagged with the site they came from, so several installations can share
// a bucket.
//
// Writes are batched and never block the caller. Failed batches are handed
// to the SetOnError callback.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	site     string

	connected atomic.Bool
	onError   atomic.Pointer[func(error)]
}

// Connect pings the server and starts a batching writer for cfg.Bucket.
//
// Parameters:
//   - ctx: bounds the initial ping together with a fixed connect timeout
//   - cfg: influxdb section of the configuration
//   - siteID: value of the site tag added to every point
//
// Returns:
//   - *Client: ready for writes
//   - error: ErrDisabled when the sink is switched off, ErrConnectionFailed otherwise
func Connect(ctx context.Context, cfg config.InfluxDBConfig, siteID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg, siteID))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		site:     siteID,
	}
	c.connected.Store(true)
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

// writeOptions turns the batching settings into client options. Readings
// are taken at most once per reconcile pass, so millisecond precision is
// enough.
func writeOptions(cfg config.InfluxDBConfig, siteID string) *influxdb2.Options {
	batchSize := defaultBatchSize
	if cfg.BatchSize > 0 {
		batchSize = cfg.BatchSize
	}
	flushInterval := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flushInterval = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)). // #nosec G115 -- positive, checked above
		SetFlushInterval(uint(flushInterval.Milliseconds())).
		SetPrecision(time.Millisecond)
	if siteID != "" {
		opts.AddDefaultTag(SiteTag, siteID)
	}
	return opts
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		if cb := c.onError.Load(); cb != nil {
			(*cb)(err)
		}
	}
}

// Site returns the site tag applied to written points.
func (c *Client) Site() string {
	return c.site
}

// Close writes out pending points and releases the client. Writes after
// Close are dropped.
func (c *Client) Close() error {
	if c.client == nil || !c.connected.Swap(false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the client accepts writes.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// SetOnError sets the callback for failed batch writes. nil removes it.
func (c *Client) SetOnError(callback func(err error)) {
	if callback == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&callback)
}

// Flush writes buffered points and waits until that is done or ctx ends.
// The one-shot reconcile command uses it so a pass's readings are stored
// before the process exits.
func (c *Client) Flush(ctx context.Context) error {
	if c.writeAPI == nil || !c.IsConnected() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		c.writeAPI.Flush()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flushing points: %w", ctx.Err())
	}
}
