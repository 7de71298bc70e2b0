package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Forwarder delivers a copy of each emitted line to a remote collector.
// Implementations must not block for long and must never report failure.
type Forwarder interface {
	Forward(ctx context.Context, line []byte)
}

// NopForwarder drops everything.
type NopForwarder struct{}

func (NopForwarder) Forward(context.Context, []byte) {}

// HTTPForwarder POSTs lines to a collector endpoint. Reachability is probed
// once on first use; an unreachable collector turns every later Forward into
// a no-op.
type HTTPForwarder struct {
	url    string
	client *http.Client
	logger *zap.Logger

	once      sync.Once
	reachable bool
}

// NewHTTPForwarder creates a forwarder for the collector at url.
func NewHTTPForwarder(url string, logger *zap.Logger) *HTTPForwarder {
	return &HTTPForwarder{
		url:    url,
		client: &http.Client{Timeout: 2 * time.Second},
		logger: logger,
	}
}

// Probe reports whether the collector answered at all. Any HTTP response
// counts as reachable; only transport errors do not.
func (f *HTTPForwarder) Probe(ctx context.Context) bool {
	f.once.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
		if err != nil {
			f.logger.Debug("collector probe failed", zap.String("url", f.url), zap.Error(err))
			return
		}
		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.Debug("collector unreachable", zap.String("url", f.url), zap.Error(err))
			return
		}
		resp.Body.Close()
		f.reachable = true
	})
	return f.reachable
}

func (f *HTTPForwarder) Forward(ctx context.Context, line []byte) {
	if !f.Probe(ctx) {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(line))
	if err != nil {
		f.logger.Debug("forward request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("forward failed", zap.String("url", f.url), zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		f.logger.Debug("collector rejected line", zap.String("url", f.url), zap.Int("status", resp.StatusCode))
	}
}
