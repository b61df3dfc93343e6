// Package probe implements the checks behind the monitor.Prober port.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"

	"uptime-incident-engine/internal/monitor"
)

const defaultMaxBodyBytes = 64 * 1024

// Config holds the shared collaborators of a Prober.
type Config struct {
	HTTPClient *http.Client
	// Dialer is used for websocket checks.
	Dialer *websocket.Dialer
	Clock  clock.Clock
	// MaxBodyBytes caps how much of a response body is searched for a
	// keyword.
	MaxBodyBytes int64
}

// Prober dispatches a monitor to the check for its type.
type Prober struct {
	client       *http.Client
	dialer       *websocket.Dialer
	clock        clock.Clock
	maxBodyBytes int64
}

var _ monitor.Prober = (*Prober)(nil)

func New(cfg Config) *Prober {
	p := &Prober{
		client:       cfg.HTTPClient,
		dialer:       cfg.Dialer,
		clock:        cfg.Clock,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if p.client == nil {
		p.client = NewHTTPClient(HTTPClientConfig{Timeout: 2 * time.Minute})
	}
	if p.dialer == nil {
		p.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if p.clock == nil {
		p.clock = clock.WallClock
	}
	if p.maxBodyBytes <= 0 {
		p.maxBodyBytes = defaultMaxBodyBytes
	}
	return p
}

// Probe runs one check. The caller bounds it with ctx.
func (p *Prober) Probe(ctx context.Context, m monitor.Monitor) monitor.CheckResult {
	switch m.CheckType {
	case monitor.CheckHTTP:
		return p.checkHTTP(ctx, m)
	case monitor.CheckTCP:
		return p.checkTCP(ctx, m)
	case monitor.CheckWebSocket:
		return p.checkWebSocket(ctx, m)
	}
	return monitor.CheckResult{
		ErrorMessage: fmt.Sprintf("unsupported check type %q", m.CheckType),
		ErrorType:    monitor.ErrorInvalidConfig,
		CheckedAt:    p.clock.Now(),
	}
}

// elapsedMs returns the time since start in whole milliseconds.
func (p *Prober) elapsedMs(start time.Time) *int {
	ms := int(p.clock.Now().Sub(start).Milliseconds())
	return &ms
}
