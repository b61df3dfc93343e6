package probe

import (
	"context"
	"net"

	"uptime-incident-engine/internal/monitor"
)

// checkTCP reports the monitor up when a TCP connection can be opened.
func (p *Prober) checkTCP(ctx context.Context, m monitor.Monitor) monitor.CheckResult {
	start := p.clock.Now()
	res := monitor.CheckResult{CheckedAt: start}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.Target())
	res.ResponseTimeMs = p.elapsedMs(start)
	if err != nil {
		res.ErrorType, res.ErrorMessage = classify(ctx, err)
		return res
	}
	_ = conn.Close()

	res.IsUp = true
	return res
}
