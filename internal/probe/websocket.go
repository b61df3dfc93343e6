package probe

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

// checkWebSocket completes an opening handshake and closes the connection
// cleanly.
func (p *Prober) checkWebSocket(ctx context.Context, m monitor.Monitor) monitor.CheckResult {
	start := p.clock.Now()
	res := monitor.CheckResult{CheckedAt: start}

	conn, resp, err := p.dialer.DialContext(ctx, m.URL, nil)
	res.ResponseTimeMs = p.elapsedMs(start)
	if resp != nil {
		res.StatusCode = resp.StatusCode
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			res.ErrorMessage = fmt.Sprintf("handshake rejected with status %d", resp.StatusCode)
			res.ErrorType = monitor.ErrorUnexpectedStatus
			return res
		}
		res.ErrorType, res.ErrorMessage = classify(ctx, err)
		return res
	}
	defer conn.Close()

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	res.IsUp = true
	return res
}
