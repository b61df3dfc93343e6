package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"uptime-incident-engine/internal/monitor"
)

// checkHTTP performs a single HTTP check.
//   - Measures latency up to the response headers.
//   - Validates the expected status (any 2xx/3xx when unset).
//   - Searches the body for the keyword, if one is configured.
func (p *Prober) checkHTTP(ctx context.Context, m monitor.Monitor) monitor.CheckResult {
	start := p.clock.Now()
	res := monitor.CheckResult{CheckedAt: start}

	method := m.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, m.URL, nil)
	if err != nil {
		res.ErrorMessage = fmt.Sprintf("build request: %v", err)
		res.ErrorType = monitor.ErrorInvalidConfig
		return res
	}

	resp, err := p.client.Do(req)
	if err != nil {
		res.ResponseTimeMs = p.elapsedMs(start)
		res.ErrorType, res.ErrorMessage = classify(ctx, err)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.ResponseTimeMs = p.elapsedMs(start)

	if m.ExpectedStatus != 0 && resp.StatusCode != m.ExpectedStatus {
		res.ErrorMessage = fmt.Sprintf("unexpected status: got %d want %d", resp.StatusCode, m.ExpectedStatus)
		res.ErrorType = monitor.ErrorUnexpectedStatus
		return res
	}
	if m.ExpectedStatus == 0 && (resp.StatusCode < 200 || resp.StatusCode >= 400) {
		res.ErrorMessage = fmt.Sprintf("bad status: %d", resp.StatusCode)
		res.ErrorType = monitor.ErrorUnexpectedStatus
		return res
	}

	if keyword := strings.TrimSpace(m.Keyword); keyword != "" {
		if method == http.MethodHead {
			res.ErrorMessage = "keyword check configured but method is HEAD (no body)"
			res.ErrorType = monitor.ErrorInvalidConfig
			return res
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBodyBytes))
		if err != nil {
			res.ErrorType, res.ErrorMessage = classify(ctx, err)
			res.ErrorMessage = "read body: " + res.ErrorMessage
			return res
		}
		if !strings.Contains(string(body), keyword) {
			res.ErrorMessage = fmt.Sprintf("keyword missing: %q", keyword)
			res.ErrorType = monitor.ErrorKeywordMissing
			return res
		}
	}

	res.IsUp = true
	return res
}
