package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"strings"

	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

// classify maps a transport error onto the check error taxonomy and a
// stable, human-readable message.
func classify(ctx context.Context, err error) (monitor.ErrorType, string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return monitor.ErrorTimeout, "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return monitor.ErrorTimeout, "timeout"
	}
	if isTLSError(err) {
		return monitor.ErrorSSL, err.Error()
	}
	return monitor.ErrorConnection, err.Error()
}

func isTLSError(err error) bool {
	var (
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &certErr),
		errors.As(err, &recordErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr):
		return true
	}
	// Alerts from the peer are not exported as types.
	return strings.Contains(err.Error(), "tls: ")
}
