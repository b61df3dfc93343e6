// Package notify delivers incident events to the channels a monitor
// subscribes to.
package notify

import (
	"context"
	"strings"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"uptime-incident-engine/internal/monitor"
)

// Sink delivers an event to one destination.
type Sink interface {
	Send(ctx context.Context, ev monitor.Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev monitor.Event) error

func (f SinkFunc) Send(ctx context.Context, ev monitor.Event) error {
	return f(ctx, ev)
}

type DispatcherConfig struct {
	Sinks map[monitor.Channel]Sink
	// Rate caps deliveries per second across all sinks; Burst is the
	// number that may go out at once. Zero Rate means no limit.
	Rate   float64
	Burst  int
	Logger *log.Entry
}

// Dispatcher implements monitor.Notifier by fanning events out to the sinks
// of the event's channels. Tickets are not its business; the ticket channel
// is served by the incident manager's ticketer.
type Dispatcher struct {
	sinks   map[monitor.Channel]Sink
	limiter *rate.Limiter
	logger  *log.Entry
}

var _ monitor.Notifier = (*Dispatcher)(nil)

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		sinks:   make(map[monitor.Channel]Sink, len(cfg.Sinks)),
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  cfg.Logger,
	}
	for ch, s := range cfg.Sinks {
		if s != nil {
			d.sinks[ch] = s
		}
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	if d.logger == nil {
		d.logger = log.NewEntry(log.StandardLogger())
	}
	d.logger = d.logger.WithField("component", "notify")
	return d
}

// Notify sends ev to every subscribed channel that has a sink. All sinks
// are tried; the returned error lists the ones that failed.
func (d *Dispatcher) Notify(ctx context.Context, ev monitor.Event) error {
	var failed []string
	for _, ch := range ev.Channels {
		if ch == monitor.ChannelTicket {
			continue
		}
		sink, ok := d.sinks[ch]
		if !ok {
			d.logger.WithField("channel", ch).Debug("no sink configured")
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return errors.Annotatef(err, "waiting to notify %s", ch)
		}
		if err := sink.Send(ctx, ev); err != nil {
			d.logger.WithFields(log.Fields{
				"channel":     ch,
				"incident_id": ev.Incident.ID,
				"event":       ev.Kind,
			}).WithError(err).Warn("notification failed")
			failed = append(failed, string(ch)+": "+err.Error())
			continue
		}
		d.logger.WithFields(log.Fields{
			"channel":     ch,
			"incident_id": ev.Incident.ID,
			"event":       ev.Kind,
		}).Debug("notification sent")
	}
	if len(failed) > 0 {
		return errors.Errorf("notifying %s: %s", ev.Kind, strings.Join(failed, "; "))
	}
	return nil
}
