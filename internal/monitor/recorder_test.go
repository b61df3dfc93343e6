package monitor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"uptime-incident-engine/internal/monitor"
)

func TestThreeFailuresOpenOneIncident(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api", monitor.ChannelSlack, monitor.ChannelTicket)

	var isNew []bool
	for i := 0; i < 3; i++ {
		inc, created := f.fail(c, m.ID)
		isNew = append(isNew, created)
		if i < 2 {
			c.Assert(inc, qt.IsNil)
			got := f.monitor(c, m.ID)
			c.Assert(got.CurrentStatus, qt.Equals, monitor.StatusDegraded)
			c.Assert(got.ConsecutiveFailures, qt.Equals, i+1)
		} else {
			c.Assert(inc, qt.Not(qt.IsNil))
			c.Assert(inc.Status, qt.Equals, monitor.IncidentOngoing)
			c.Assert(inc.TicketID, qt.Equals, "T-"+inc.ID)
			c.Assert(inc.FirstErrorType, qt.Equals, monitor.ErrorUnexpectedStatus)
			c.Assert(inc.TotalChecks, qt.Equals, 1)
			c.Assert(inc.FailedChecks, qt.Equals, 1)
		}
	}
	c.Assert(isNew, qt.DeepEquals, []bool{false, false, true})

	got := f.monitor(c, m.ID)
	c.Assert(got.CurrentStatus, qt.Equals, monitor.StatusDown)
	c.Assert(got.ConsecutiveFailures, qt.Equals, 3)
	c.Assert(got.LastErrorMessage, qt.Equals, "bad status: 503")

	c.Assert(f.tickets.created, qt.HasLen, 1)
	req := f.tickets.created[0]
	c.Assert(req.Priority, qt.Equals, monitor.TicketUrgent)
	c.Assert(req.Severity, qt.Equals, monitor.SeverityHigh)
	c.Assert(req.Result.StatusCode, qt.Equals, 503)

	c.Assert(f.notifier.kinds(), qt.DeepEquals, []monitor.EventKind{monitor.EventIncidentOpened})
	ev := f.notifier.events[0]
	c.Assert(ev.Channels, qt.DeepEquals, []monitor.Channel{monitor.ChannelSlack, monitor.ChannelTicket})
	c.Assert(ev.Incident.TicketID, qt.Equals, "T-"+req.Incident.ID)

	// The stored incident carries the ticket link too.
	stored := f.ongoing(c, m.ID)
	c.Assert(stored, qt.HasLen, 1)
	c.Assert(stored[0].TicketID, qt.Equals, "T-"+stored[0].ID)
}

func TestFurtherFailuresExtendIncident(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api", monitor.ChannelTicket)

	f.fail(c, m.ID)
	f.fail(c, m.ID)
	first, isNew := f.fail(c, m.ID)
	c.Assert(isNew, qt.IsTrue)

	_, _, _, err := f.recorder.RecordCheckResult(context.Background(), m.ID, monitor.CheckResult{
		ErrorMessage: "dial tcp: connection refused",
		ErrorType:    monitor.ErrorConnection,
		CheckedAt:    f.clock.Now(),
	})
	c.Assert(err, qt.IsNil)
	inc, isNew := f.fail(c, m.ID)
	c.Assert(isNew, qt.IsFalse)
	c.Assert(inc.ID, qt.Equals, first.ID)
	c.Assert(inc.TotalChecks, qt.Equals, 3)
	c.Assert(inc.FailedChecks, qt.Equals, 3)
	c.Assert(inc.FirstErrorType, qt.Equals, monitor.ErrorUnexpectedStatus)
	c.Assert(inc.LastErrorType, qt.Equals, monitor.ErrorUnexpectedStatus)

	c.Assert(f.ongoing(c, m.ID), qt.HasLen, 1)
	c.Assert(f.tickets.created, qt.HasLen, 1)
	c.Assert(f.tickets.comments["T-"+first.ID], qt.HasLen, 2)
	c.Assert(f.tickets.comments["T-"+first.ID][0], qt.Contains, "connection refused")
}

func TestRecoveryResolvesAndClosesTicketOnce(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api", monitor.ChannelTicket, monitor.ChannelWebhook)

	f.fail(c, m.ID)
	f.fail(c, m.ID)
	opened, _ := f.fail(c, m.ID)

	inc := f.succeed(c, m.ID, 150)
	c.Assert(inc, qt.Not(qt.IsNil))
	c.Assert(inc.ID, qt.Equals, opened.ID)
	c.Assert(inc.Status, qt.Equals, monitor.IncidentResolved)
	c.Assert(inc.ResolvedAt, qt.Not(qt.IsNil))
	c.Assert(inc.TotalChecks, qt.Equals, 2)
	c.Assert(inc.FailedChecks, qt.Equals, 1)

	got := f.monitor(c, m.ID)
	c.Assert(got.ConsecutiveFailures, qt.Equals, 0)
	c.Assert(got.CurrentStatus, qt.Equals, monitor.StatusUp)
	c.Assert(got.LastErrorMessage, qt.Equals, "")
	c.Assert(*got.LastResponseTimeMs, qt.Equals, 150)
	c.Assert(f.ongoing(c, m.ID), qt.HasLen, 0)
	c.Assert(f.tickets.closedTickets(), qt.DeepEquals, []string{"T-" + opened.ID})

	// A second recovery has nothing to resolve.
	again, err := f.incidents.HandleRecovery(context.Background(), got)
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.IsNil)
	c.Assert(f.tickets.closedTickets(), qt.HasLen, 1)

	// Nor does another success.
	c.Assert(f.succeed(c, m.ID, 100), qt.IsNil)
	c.Assert(f.tickets.closedTickets(), qt.HasLen, 1)

	c.Assert(f.notifier.kinds(), qt.DeepEquals, []monitor.EventKind{
		monitor.EventIncidentOpened,
		monitor.EventIncidentResolved,
	})
}

func TestRecoveryFromDegradedOpensNothing(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api", monitor.ChannelTicket)

	f.fail(c, m.ID)
	f.fail(c, m.ID)
	c.Assert(f.succeed(c, m.ID, 90), qt.IsNil)

	got := f.monitor(c, m.ID)
	c.Assert(got.CurrentStatus, qt.Equals, monitor.StatusUp)
	c.Assert(got.ConsecutiveFailures, qt.Equals, 0)
	c.Assert(f.tickets.created, qt.HasLen, 0)
	c.Assert(f.notifier.events, qt.HasLen, 0)
}

func TestDegradedRecoveryHasNoSideEffects(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api", monitor.ChannelTicket, monitor.ChannelSlack)

	// An earlier incident, already settled, must not be touched again.
	f.fail(c, m.ID)
	f.fail(c, m.ID)
	f.fail(c, m.ID)
	c.Assert(f.succeed(c, m.ID, 40), qt.Not(qt.IsNil))
	closed, events := len(f.tickets.closedTickets()), len(f.notifier.kinds())

	f.fail(c, m.ID)
	f.fail(c, m.ID)
	c.Assert(f.monitor(c, m.ID).CurrentStatus, qt.Equals, monitor.StatusDegraded)
	_, inc, isNew, err := f.recorder.RecordCheckResult(context.Background(), m.ID, monitor.CheckResult{
		IsUp:      true,
		CheckedAt: f.clock.Now(),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(inc, qt.IsNil)
	c.Assert(isNew, qt.IsFalse)

	c.Assert(f.monitor(c, m.ID).CurrentStatus, qt.Equals, monitor.StatusUp)
	c.Assert(f.tickets.closedTickets(), qt.HasLen, closed)
	c.Assert(f.notifier.kinds(), qt.HasLen, events)
	c.Assert(f.tickets.created, qt.HasLen, 1)
	c.Assert(f.ongoing(c, m.ID), qt.HasLen, 0)
	err = testutil.CollectAndCompare(f.metrics, strings.NewReader(`
# HELP uptime_incidents_resolved_total The number of incidents resolved, by how they were resolved.
# TYPE uptime_incidents_resolved_total counter
uptime_incidents_resolved_total{how="check"} 1
`), "uptime_incidents_resolved_total")
	c.Assert(err, qt.IsNil)
}

func TestNoRecoveryNotificationWhenDisabled(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	spec := httpSpec("api", monitor.ChannelSlack)
	off := false
	spec.NotifyOnRecovery = &off
	m, err := f.service.CreateMonitor(context.Background(), "ws1", spec)
	c.Assert(err, qt.IsNil)

	f.fail(c, m.ID)
	f.fail(c, m.ID)
	f.fail(c, m.ID)
	c.Assert(f.succeed(c, m.ID, 10), qt.Not(qt.IsNil))
	c.Assert(f.notifier.kinds(), qt.DeepEquals, []monitor.EventKind{monitor.EventIncidentOpened})
}

func TestSideEffectFailuresAreSwallowed(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.tickets.createErr = errBoom
	f.notifier.err = errBoom
	m := f.createMonitor(c, "api", monitor.ChannelTicket, monitor.ChannelSlack)

	f.fail(c, m.ID)
	f.fail(c, m.ID)
	inc, isNew := f.fail(c, m.ID)
	c.Assert(isNew, qt.IsTrue)
	c.Assert(inc.TicketID, qt.Equals, "")
	c.Assert(f.ongoing(c, m.ID), qt.HasLen, 1)
	c.Assert(f.monitor(c, m.ID).CurrentStatus, qt.Equals, monitor.StatusDown)

	c.Assert(testutil.CollectAndCount(f.metrics, "uptime_side_effect_failures_total"), qt.Equals, 2)

	// Recovery still works without a ticket.
	resolved := f.succeed(c, m.ID, 80)
	c.Assert(resolved.Status, qt.Equals, monitor.IncidentResolved)
	c.Assert(f.tickets.closedTickets(), qt.HasLen, 0)
}

func TestAlreadyClosedTicketIsNotAFailure(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.tickets.closeErr = errors.Annotate(monitor.TicketAlreadyClosed, "T-1")
	m := f.createMonitor(c, "api", monitor.ChannelTicket)

	f.fail(c, m.ID)
	f.fail(c, m.ID)
	f.fail(c, m.ID)
	c.Assert(f.succeed(c, m.ID, 10), qt.Not(qt.IsNil))
	c.Assert(f.tickets.closedTickets(), qt.HasLen, 1)
	c.Assert(testutil.CollectAndCount(f.metrics, "uptime_side_effect_failures_total"), qt.Equals, 0)
}

func TestRecordForDeletedMonitor(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api")
	c.Assert(f.service.DeleteMonitor(context.Background(), m.ID), qt.IsNil)

	_, _, _, err := f.recorder.RecordCheckResult(context.Background(), m.ID, monitor.CheckResult{IsUp: true})
	c.Assert(errors.Is(err, monitor.MonitorNotFound), qt.IsTrue)

	checks, err := f.store.ListChecks(context.Background(), m.ID, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(checks, qt.HasLen, 0)
}

func TestResultForPausedMonitorIsStoredOnly(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api")
	f.fail(c, m.ID)
	_, err := f.service.PauseMonitor(context.Background(), m.ID)
	c.Assert(err, qt.IsNil)

	check, inc, _, err := f.recorder.RecordCheckResult(context.Background(), m.ID, monitor.CheckResult{
		ErrorMessage: "late result",
		CheckedAt:    f.clock.Now(),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(inc, qt.IsNil)
	c.Assert(check.MonitorID, qt.Equals, m.ID)

	got := f.monitor(c, m.ID)
	c.Assert(got.CurrentStatus, qt.Equals, monitor.StatusPaused)
	c.Assert(got.ConsecutiveFailures, qt.Equals, 1)
	c.Assert(got.NextCheckAt, qt.IsNil)

	checks, err := f.store.ListChecks(context.Background(), m.ID, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(checks, qt.HasLen, 2)
}

func TestRecordArmsNextCheckAndPublishes(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api")

	checkedAt := f.clock.Now()
	check, _, _, err := f.recorder.RecordCheckResult(context.Background(), m.ID, monitor.CheckResult{IsUp: true, StatusCode: 200})
	c.Assert(err, qt.IsNil)
	c.Assert(check.ID, qt.Not(qt.Equals), "")
	c.Assert(check.CheckedAt, qt.Equals, checkedAt)

	got := f.monitor(c, m.ID)
	c.Assert(*got.NextCheckAt, qt.Equals, checkedAt.Add(time.Minute))
	c.Assert(*got.LastCheckAt, qt.Equals, checkedAt)

	published, ok := f.board.get(m.ID)
	c.Assert(ok, qt.IsTrue)
	c.Assert(published.CurrentStatus, qt.Equals, monitor.StatusUp)
}

func TestStatusInvariantHoldsAcrossSequence(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api", monitor.ChannelTicket)

	for i, up := range []bool{false, false, false, false, true, false, true, false, false, false, true} {
		if up {
			f.succeed(c, m.ID, 100)
		} else {
			f.fail(c, m.ID)
		}
		got := f.monitor(c, m.ID)
		assertStatusInvariant(c, got)
		c.Assert(len(f.ongoing(c, m.ID)) <= 1, qt.IsTrue, qt.Commentf("step %d", i))
	}

	all, err := f.incidents.ListIncidents(context.Background(), monitor.IncidentFilter{MonitorID: m.ID})
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 2)
	for _, inc := range all {
		c.Assert(inc.Status, qt.Equals, monitor.IncidentResolved)
	}
	c.Assert(f.tickets.closedTickets(), qt.HasLen, 2)
}

func TestRaisedThresholdStillSettlesIncident(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api")
	f.fail(c, m.ID)
	f.fail(c, m.ID)
	f.fail(c, m.ID)

	spec := httpSpec("api")
	spec.ConsecutiveFailuresThreshold = 5
	updated, err := f.service.UpdateMonitor(context.Background(), m.ID, spec)
	c.Assert(err, qt.IsNil)
	c.Assert(updated.CurrentStatus, qt.Equals, monitor.StatusDegraded)
	c.Assert(f.ongoing(c, m.ID), qt.HasLen, 1)

	inc := f.succeed(c, m.ID, 10)
	c.Assert(inc, qt.Not(qt.IsNil))
	c.Assert(inc.Status, qt.Equals, monitor.IncidentResolved)
	c.Assert(f.ongoing(c, m.ID), qt.HasLen, 0)
}
