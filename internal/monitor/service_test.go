package monitor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

func TestCreateMonitorDefaults(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)

	m, err := f.service.CreateMonitor(context.Background(), "ws1", monitor.MonitorSpec{
		Name: "  api  ",
		URL:  "https://example.com",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(m.ID, qt.Not(qt.Equals), "")
	c.Assert(m.Name, qt.Equals, "api")
	c.Assert(m.CheckType, qt.Equals, monitor.CheckHTTP)
	c.Assert(m.Method, qt.Equals, "GET")
	c.Assert(m.CheckIntervalSeconds, qt.Equals, monitor.DefaultIntervalSeconds)
	c.Assert(m.TimeoutSeconds, qt.Equals, monitor.DefaultTimeoutSeconds)
	c.Assert(m.ConsecutiveFailuresThreshold, qt.Equals, monitor.DefaultFailureThreshold)
	c.Assert(m.Severity, qt.Equals, monitor.SeverityHigh)
	c.Assert(m.NotifyOnRecovery, qt.IsTrue)
	c.Assert(m.IsActive, qt.IsTrue)
	c.Assert(m.CurrentStatus, qt.Equals, monitor.StatusUnknown)
	c.Assert(*m.NextCheckAt, qt.Equals, t0.Add(30*time.Second))

	_, ok := f.board.get(m.ID)
	c.Assert(ok, qt.IsTrue)
}

func TestCreateMonitorDuplicateName(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.createMonitor(c, "api")

	_, err := f.service.CreateMonitor(context.Background(), "ws1", httpSpec("api"))
	c.Assert(errors.Is(err, monitor.DuplicateMonitorName), qt.IsTrue)

	_, err = f.service.CreateMonitor(context.Background(), "ws2", httpSpec("api"))
	c.Assert(err, qt.IsNil)
}

func TestMonitorSpecValidation(t *testing.T) {
	tests := []struct {
		about string
		spec  monitor.MonitorSpec
		err   string
	}{{
		about: "missing name",
		spec:  monitor.MonitorSpec{URL: "https://example.com"},
		err:   "missing name",
	}, {
		about: "bad scheme",
		spec:  monitor.MonitorSpec{Name: "x", URL: "ftp://example.com"},
		err:   "must start with http:// or https://",
	}, {
		about: "websocket needs ws scheme",
		spec:  monitor.MonitorSpec{Name: "x", CheckType: monitor.CheckWebSocket, URL: "https://example.com"},
		err:   "must start with ws:// or wss://",
	}, {
		about: "tcp without host",
		spec:  monitor.MonitorSpec{Name: "x", CheckType: monitor.CheckTCP, Port: 22},
		err:   "missing host",
	}, {
		about: "tcp port out of range",
		spec:  monitor.MonitorSpec{Name: "x", CheckType: monitor.CheckTCP, Host: "db", Port: 70000},
		err:   "tcp port must be 1..65535",
	}, {
		about: "unknown check type",
		spec:  monitor.MonitorSpec{Name: "x", CheckType: "icmp"},
		err:   `unknown check type "icmp"`,
	}, {
		about: "bad method",
		spec:  monitor.MonitorSpec{Name: "x", URL: "https://example.com", Method: "POST"},
		err:   "invalid method",
	}, {
		about: "keyword with HEAD",
		spec:  monitor.MonitorSpec{Name: "x", URL: "https://example.com", Method: "head", Keyword: "ok"},
		err:   "method HEAD cannot check a keyword",
	}, {
		about: "interval too short",
		spec:  monitor.MonitorSpec{Name: "x", URL: "https://example.com", CheckIntervalSeconds: 5},
		err:   "check_interval_seconds",
	}, {
		about: "timeout above interval",
		spec:  monitor.MonitorSpec{Name: "x", URL: "https://example.com", CheckIntervalSeconds: 10, TimeoutSeconds: 20},
		err:   "cannot exceed",
	}, {
		about: "negative threshold",
		spec:  monitor.MonitorSpec{Name: "x", URL: "https://example.com", ConsecutiveFailuresThreshold: -1},
		err:   "consecutive_failures_threshold",
	}, {
		about: "unknown channel",
		spec:  monitor.MonitorSpec{Name: "x", URL: "https://example.com", NotificationChannels: []monitor.Channel{"pager"}},
		err:   `unknown notification channel "pager"`,
	}, {
		about: "unknown severity",
		spec:  monitor.MonitorSpec{Name: "x", URL: "https://example.com", Severity: "extreme"},
		err:   `unknown severity "extreme"`,
	}}

	for _, test := range tests {
		t.Run(test.about, func(t *testing.T) {
			c := qt.New(t)
			spec := test.spec
			err := spec.Normalize()
			c.Assert(errors.Is(err, monitor.InvalidMonitor), qt.IsTrue, qt.Commentf("%v", err))
			c.Assert(strings.Contains(err.Error(), test.err), qt.IsTrue, qt.Commentf("%v", err))
		})
	}
}

func TestMonitorSpecDeduplicatesChannels(t *testing.T) {
	c := qt.New(t)
	spec := monitor.MonitorSpec{
		Name:                 "tcp",
		CheckType:            monitor.CheckTCP,
		Host:                 "db.internal",
		Port:                 5432,
		NotificationChannels: []monitor.Channel{"slack", "ticket", "slack"},
	}
	c.Assert(spec.Normalize(), qt.IsNil)
	c.Assert(spec.NotificationChannels, qt.DeepEquals, []monitor.Channel{monitor.ChannelSlack, monitor.ChannelTicket})
	c.Assert(spec.Method, qt.Equals, "")
}

func TestPauseAndResume(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api")
	f.fail(c, m.ID)

	paused, err := f.service.PauseMonitor(context.Background(), m.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(paused.IsActive, qt.IsFalse)
	c.Assert(paused.CurrentStatus, qt.Equals, monitor.StatusPaused)
	c.Assert(paused.NextCheckAt, qt.IsNil)

	due, err := f.store.DueMonitors(context.Background(), f.clock.Now().Add(24*time.Hour), 10)
	c.Assert(err, qt.IsNil)
	c.Assert(due, qt.HasLen, 0)

	// Pausing twice is harmless.
	_, err = f.service.PauseMonitor(context.Background(), m.ID)
	c.Assert(err, qt.IsNil)

	resumed, err := f.service.ResumeMonitor(context.Background(), m.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(resumed.IsActive, qt.IsTrue)
	c.Assert(resumed.CurrentStatus, qt.Equals, monitor.StatusUnknown)
	c.Assert(*resumed.NextCheckAt, qt.Equals, f.clock.Now().Add(monitor.FirstCheckDelay))
	c.Assert(resumed.ConsecutiveFailures, qt.Equals, 1)

	published, _ := f.board.get(m.ID)
	c.Assert(published.CurrentStatus, qt.Equals, monitor.StatusUnknown)
}

func TestResumeKeepsIncidentResolvable(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m, inc := openIncident(c, f, "api", monitor.ChannelTicket)

	_, err := f.service.PauseMonitor(context.Background(), m.ID)
	c.Assert(err, qt.IsNil)
	_, err = f.service.ResumeMonitor(context.Background(), m.ID)
	c.Assert(err, qt.IsNil)

	resolved := f.succeed(c, m.ID, 10)
	c.Assert(resolved, qt.Not(qt.IsNil))
	c.Assert(resolved.ID, qt.Equals, inc.ID)
	c.Assert(f.tickets.closedTickets(), qt.HasLen, 1)
}

func TestUpdateMonitor(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api")
	f.createMonitor(c, "web")
	f.fail(c, m.ID)
	f.fail(c, m.ID)

	spec := httpSpec("api-v2", monitor.ChannelWebhook)
	spec.ConsecutiveFailuresThreshold = 2
	spec.Severity = monitor.SeverityCritical
	updated, err := f.service.UpdateMonitor(context.Background(), m.ID, spec)
	c.Assert(err, qt.IsNil)
	c.Assert(updated.Name, qt.Equals, "api-v2")
	c.Assert(updated.Severity, qt.Equals, monitor.SeverityCritical)
	c.Assert(updated.ConsecutiveFailures, qt.Equals, 2)
	c.Assert(updated.CurrentStatus, qt.Equals, monitor.StatusDown)
	c.Assert(updated.CreatedAt, qt.Equals, m.CreatedAt)

	// No incident exists until the next failing check.
	c.Assert(f.ongoing(c, m.ID), qt.HasLen, 0)
	_, isNew := f.fail(c, m.ID)
	c.Assert(isNew, qt.IsTrue)

	_, err = f.service.UpdateMonitor(context.Background(), m.ID, httpSpec("web"))
	c.Assert(errors.Is(err, monitor.DuplicateMonitorName), qt.IsTrue)

	_, err = f.service.UpdateMonitor(context.Background(), "missing", httpSpec("x"))
	c.Assert(errors.Is(err, monitor.MonitorNotFound), qt.IsTrue)
}

func TestLoweredThresholdThenSuccessResolvesNothing(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api", monitor.ChannelTicket, monitor.ChannelSlack)
	f.fail(c, m.ID)
	f.fail(c, m.ID)

	spec := httpSpec("api", monitor.ChannelTicket, monitor.ChannelSlack)
	spec.ConsecutiveFailuresThreshold = 1
	updated, err := f.service.UpdateMonitor(context.Background(), m.ID, spec)
	c.Assert(err, qt.IsNil)
	c.Assert(updated.CurrentStatus, qt.Equals, monitor.StatusDown)
	assertStatusInvariant(c, updated)
	c.Assert(f.ongoing(c, m.ID), qt.HasLen, 0)

	c.Assert(f.succeed(c, m.ID, 40), qt.IsNil)
	got := f.monitor(c, m.ID)
	c.Assert(got.CurrentStatus, qt.Equals, monitor.StatusUp)
	assertStatusInvariant(c, got)
	c.Assert(f.tickets.created, qt.HasLen, 0)
	c.Assert(f.tickets.closedTickets(), qt.HasLen, 0)
	c.Assert(f.notifier.kinds(), qt.HasLen, 0)
}

func TestDeleteMonitor(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m, _ := openIncident(c, f, "api")

	c.Assert(f.service.DeleteMonitor(context.Background(), m.ID), qt.IsNil)
	_, err := f.service.GetMonitor(context.Background(), m.ID)
	c.Assert(errors.Is(err, monitor.MonitorNotFound), qt.IsTrue)
	_, ok := f.board.get(m.ID)
	c.Assert(ok, qt.IsFalse)

	incs, err := f.incidents.ListIncidents(context.Background(), monitor.IncidentFilter{MonitorID: m.ID})
	c.Assert(err, qt.IsNil)
	c.Assert(incs, qt.HasLen, 0)

	err = f.service.DeleteMonitor(context.Background(), m.ID)
	c.Assert(errors.Is(err, monitor.MonitorNotFound), qt.IsTrue)
}

func TestEnsureMonitor(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)

	m, created, err := f.service.EnsureMonitor(context.Background(), "ws1", httpSpec("api"))
	c.Assert(err, qt.IsNil)
	c.Assert(created, qt.IsTrue)

	again, created, err := f.service.EnsureMonitor(context.Background(), "ws1", httpSpec(" api "))
	c.Assert(err, qt.IsNil)
	c.Assert(created, qt.IsFalse)
	c.Assert(again.ID, qt.Equals, m.ID)
}

func TestListChecks(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api")
	for i := 0; i < 5; i++ {
		f.succeed(c, m.ID, 100+i)
	}

	checks, err := f.service.ListChecks(context.Background(), m.ID, 3)
	c.Assert(err, qt.IsNil)
	c.Assert(checks, qt.HasLen, 3)
	c.Assert(*checks[0].ResponseTimeMs, qt.Equals, 104)

	_, err = f.service.ListChecks(context.Background(), "missing", 3)
	c.Assert(errors.Is(err, monitor.MonitorNotFound), qt.IsTrue)
}

func TestCleanupOldChecks(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api")
	f.succeed(c, m.ID, 10)
	f.fail(c, m.ID)

	f.clock.Advance(31 * 24 * time.Hour)
	f.succeed(c, m.ID, 10)
	before := f.monitor(c, m.ID)

	deleted, err := f.service.CleanupOldChecks(context.Background(), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(deleted, qt.Equals, int64(2))

	checks, err := f.store.ListChecks(context.Background(), m.ID, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(checks, qt.HasLen, 1)
	c.Assert(f.monitor(c, m.ID), qt.DeepEquals, before)
}

func TestRunJanitor(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	m := f.createMonitor(c, "api")
	f.succeed(c, m.ID, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.service.RunJanitor(ctx, time.Hour, 1) }()

	c.Assert(f.clock.WaitAdvance(25*time.Hour, 5*time.Second, 1), qt.IsNil)
	deadline := time.Now().Add(5 * time.Second)
	for {
		checks, err := f.store.ListChecks(context.Background(), m.ID, 0)
		c.Assert(err, qt.IsNil)
		if len(checks) == 0 {
			break
		}
		if time.Now().After(deadline) {
			c.Fatal("janitor did not clean up")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	c.Assert(<-done, qt.IsNil)
}
