package monitor

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// FirstCheckDelay is how long a new or resumed monitor waits for its
	// first check.
	FirstCheckDelay = 30 * time.Second

	DefaultIntervalSeconds  = 60
	DefaultTimeoutSeconds   = 10
	DefaultFailureThreshold = 3

	defaultChecksLimit = 100
	maxChecksLimit     = 1000
)

// MonitorSpec is the user-editable definition of a monitor.
type MonitorSpec struct {
	Name           string    `json:"name" yaml:"name"`
	CheckType      CheckType `json:"check_type" yaml:"check_type"`
	URL            string    `json:"url,omitempty" yaml:"url,omitempty"`
	Host           string    `json:"host,omitempty" yaml:"host,omitempty"`
	Port           int       `json:"port,omitempty" yaml:"port,omitempty"`
	Method         string    `json:"method,omitempty" yaml:"method,omitempty"`
	ExpectedStatus int       `json:"expected_status,omitempty" yaml:"expected_status,omitempty"`
	Keyword        string    `json:"keyword,omitempty" yaml:"keyword,omitempty"`

	CheckIntervalSeconds         int `json:"check_interval_seconds,omitempty" yaml:"check_interval_seconds,omitempty"`
	TimeoutSeconds               int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	ConsecutiveFailuresThreshold int `json:"consecutive_failures_threshold,omitempty" yaml:"consecutive_failures_threshold,omitempty"`

	Severity             Severity  `json:"severity,omitempty" yaml:"severity,omitempty"`
	NotificationChannels []Channel `json:"notification_channels,omitempty" yaml:"notification_channels,omitempty"`
	// NotifyOnRecovery defaults to true.
	NotifyOnRecovery *bool `json:"notify_on_recovery,omitempty" yaml:"notify_on_recovery,omitempty"`
}

// Normalize fills defaults and validates the definition. Errors satisfy
// errors.Is(err, InvalidMonitor).
func (s *MonitorSpec) Normalize() error {
	s.applyDefaults()
	return s.validate()
}

func (s *MonitorSpec) applyDefaults() {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	s.Host = strings.TrimSpace(s.Host)
	s.Method = strings.ToUpper(strings.TrimSpace(s.Method))

	if s.CheckType == "" {
		s.CheckType = CheckHTTP
	}
	if s.CheckType == CheckHTTP && s.Method == "" {
		s.Method = "GET"
	}
	if s.CheckIntervalSeconds == 0 {
		s.CheckIntervalSeconds = DefaultIntervalSeconds
	}
	if s.TimeoutSeconds == 0 {
		s.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if s.ConsecutiveFailuresThreshold == 0 {
		s.ConsecutiveFailuresThreshold = DefaultFailureThreshold
	}
	if s.Severity == "" {
		s.Severity = SeverityHigh
	}
	if s.NotifyOnRecovery == nil {
		v := true
		s.NotifyOnRecovery = &v
	}
}

func (s *MonitorSpec) validate() error {
	if s.Name == "" {
		return invalidf("missing name")
	}
	if len(s.Name) > 255 {
		return invalidf("name longer than 255 characters")
	}

	switch s.CheckType {
	case CheckHTTP:
		if err := validateURL(s.URL, "http", "https"); err != nil {
			return err
		}
		switch s.Method {
		case "GET", "HEAD":
		default:
			return invalidf("invalid method %q (use GET or HEAD)", s.Method)
		}
		if s.Method == "HEAD" && s.Keyword != "" {
			return invalidf("method HEAD cannot check a keyword; use GET")
		}
	case CheckWebSocket:
		if err := validateURL(s.URL, "ws", "wss"); err != nil {
			return err
		}
	case CheckTCP:
		if s.Host == "" {
			return invalidf("tcp monitor missing host")
		}
		if s.Port < 1 || s.Port > 65535 {
			return invalidf("tcp port must be 1..65535, got %d", s.Port)
		}
	default:
		return invalidf("unknown check type %q", s.CheckType)
	}

	if s.ExpectedStatus != 0 && (s.ExpectedStatus < 100 || s.ExpectedStatus > 599) {
		return invalidf("expected_status must be 100..599")
	}
	if s.CheckIntervalSeconds < 10 || s.CheckIntervalSeconds > 86400 {
		return invalidf("check_interval_seconds must be 10..86400")
	}
	if s.TimeoutSeconds < 1 || s.TimeoutSeconds > 120 {
		return invalidf("timeout_seconds must be 1..120")
	}
	if s.TimeoutSeconds > s.CheckIntervalSeconds {
		return invalidf("timeout_seconds cannot exceed check_interval_seconds")
	}
	if s.ConsecutiveFailuresThreshold < 1 || s.ConsecutiveFailuresThreshold > 100 {
		return invalidf("consecutive_failures_threshold must be 1..100")
	}
	if !s.Severity.Valid() {
		return invalidf("unknown severity %q", s.Severity)
	}

	seen := make(map[Channel]struct{}, len(s.NotificationChannels))
	channels := s.NotificationChannels[:0]
	for _, c := range s.NotificationChannels {
		if !c.Valid() {
			return invalidf("unknown notification channel %q", c)
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		channels = append(channels, c)
	}
	s.NotificationChannels = channels
	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return invalidf("missing url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalidf("invalid url %q: %v", raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return invalidf("url %q must start with %s://", raw, strings.Join(schemes, ":// or "))
}

// apply copies the definition onto m. Runtime state is left alone.
func (s MonitorSpec) apply(m *Monitor) {
	m.Name = s.Name
	m.CheckType = s.CheckType
	m.URL = s.URL
	m.Host = s.Host
	m.Port = s.Port
	m.Method = s.Method
	m.ExpectedStatus = s.ExpectedStatus
	m.Keyword = s.Keyword
	m.CheckIntervalSeconds = s.CheckIntervalSeconds
	m.TimeoutSeconds = s.TimeoutSeconds
	m.ConsecutiveFailuresThreshold = s.ConsecutiveFailuresThreshold
	m.Severity = s.Severity
	m.NotificationChannels = append([]Channel(nil), s.NotificationChannels...)
	m.NotifyOnRecovery = *s.NotifyOnRecovery
}

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Store   Store
	Board   StatusBoard
	Clock   clock.Clock
	Logger  *log.Entry
	Metrics *Metrics
}

// Service exposes the monitor management operations.
type Service struct {
	store   Store
	board   StatusBoard
	clock   clock.Clock
	logger  *log.Entry
	metrics *Metrics
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		store:   cfg.Store,
		board:   cfg.Board,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if s.board == nil {
		s.board = nopBoard{}
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}
	if s.logger == nil {
		s.logger = log.NewEntry(log.StandardLogger())
	}
	s.logger = s.logger.WithField("component", "monitors")
	return s
}

// CreateMonitor creates an active monitor whose first check is due shortly.
func (s *Service) CreateMonitor(ctx context.Context, workspaceID string, spec MonitorSpec) (Monitor, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return Monitor{}, invalidf("missing workspace id")
	}
	if err := spec.Normalize(); err != nil {
		return Monitor{}, errors.Trace(err)
	}

	now := s.clock.Now()
	next := now.Add(FirstCheckDelay)
	m := Monitor{
		ID:            uuid.NewString(),
		WorkspaceID:   workspaceID,
		IsActive:      true,
		CurrentStatus: StatusUnknown,
		NextCheckAt:   &next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	spec.apply(&m)

	if err := s.store.CreateMonitor(ctx, m); err != nil {
		return Monitor{}, errors.Annotatef(err, "creating monitor %q", m.Name)
	}
	s.board.Publish(m)
	s.logger.WithFields(log.Fields{"monitor_id": m.ID, "workspace_id": workspaceID}).Infof("monitor created: %s", m)
	return m, nil
}

// EnsureMonitor creates the monitor unless the workspace already has one
// with the same name. It reports whether a monitor was created.
func (s *Service) EnsureMonitor(ctx context.Context, workspaceID string, spec MonitorSpec) (Monitor, bool, error) {
	existing, err := s.store.FindMonitorByName(ctx, workspaceID, strings.TrimSpace(spec.Name))
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, MonitorNotFound):
		return Monitor{}, false, errors.Trace(err)
	}
	m, err := s.CreateMonitor(ctx, workspaceID, spec)
	if err != nil {
		return Monitor{}, false, errors.Trace(err)
	}
	return m, true, nil
}

// UpdateMonitor replaces the monitor's definition. A changed threshold is
// applied to the current failure run straight away so the status keeps
// matching it, but incidents still only open on a check: lowering the
// threshold under the current run marks the monitor down with no incident.
// The next failing check opens one; a success before then resolves nothing.
func (s *Service) UpdateMonitor(ctx context.Context, id string, spec MonitorSpec) (Monitor, error) {
	if err := spec.Normalize(); err != nil {
		return Monitor{}, errors.Trace(err)
	}
	var m Monitor
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		m, err = tx.GetMonitor(ctx, id)
		if err != nil {
			return err
		}
		spec.apply(&m)
		if m.IsActive && m.ConsecutiveFailures > 0 {
			m.CurrentStatus = statusForFailures(m.ConsecutiveFailures, m.ConsecutiveFailuresThreshold)
		}
		m.UpdatedAt = s.clock.Now()
		return tx.UpdateMonitor(ctx, m)
	})
	if err != nil {
		return Monitor{}, errors.Annotatef(err, "updating monitor %q", id)
	}
	s.board.Publish(m)
	return m, nil
}

// PauseMonitor stops scheduling the monitor. The failure run and any
// ongoing incident are kept.
func (s *Service) PauseMonitor(ctx context.Context, id string) (Monitor, error) {
	return s.setActive(ctx, id, false)
}

// ResumeMonitor schedules a paused monitor again with status unknown.
func (s *Service) ResumeMonitor(ctx context.Context, id string) (Monitor, error) {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) (Monitor, error) {
	var (
		m       Monitor
		changed bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		m, err = tx.GetMonitor(ctx, id)
		if err != nil {
			return err
		}
		if m.IsActive == active {
			return nil
		}
		now := s.clock.Now()
		m.IsActive = active
		if active {
			next := now.Add(FirstCheckDelay)
			m.CurrentStatus = StatusUnknown
			m.NextCheckAt = &next
		} else {
			m.CurrentStatus = StatusPaused
			m.NextCheckAt = nil
		}
		m.UpdatedAt = now
		changed = true
		return tx.UpdateMonitor(ctx, m)
	})
	if err != nil {
		return Monitor{}, errors.Annotatef(err, "setting monitor %q active=%t", id, active)
	}
	if changed {
		s.board.Publish(m)
		s.logger.WithFields(log.Fields{"monitor_id": id, "active": active}).Info("monitor activity changed")
	}
	return m, nil
}

// DeleteMonitor removes the monitor with its checks and incidents.
func (s *Service) DeleteMonitor(ctx context.Context, id string) error {
	if err := s.store.DeleteMonitor(ctx, id); err != nil {
		return errors.Annotatef(err, "deleting monitor %q", id)
	}
	s.board.Remove(id)
	s.logger.WithField("monitor_id", id).Info("monitor deleted")
	return nil
}

func (s *Service) GetMonitor(ctx context.Context, id string) (Monitor, error) {
	m, err := s.store.GetMonitor(ctx, id)
	return m, errors.Trace(err)
}

func (s *Service) ListMonitors(ctx context.Context, workspaceID string) ([]Monitor, error) {
	ms, err := s.store.ListMonitors(ctx, workspaceID)
	return ms, errors.Trace(err)
}

// ListChecks returns the monitor's most recent checks, newest first.
func (s *Service) ListChecks(ctx context.Context, monitorID string, limit int) ([]Check, error) {
	if _, err := s.store.GetMonitor(ctx, monitorID); err != nil {
		return nil, errors.Trace(err)
	}
	if limit <= 0 {
		limit = defaultChecksLimit
	}
	if limit > maxChecksLimit {
		limit = maxChecksLimit
	}
	checks, err := s.store.ListChecks(ctx, monitorID, limit)
	return checks, errors.Trace(err)
}
