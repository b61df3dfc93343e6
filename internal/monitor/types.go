package monitor

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Status is the runtime health state of a monitor.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
	StatusPaused   Status = "paused"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusUp, StatusDown, StatusDegraded, StatusPaused:
		return true
	}
	return false
}

// CheckType selects the prober used for a monitor.
type CheckType string

const (
	CheckHTTP      CheckType = "http"
	CheckTCP       CheckType = "tcp"
	CheckWebSocket CheckType = "websocket"
)

func (t CheckType) Valid() bool {
	switch t {
	case CheckHTTP, CheckTCP, CheckWebSocket:
		return true
	}
	return false
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentOngoing  IncidentStatus = "ongoing"
	IncidentResolved IncidentStatus = "resolved"
)

func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentOngoing, IncidentResolved:
		return true
	}
	return false
}

// Severity is attached to tickets opened for a monitor's incidents.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Channel is a notification destination a monitor can subscribe to.
type Channel string

const (
	ChannelSlack    Channel = "slack"
	ChannelWebhook  Channel = "webhook"
	ChannelTicket   Channel = "ticket"
	ChannelTelegram Channel = "telegram"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelSlack, ChannelWebhook, ChannelTicket, ChannelTelegram:
		return true
	}
	return false
}

// ErrorType classifies a failed probe.
type ErrorType string

const (
	ErrorNone             ErrorType = ""
	ErrorTimeout          ErrorType = "timeout"
	ErrorConnection       ErrorType = "connection_error"
	ErrorSSL              ErrorType = "ssl_error"
	ErrorUnexpectedStatus ErrorType = "unexpected_status"
	ErrorKeywordMissing   ErrorType = "keyword_missing"
	ErrorInvalidConfig    ErrorType = "invalid_config"
)

// Monitor is a configured health target together with its runtime state.
type Monitor struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`

	CheckType      CheckType `json:"check_type"`
	URL            string    `json:"url,omitempty"`
	Host           string    `json:"host,omitempty"`
	Port           int       `json:"port,omitempty"`
	Method         string    `json:"method,omitempty"`          // GET or HEAD, http only
	ExpectedStatus int       `json:"expected_status,omitempty"` // 0 accepts any 2xx/3xx
	Keyword        string    `json:"keyword,omitempty"`

	CheckIntervalSeconds         int `json:"check_interval_seconds"`
	TimeoutSeconds               int `json:"timeout_seconds"`
	ConsecutiveFailuresThreshold int `json:"consecutive_failures_threshold"`

	Severity             Severity  `json:"severity"`
	NotificationChannels []Channel `json:"notification_channels"`
	NotifyOnRecovery     bool      `json:"notify_on_recovery"`

	IsActive            bool       `json:"is_active"`
	CurrentStatus       Status     `json:"current_status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCheckAt         *time.Time `json:"last_check_at"`
	NextCheckAt         *time.Time `json:"next_check_at"`
	LastResponseTimeMs  *int       `json:"last_response_time_ms"`
	LastErrorMessage    string     `json:"last_error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m Monitor) Interval() time.Duration {
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}

func (m Monitor) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// Subscribes reports whether the monitor wants events on ch.
func (m Monitor) Subscribes(ch Channel) bool {
	for _, c := range m.NotificationChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// Target is a printable form of what the monitor probes.
func (m Monitor) Target() string {
	if m.CheckType == CheckTCP {
		return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	}
	return m.URL
}

func (m Monitor) String() string {
	return fmt.Sprintf("%s (%s %s)", m.Name, m.CheckType, m.Target())
}

// CheckResult is what a prober reports for a single probe.
type CheckResult struct {
	IsUp           bool      `json:"is_up"`
	StatusCode     int       `json:"status_code,omitempty"` // 0 if no response
	ResponseTimeMs *int      `json:"response_time_ms,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ErrorType      ErrorType `json:"error_type,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Check is the immutable log entry persisted for every recorded result.
type Check struct {
	ID             string    `json:"id"`
	MonitorID      string    `json:"monitor_id"`
	IsUp           bool      `json:"is_up"`
	StatusCode     int       `json:"status_code,omitempty"`
	ResponseTimeMs *int      `json:"response_time_ms,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ErrorType      ErrorType `json:"error_type,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Incident is a bounded period during which a monitor is considered down.
type Incident struct {
	ID          string         `json:"id"`
	MonitorID   string         `json:"monitor_id"`
	WorkspaceID string         `json:"workspace_id"`
	Status      IncidentStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	ResolvedAt  *time.Time     `json:"resolved_at"`

	FirstErrorMessage string    `json:"first_error_message,omitempty"`
	FirstErrorType    ErrorType `json:"first_error_type,omitempty"`
	LastErrorMessage  string    `json:"last_error_message,omitempty"`
	LastErrorType     ErrorType `json:"last_error_type,omitempty"`

	TotalChecks  int `json:"total_checks"`
	FailedChecks int `json:"failed_checks"`

	TicketID string `json:"ticket_id,omitempty"`

	AcknowledgedAt   *time.Time `json:"acknowledged_at"`
	AcknowledgedByID string     `json:"acknowledged_by_id,omitempty"`
	ResolutionNotes  string     `json:"resolution_notes,omitempty"`
	RootCause        string     `json:"root_cause,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration is how long the incident lasted, or has lasted so far at now.
func (i Incident) Duration(now time.Time) time.Duration {
	end := now
	if i.ResolvedAt != nil {
		end = *i.ResolvedAt
	}
	return end.Sub(i.StartedAt)
}

// CheckJob is a claimed monitor handed to a worker.
type CheckJob struct {
	Monitor   Monitor
	ClaimedAt time.Time
	// LeaseUntil is the next_check_at value written by the claim.
	LeaseUntil time.Time
}
