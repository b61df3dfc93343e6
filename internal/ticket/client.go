// Package ticket files incident tickets in an external helpdesk over its
// REST API.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"uptime-incident-engine/internal/monitor"
)

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *log.Entry
}

// Client implements monitor.Ticketer.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *log.Entry
}

var _ monitor.Ticketer = (*Client)(nil)

func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 10 * time.Second}
	}
	if c.logger == nil {
		c.logger = log.NewEntry(log.StandardLogger())
	}
	c.logger = c.logger.WithField("component", "ticket")
	return c
}

type createRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Severity    string   `json:"severity"`
	ExternalRef string   `json:"external_ref"`
	Tags        []string `json:"tags"`
}

type createResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateTicket(ctx context.Context, req monitor.TicketRequest) (string, error) {
	body := createRequest{
		Title:       fmt.Sprintf("[%s] %s is down", strings.ToUpper(string(req.Severity)), req.Monitor.Name),
		Description: description(req),
		Priority:    string(req.Priority),
		Severity:    string(req.Severity),
		ExternalRef: req.Incident.ID,
		Tags:        []string{"uptime", string(req.Monitor.CheckType)},
	}
	var resp createResponse
	if err := c.do(ctx, "/tickets", body, &resp); err != nil {
		return "", errors.Annotatef(err, "creating ticket for incident %q", req.Incident.ID)
	}
	c.logger.WithFields(log.Fields{"incident_id": req.Incident.ID, "ticket_id": resp.ID}).Info("ticket created")
	return resp.ID, nil
}

func (c *Client) AddComment(ctx context.Context, ticketID, text string) error {
	err := c.do(ctx, "/tickets/"+url.PathEscape(ticketID)+"/comments", map[string]string{"body": text}, nil)
	return errors.Annotatef(err, "commenting on ticket %q", ticketID)
}

// CloseTicket returns monitor.TicketAlreadyClosed when the helpdesk answers
// 409 Conflict.
func (c *Client) CloseTicket(ctx context.Context, ticketID, summary string) error {
	err := c.do(ctx, "/tickets/"+url.PathEscape(ticketID)+"/close", map[string]string{"comment": summary}, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusConflict {
		return errors.Annotatef(monitor.TicketAlreadyClosed, "%q", ticketID)
	}
	return errors.Annotatef(err, "closing ticket %q", ticketID)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("helpdesk returned status %d", e.code)
	}
	return fmt.Sprintf("helpdesk returned status %d: %s", e.code, e.body)
}

// do posts in as JSON and decodes the response into out when out is non-nil.
func (c *Client) do(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.Trace(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return errors.Annotate(json.NewDecoder(resp.Body).Decode(out), "decoding response")
}

func description(req monitor.TicketRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monitor: %s\n", req.Monitor.Name)
	fmt.Fprintf(&b, "Target: %s\n", req.Monitor.Target())
	fmt.Fprintf(&b, "Started: %s\n", req.Incident.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Failed checks: %d\n", req.Incident.FailedChecks)
	if req.Result.StatusCode != 0 {
		fmt.Fprintf(&b, "Status code: %d\n", req.Result.StatusCode)
	}
	if req.Result.ErrorType != monitor.ErrorNone {
		fmt.Fprintf(&b, "Error type: %s\n", req.Result.ErrorType)
	}
	if req.Result.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", req.Result.ErrorMessage)
	}
	return b.String()
}
