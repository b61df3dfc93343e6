package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Text      string       `json:"text"`
	Fields    []SlackField `json:"fields"`
	Footer    string       `json:"footer"`
	Timestamp int64        `json:"ts"`
}

type SlackWebhookRequest struct {
	Username    string            `json:"username"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments"`
}

const username = "Uptime Monitor"

// Slack posts to an incoming webhook.
type Slack struct {
	client *http.Client
	url    string
}

func NewSlack(client *http.Client, url string) *Slack {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Slack{client: client, url: url}
}

func (s *Slack) Send(ctx context.Context, ev monitor.Event) error {
	payload := SlackWebhookRequest{
		Username: username,
		Attachments: []SlackAttachment{{
			Text: message(ev),
			Fields: []SlackField{
				{Title: "Monitor", Value: ev.Monitor.Name, Short: true},
				{Title: "Type", Value: string(ev.Monitor.CheckType), Short: true},
				{Title: "Target", Value: ev.Monitor.Target(), Short: false},
				{Title: "Severity", Value: string(ev.Monitor.Severity), Short: true},
			},
			Footer:    "Incident " + ev.Incident.ID,
			Timestamp: ev.At.Unix(),
		}},
	}
	if ev.Kind == monitor.EventIncidentResolved {
		payload.IconEmoji = ":white_check_mark:"
		payload.Text = ":white_check_mark: *INCIDENT RESOLVED*"
		payload.Attachments[0].Color = "good"
		payload.Attachments[0].Title = fmt.Sprintf("Monitor '%s' is back up", ev.Monitor.Name)
	} else {
		payload.IconEmoji = ":rotating_light:"
		payload.Text = ":rotating_light: *INCIDENT DETECTED*"
		payload.Attachments[0].Color = "danger"
		payload.Attachments[0].Title = fmt.Sprintf("Monitor '%s' is down", ev.Monitor.Name)
	}
	return postJSON(ctx, s.client, s.url, payload)
}

// WebhookPayload is the body posted by the generic webhook sink.
type WebhookPayload struct {
	Event       monitor.EventKind    `json:"event"`
	At          time.Time            `json:"at"`
	Monitor     monitor.Monitor      `json:"monitor"`
	Incident    monitor.Incident     `json:"incident"`
	CheckResult *monitor.CheckResult `json:"check_result,omitempty"`
}

// Webhook posts every event as JSON to a fixed URL.
type Webhook struct {
	client *http.Client
	url    string
}

func NewWebhook(client *http.Client, url string) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{client: client, url: url}
}

func (w *Webhook) Send(ctx context.Context, ev monitor.Event) error {
	return postJSON(ctx, w.client, w.url, WebhookPayload{
		Event:       ev.Kind,
		At:          ev.At,
		Monitor:     ev.Monitor,
		Incident:    ev.Incident,
		CheckResult: ev.Result,
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Annotate(err, "encoding payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Annotate(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Annotate(err, "posting webhook")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
