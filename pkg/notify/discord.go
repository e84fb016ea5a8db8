package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Discord embed colours, passed as integers to the webhook API.
const (
	colorAlert    = 0xFF0000
	colorRecovery = 0x00FF00
	colorStartup  = 0x3498DB
)

const discordSendTimeout = 15 * time.Second

// DiscordNotifier posts embed messages to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	footer     string
}

// DiscordOption configures a DiscordNotifier.
type DiscordOption func(*DiscordNotifier)

// WithHTTPClient overrides the HTTP client used for webhook requests.
func WithHTTPClient(client *http.Client) DiscordOption {
	return func(n *DiscordNotifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithFooter sets the footer text rendered under every embed.
func WithFooter(text string) DiscordOption {
	return func(n *DiscordNotifier) {
		n.footer = text
	}
}

// NewDiscordNotifier builds a notifier for the given webhook URL.
func NewDiscordNotifier(webhookURL string, opts ...DiscordOption) *DiscordNotifier {
	notifier := &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: discordSendTimeout},
	}
	for _, opt := range opts {
		opt(notifier)
	}
	return notifier
}

// Name implements Notifier.
func (n *DiscordNotifier) Name() string { return "discord" }

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send implements Notifier. The result status maps webhook responses onto
// the dispatcher's retry taxonomy: 2xx delivered, 429 rate-limited with the
// server-provided wait, auth/not-found permanent, everything else transient.
func (n *DiscordNotifier) Send(ctx context.Context, msg Message) SendResult {
	payload, err := json.Marshal(n.buildPayload(msg))
	if err != nil {
		return SendResult{Status: SendPermanent, Detail: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return SendResult{Status: SendPermanent, Detail: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return SendResult{Status: SendTransient, Detail: fmt.Sprintf("webhook request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return SendResult{Status: SendOK}
	case resp.StatusCode == http.StatusTooManyRequests:
		return SendResult{
			Status:     SendRateLimited,
			RetryAfter: parseRetryAfter(body),
			Detail:     "webhook rate limited",
		}
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusNotFound:
		return SendResult{Status: SendPermanent, Detail: fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, excerpt(body))}
	default:
		return SendResult{Status: SendTransient, Detail: fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, excerpt(body))}
	}
}

func (n *DiscordNotifier) buildPayload(msg Message) discordPayload {
	color := colorStartup
	switch msg.Kind {
	case KindAlert:
		color = colorAlert
	case KindRecovery:
		color = colorRecovery
	}

	fields := make([]discordField, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, discordField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       color,
		Fields:      fields,
		Timestamp:   timestamp.UTC().Format(time.RFC3339),
	}
	if n.footer != "" {
		embed.Footer = &discordFooter{Text: n.footer}
	}
	return discordPayload{Embeds: []discordEmbed{embed}}
}

// parseRetryAfter extracts the wait from a 429 body. Discord reports
// retry_after in seconds as a JSON number.
func parseRetryAfter(body []byte) time.Duration {
	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &rl); err != nil || rl.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(rl.RetryAfter * float64(time.Second))
}

func excerpt(body []byte) string {
	const max = 200
	text := string(body)
	if len(text) > max {
		return text[:max]
	}
	return text
}

var _ Notifier = (*DiscordNotifier)(nil)
