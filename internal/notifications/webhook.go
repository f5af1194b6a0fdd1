package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Channel is one webhook destination.
type Channel struct {
	Type string // discord, slack or generic
	URL  string
}

// WebhookSender sends messages to notification channels.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender creates a new sender with a timeout.
func NewWebhookSender() *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send dispatches a message to the given channel.
func (w *WebhookSender) Send(ctx context.Context, ch Channel, title, message string) error {
	switch ch.Type {
	case "discord":
		return w.sendDiscord(ctx, ch.URL, title, message)
	case "slack":
		return w.sendSlack(ctx, ch.URL, title, message)
	case "generic", "":
		return w.sendGeneric(ctx, ch.URL, title, message)
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
}

func (w *WebhookSender) sendDiscord(ctx context.Context, url, title, message string) error {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": message,
				"color":       15158332, // red
				"footer": map[string]string{
					"text": "catalogsync",
				},
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	return w.postJSON(ctx, url, payload)
}

func (w *WebhookSender) sendSlack(ctx context.Context, url, title, message string) error {
	payload := map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": title,
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": message,
				},
			},
			{
				"type": "context",
				"elements": []map[string]string{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("_catalogsync · %s_", time.Now().Format("Jan 2, 3:04 PM")),
					},
				},
			},
		},
	}
	return w.postJSON(ctx, url, payload)
}

func (w *WebhookSender) sendGeneric(ctx context.Context, url, title, message string) error {
	payload := map[string]any{
		"title":     title,
		"message":   message,
		"source":    "catalogsync",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	return w.postJSON(ctx, url, payload)
}

func (w *WebhookSender) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		log.Printf("Webhook: %s returned status %d", url, resp.StatusCode)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
