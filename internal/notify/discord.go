package notify

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/pipeline"
)

const (
	colorInfo     = 0x2ecc71
	colorWarn     = 0xf1c40f
	colorError    = 0xe74c3c
	colorCritical = 0x992d22

	defaultQueueSize   = 64
	defaultPostTimeout = 5 * time.Second
)

// DiscordNotifier posts alerts to a Discord webhook. Notify never blocks;
// when the outbound queue is full the alert is dropped with a log line.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	queue      chan pipeline.Notification
}

// NewDiscordNotifier builds a notifier for the given webhook. An empty URL
// yields a disabled notifier that swallows alerts.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultPostTimeout},
		queue:      make(chan pipeline.Notification, defaultQueueSize),
	}
}

// Notify enqueues one alert for async delivery.
func (d *DiscordNotifier) Notify(n pipeline.Notification) {
	if d == nil || d.webhookURL == "" {
		return
	}
	select {
	case d.queue <- n:
	default:
		logs.Warnf("notification queue full, dropped: %s", n.Title)
	}
}

// Run delivers queued alerts until the context is done.
func (d *DiscordNotifier) Run(ctx context.Context) error {
	if d.webhookURL == "" {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-d.queue:
			if err := d.post(ctx, n); err != nil {
				logs.Warnf("discord post failed, title: %s err: %+v", n.Title, err)
			}
		}
	}
}

func (d *DiscordNotifier) post(ctx context.Context, n pipeline.Notification) error {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       n.Title,
				"description": n.Body,
				"color":       levelColor(n.Level),
				"footer": map[string]string{
					"text": "sentinel",
				},
				"timestamp": n.Timestamp.Format(time.RFC3339),
			},
		},
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errors.New("discord returned status " + resp.Status)
	}
	return nil
}

func levelColor(level string) int {
	switch level {
	case "critical":
		return colorCritical
	case "error":
		return colorError
	case "warn":
		return colorWarn
	default:
		return colorInfo
	}
}
