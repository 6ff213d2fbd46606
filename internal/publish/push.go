package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"newscast/internal/model"
)

// HTTPClient is implemented by *http.Client, extracted for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Push multicasts new-episode notifications to a push gateway. Each
// requested format is a separate notification tagged with its kind, so the
// gateway can render a link card and an inline player independently.
type Push struct {
	endpoint string
	client   HTTPClient
}

func NewPush(endpoint string) *Push {
	return &Push{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func NewPushWithClient(endpoint string, client HTTPClient) *Push {
	return &Push{endpoint: endpoint, client: client}
}

type pushNotification struct {
	Kind       string   `json:"kind"`
	UserIDs    []string `json:"user_ids"`
	Title      string   `json:"title"`
	AudioURL   string   `json:"audio_url"`
	DurationMS int64    `json:"duration_ms"`
}

// Deliver sends one notification per requested format. With format "both"
// the link notification goes out first; a failure on either send fails the
// channel, and anything already sent is not recalled.
func (p *Push) Deliver(ctx context.Context, ch model.ChannelBinding, ep Episode) error {
	if ch.Format == model.FormatLink || ch.Format == model.FormatBoth {
		if err := p.send(ctx, "link", ch, ep); err != nil {
			return fmt.Errorf("send link notification: %w", err)
		}
	}

	if ch.Format == model.FormatAudio || ch.Format == model.FormatBoth {
		if err := p.send(ctx, "audio", ch, ep); err != nil {
			return fmt.Errorf("send audio notification: %w", err)
		}
	}

	return nil
}

func (p *Push) send(ctx context.Context, kind string, ch model.ChannelBinding, ep Episode) error {
	payload, err := json.Marshal(pushNotification{
		Kind:       kind,
		UserIDs:    ch.UserIDs,
		Title:      ep.Title,
		AudioURL:   ep.AudioURL,
		DurationMS: ep.Duration.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal push notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
	return nil
}
