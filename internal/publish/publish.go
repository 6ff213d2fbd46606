// Package publish delivers finished episodes to a job's configured channels.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newscast/internal/model"
)

// Episode carries everything an adapter may need to deliver: the hosted URL
// for link delivery and the raw audio for direct upload.
type Episode struct {
	Title    string
	AudioURL string
	Audio    []byte
	Duration time.Duration
}

// Adapter delivers an episode to a single channel binding.
type Adapter interface {
	Deliver(ctx context.Context, ch model.ChannelBinding, ep Episode) error
}

// Result records the outcome for one channel.
type Result struct {
	Channel model.ChannelBinding
	Success bool
	Err     error
}

// Publisher fans an episode out to every bound channel. A failing channel
// never blocks delivery to the others.
type Publisher struct {
	adapters map[model.ChannelKind]Adapter
	log      *slog.Logger
}

func New(telegram, push Adapter, log *slog.Logger) *Publisher {
	return &Publisher{
		adapters: map[model.ChannelKind]Adapter{
			model.ChannelTelegram: telegram,
			model.ChannelPush:     push,
		},
		log: log,
	}
}

// Publish delivers the episode to each channel in order and returns one
// result per channel, failures included.
func (p *Publisher) Publish(ctx context.Context, channels []model.ChannelBinding, ep Episode) []Result {
	results := make([]Result, 0, len(channels))
	for _, ch := range channels {
		adapter, ok := p.adapters[ch.Kind]
		if !ok {
			err := fmt.Errorf("no adapter for channel kind %q", ch.Kind)
			p.log.Error("publish failed", "channel", ch.Kind, "error", err)
			results = append(results, Result{Channel: ch, Err: err})
			continue
		}

		if err := adapter.Deliver(ctx, ch, ep); err != nil {
			p.log.Error("publish failed", "channel", ch.Kind, "error", err)
			results = append(results, Result{Channel: ch, Err: err})
			continue
		}

		p.log.Info("published episode", "channel", ch.Kind, "title", ep.Title)
		results = append(results, Result{Channel: ch, Success: true})
	}
	return results
}

// AnySuccess reports whether at least one channel accepted the episode.
func AnySuccess(results []Result) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}

// formatRuntime renders a duration as m:ss for message text.
func formatRuntime(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
