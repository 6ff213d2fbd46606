package publish

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"newscast/internal/model"
)

// API is the subset of the telegram client used for delivery, extracted for
// testing.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers episodes to a chat as a link message, an audio upload,
// or both.
type Telegram struct {
	api API
}

func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}
	return &Telegram{api: api}, nil
}

func NewTelegramWithAPI(api API) *Telegram {
	return &Telegram{api: api}
}

// Deliver sends the requested formats in order. With format "both" the link
// goes out first; a failure on either send fails the channel, and anything
// already sent is not recalled.
func (t *Telegram) Deliver(ctx context.Context, ch model.ChannelBinding, ep Episode) error {
	if ch.Format == model.FormatLink || ch.Format == model.FormatBoth {
		text := fmt.Sprintf("%s (%s)\n%s", ep.Title, formatRuntime(ep.Duration), ep.AudioURL)
		if _, err := t.api.Send(tgbotapi.NewMessage(ch.ChatID, text)); err != nil {
			return fmt.Errorf("send episode link: %w", err)
		}
	}

	if ch.Format == model.FormatAudio || ch.Format == model.FormatBoth {
		audio := tgbotapi.NewAudio(ch.ChatID, tgbotapi.FileBytes{
			Name:  "episode.mp3",
			Bytes: ep.Audio,
		})
		audio.Title = ep.Title
		audio.Duration = int(ep.Duration.Seconds())
		if _, err := t.api.Send(audio); err != nil {
			return fmt.Errorf("send episode audio: %w", err)
		}
	}

	return nil
}
