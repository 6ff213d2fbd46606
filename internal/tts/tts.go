// Package tts renders dialogue lines to audio with bounded concurrency.
package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"newscast/internal/model"
)

const (
	// maxInFlight caps simultaneous provider calls; the voice provider
	// rate-limits aggressively.
	maxInFlight = 3

	// retries is how many extra attempts each line gets.
	retries = 2

	backoffBase = 100 * time.Millisecond
)

// Synthesizer is the voice provider contract.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Stage renders a full script, one audio buffer per line, in spoken order.
type Stage struct {
	voice Synthesizer
	log   *slog.Logger
	sleep func(time.Duration) // swapped in tests
}

// New creates a Stage.
func New(voice Synthesizer, log *slog.Logger) *Stage {
	return &Stage{voice: voice, log: log, sleep: time.Sleep}
}

// Synthesize renders every line and returns the buffers in line order. A line
// that still fails after its retries aborts the whole stage: partial audio is
// useless because line order and silence pairing matter.
func (s *Stage) Synthesize(ctx context.Context, lines []model.ScriptLine, voiceA, voiceB string) ([][]byte, error) {
	buffers := make([][]byte, len(lines))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)

	for i, line := range lines {
		i, line := i, line
		g.Go(func() error {
			voice := voiceA
			if line.Speaker == model.SpeakerB {
				voice = voiceB
			}

			audio, err := s.synthesizeLine(ctx, line.Text, voice)
			if err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			buffers[i] = audio
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buffers, nil
}

// synthesizeLine retries with exponential backoff: 100ms, 200ms.
func (s *Stage) synthesizeLine(ctx context.Context, text, voiceID string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			s.sleep(backoffBase << (attempt - 1))
			s.log.Debug("retrying synthesis", "attempt", attempt+1)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		audio, err := s.voice.Synthesize(ctx, text, voiceID)
		if err == nil {
			return audio, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("synthesis failed after %d attempts: %w", retries+1, lastErr)
}
