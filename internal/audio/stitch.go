// Package audio concatenates per-line audio clips into one episode file
// using the ffmpeg and ffprobe binaries.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	bitrate         = "128k"
	silenceDuration = 600 * time.Millisecond
	fadeInDuration  = 1 * time.Second
	fadeOutDuration = 2 * time.Second
)

// CommandRunner executes an external binary and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Stitcher joins audio clips with inter-line silence and fade envelopes.
type Stitcher struct {
	ffmpeg  string
	ffprobe string
	run     CommandRunner
	log     *slog.Logger
}

// New creates a Stitcher that expects ffmpeg and ffprobe in PATH.
func New(log *slog.Logger) *Stitcher {
	return &Stitcher{ffmpeg: "ffmpeg", ffprobe: "ffprobe", run: runCommand, log: log}
}

// NewWithRunner creates a Stitcher with a custom command runner (useful for testing).
func NewWithRunner(run CommandRunner, log *slog.Logger) *Stitcher {
	return &Stitcher{ffmpeg: "ffmpeg", ffprobe: "ffprobe", run: run, log: log}
}

// Stitch writes clips to a scoped temporary directory, interleaves them with
// a silence clip, concatenates losslessly, and applies a fade-in at the start
// and a fade-out ending exactly at the episode's end. The temporary directory
// is removed on every exit path.
func (s *Stitcher) Stitch(ctx context.Context, clips [][]byte) ([]byte, time.Duration, error) {
	if len(clips) == 0 {
		return nil, 0, fmt.Errorf("no clips to stitch")
	}

	dir, err := os.MkdirTemp("", "newscast-stitch-*")
	if err != nil {
		return nil, 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	paths := make([]string, len(clips))
	for i, clip := range clips {
		paths[i] = filepath.Join(dir, fmt.Sprintf("line_%03d.mp3", i))
		if err := os.WriteFile(paths[i], clip, 0o640); err != nil {
			return nil, 0, fmt.Errorf("write clip %d: %w", i, err)
		}
	}

	silencePath := filepath.Join(dir, "silence.mp3")
	if err := s.makeSilence(ctx, silencePath); err != nil {
		return nil, 0, err
	}

	listPath := filepath.Join(dir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(concatManifest(paths, silencePath)), 0o640); err != nil {
		return nil, 0, fmt.Errorf("write concat list: %w", err)
	}

	joinedPath := filepath.Join(dir, "joined.mp3")
	if _, err := s.run(ctx, s.ffmpeg,
		"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", joinedPath,
	); err != nil {
		return nil, 0, fmt.Errorf("concat clips: %w", err)
	}

	duration, err := s.probeDuration(ctx, joinedPath)
	if err != nil {
		return nil, 0, err
	}

	finalPath := filepath.Join(dir, "episode.mp3")
	if _, err := s.run(ctx, s.ffmpeg,
		"-y", "-i", joinedPath, "-af", fadeFilter(duration), "-b:a", bitrate, finalPath,
	); err != nil {
		return nil, 0, fmt.Errorf("apply fades: %w", err)
	}

	final, err := os.ReadFile(finalPath)
	if err != nil {
		return nil, 0, fmt.Errorf("read stitched episode: %w", err)
	}

	s.log.Info("stitched episode", "clips", len(clips), "duration", duration, "bytes", len(final))
	return final, duration, nil
}

// makeSilence renders the fixed inter-line silence clip at the target bitrate
// so the lossless concat sees uniform inputs.
func (s *Stitcher) makeSilence(ctx context.Context, path string) error {
	if _, err := s.run(ctx, s.ffmpeg,
		"-y", "-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo",
		"-t", formatSeconds(silenceDuration), "-b:a", bitrate, path,
	); err != nil {
		return fmt.Errorf("generate silence: %w", err)
	}
	return nil
}

func (s *Stitcher) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := s.run(ctx, s.ffprobe,
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// concatManifest interleaves clip-silence-clip-...-clip; no trailing silence.
func concatManifest(clips []string, silence string) string {
	var b strings.Builder
	for i, p := range clips {
		if i > 0 {
			fmt.Fprintf(&b, "file '%s'\n", silence)
		}
		fmt.Fprintf(&b, "file '%s'\n", p)
	}
	return b.String()
}

// fadeFilter builds the afade chain. The fade-out starts so it ends exactly
// at the clip's end, clamped to zero for very short episodes.
func fadeFilter(duration time.Duration) string {
	fadeOutStart := duration - fadeOutDuration
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}
	return fmt.Sprintf("afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=%s",
		formatSeconds(fadeInDuration), formatSeconds(fadeOutStart), formatSeconds(fadeOutDuration))
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// runCommand executes the binary, capturing stderr for error reporting.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out.Bytes(), nil
}
