// Package runner drives job executions through the run state machine and
// sweeps for due jobs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"newscast/internal/model"
	"newscast/internal/provider/blob"
	"newscast/internal/provider/quota"
	"newscast/internal/publish"
	"newscast/internal/schedule"
	"newscast/internal/storage"
)

const defaultMaxArticles = 5

// ErrRunInProgress is returned when a job already has a non-terminal run.
var ErrRunInProgress = errors.New("job already has a run in progress")

// Fetcher collects articles from a job's sources.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []model.Source) []model.Article
}

// Selector narrows fetched articles down to the episode's selection.
type Selector interface {
	Select(ctx context.Context, articles []model.Article, spec model.FilterSpec, jobID int64, maxArticles int) ([]model.Article, []model.Selection, error)
}

// ScriptGenerator turns selected articles into a two-host dialogue.
type ScriptGenerator interface {
	Generate(ctx context.Context, articles []model.Article, gen model.GenerationSpec) (model.Script, error)
}

// SpeechSynthesizer renders each dialogue line to audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, lines []model.ScriptLine, voiceA, voiceB string) ([][]byte, error)
}

// Stitcher joins per-line clips into the final episode audio.
type Stitcher interface {
	Stitch(ctx context.Context, clips [][]byte) ([]byte, time.Duration, error)
}

// Publisher delivers the episode to the job's channels.
type Publisher interface {
	Publish(ctx context.Context, channels []model.ChannelBinding, ep publish.Episode) []publish.Result
}

// Orchestrator executes one job end to end, owning all run bookkeeping.
type Orchestrator struct {
	store     storage.Storage
	fetcher   Fetcher
	filter    Selector
	script    ScriptGenerator
	speech    SpeechSynthesizer
	stitcher  Stitcher
	publisher Publisher
	blobs     blob.Storage
	quota     quota.Service
	log       *slog.Logger
	now       func() time.Time
}

func NewOrchestrator(
	store storage.Storage,
	fetcher Fetcher,
	filter Selector,
	script ScriptGenerator,
	speech SpeechSynthesizer,
	stitcher Stitcher,
	publisher Publisher,
	blobs blob.Storage,
	quotas quota.Service,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		fetcher:   fetcher,
		filter:    filter,
		script:    script,
		speech:    speech,
		stitcher:  stitcher,
		publisher: publisher,
		blobs:     blobs,
		quota:     quotas,
		log:       log,
		now:       time.Now,
	}
}

// HasInProgressRun reports whether the job has a non-terminal run. Exposed
// for external request handlers.
func (o *Orchestrator) HasInProgressRun(ctx context.Context, jobID int64) (bool, error) {
	return o.store.HasNonTerminalRun(ctx, jobID)
}

// ExecuteJob runs one attempt for the job. It refuses (without queueing) when
// a non-terminal run already exists. The job's lastRunAt and nextRunAt are
// updated whatever the outcome, and a stage panic marks the run failed rather
// than propagating to the caller.
func (o *Orchestrator) ExecuteJob(ctx context.Context, job model.Job) error {
	busy, err := o.store.HasNonTerminalRun(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("check in-progress runs for job %d: %w", job.ID, err)
	}
	if busy {
		o.log.Warn("refusing to start run", "job_id", job.ID, "reason", "run in progress")
		return ErrRunInProgress
	}

	startedAt := o.now().UTC()
	run := &model.Run{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Status:    model.RunPending,
		StartedAt: startedAt,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		// The runs table enforces at most one non-terminal run per job,
		// catching a race the check above can miss.
		if errors.Is(err, storage.ErrRunConflict) {
			o.log.Warn("refusing to start run", "job_id", job.ID, "reason", "run in progress")
			return ErrRunInProgress
		}
		return fmt.Errorf("create run for job %d: %w", job.ID, err)
	}

	defer o.updateJobClock(ctx, job, startedAt)
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("run panicked", "job_id", job.ID, "run_id", run.ID, "panic", r)
			o.finish(ctx, run, model.RunFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	o.execute(ctx, job, run)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, job model.Job, run *model.Run) {
	status, err := o.quota.Check(ctx, job.OwnerID)
	if err != nil {
		o.finish(ctx, run, model.RunFailed, fmt.Sprintf("check quota: %v", err))
		return
	}
	if !status.Allowed {
		o.finish(ctx, run, model.RunFailed,
			fmt.Sprintf("usage quota exceeded (%d/%d)", status.Used, status.Limit))
		return
	}

	o.advance(ctx, run, model.RunFetching)
	articles := o.fetcher.FetchAll(ctx, job.Sources)
	run.ArticlesFound = len(articles)

	o.advance(ctx, run, model.RunFiltering)
	maxArticles := job.Filter.MaxArticles
	if maxArticles <= 0 {
		maxArticles = defaultMaxArticles
	}
	selected, selections, err := o.filter.Select(ctx, articles, job.Filter, job.ID, maxArticles)
	if err != nil {
		o.finish(ctx, run, model.RunFailed, fmt.Sprintf("filter articles: %v", err))
		return
	}
	run.ArticlesSelected = len(selected)
	run.Selections = selections

	if len(selected) == 0 {
		o.log.Info("nothing to produce", "job_id", job.ID, "run_id", run.ID, "found", run.ArticlesFound)
		o.finish(ctx, run, model.RunSkipped, "")
		return
	}

	o.advance(ctx, run, model.RunGeneratingScript)
	script, err := o.script.Generate(ctx, selected, job.Generation)
	if err != nil {
		o.finish(ctx, run, model.RunFailed, fmt.Sprintf("generate script: %v", err))
		return
	}

	o.advance(ctx, run, model.RunGeneratingAudio)
	clips, err := o.speech.Synthesize(ctx, script.Lines, job.Generation.VoiceA, job.Generation.VoiceB)
	if err != nil {
		o.finish(ctx, run, model.RunFailed, fmt.Sprintf("synthesize speech: %v", err))
		return
	}
	audio, duration, err := o.stitcher.Stitch(ctx, clips)
	if err != nil {
		o.finish(ctx, run, model.RunFailed, fmt.Sprintf("stitch audio: %v", err))
		return
	}
	audioURL, err := o.blobs.Upload(ctx, "episodes/"+run.ID+".mp3", audio, "audio/mpeg")
	if err != nil {
		o.finish(ctx, run, model.RunFailed, fmt.Sprintf("upload episode: %v", err))
		return
	}

	o.advance(ctx, run, model.RunPublishing)
	results := o.publisher.Publish(ctx, job.Channels, publish.Episode{
		Title:    script.Title,
		AudioURL: audioURL,
		Audio:    audio,
		Duration: duration,
	})
	// Channel failures are recorded per channel and never fail the run.
	if !publish.AnySuccess(results) && len(results) > 0 {
		o.log.Warn("no channel accepted episode", "job_id", job.ID, "run_id", run.ID)
	}

	run.EpisodeTitle = script.Title
	run.EpisodeURL = audioURL
	run.EpisodeDuration = duration
	o.finish(ctx, run, model.RunCompleted, "")

	o.afterCompletion(ctx, job, selected)
}

// afterCompletion appends the selected URLs to the dedup ledger and settles
// quota, pausing all of the owner's jobs if this run exhausted it. Failures
// here are logged only; the episode is already delivered.
func (o *Orchestrator) afterCompletion(ctx context.Context, job model.Job, selected []model.Article) {
	urls := make([]string, len(selected))
	for i, a := range selected {
		urls[i] = a.URL
	}
	if err := o.store.RecordURLs(ctx, job.ID, urls); err != nil {
		o.log.Error("record ledger urls", "job_id", job.ID, "error", err)
	}

	status, err := o.quota.Increment(ctx, job.OwnerID)
	if err != nil {
		o.log.Error("increment quota", "owner_id", job.OwnerID, "error", err)
		return
	}
	if status.Exhausted() {
		paused, err := o.store.PauseOwnerJobs(ctx, job.OwnerID)
		if err != nil {
			o.log.Error("pause owner jobs", "owner_id", job.OwnerID, "error", err)
			return
		}
		o.log.Info("quota exhausted, paused owner jobs",
			"owner_id", job.OwnerID, "paused", paused, "used", status.Used, "limit", status.Limit)
	}
}

func (o *Orchestrator) advance(ctx context.Context, run *model.Run, status model.RunStatus) {
	run.Status = status
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.log.Error("persist run status", "run_id", run.ID, "status", status, "error", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, run *model.Run, status model.RunStatus, errMsg string) {
	now := o.now().UTC()
	run.Status = status
	run.ErrorMessage = errMsg
	run.FinishedAt = &now
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.log.Error("persist run result", "run_id", run.ID, "status", status, "error", err)
	}
	if status == model.RunFailed {
		o.log.Error("run failed", "job_id", run.JobID, "run_id", run.ID, "error", errMsg)
	}
}

// updateJobClock always runs, advancing the job past this attempt so a
// failed run does not retrigger on the next sweep.
func (o *Orchestrator) updateJobClock(ctx context.Context, job model.Job, startedAt time.Time) {
	var nextRunAt *time.Time
	next, err := schedule.NextRun(job.Schedule, startedAt)
	if err != nil {
		o.log.Error("compute next run", "job_id", job.ID, "error", err)
	} else {
		nextRunAt = &next
	}

	if err := o.store.UpdateJobClock(ctx, job.ID, startedAt, nextRunAt); err != nil {
		o.log.Error("update job clock", "job_id", job.ID, "error", err)
	}
}
