package runner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newscast/internal/model"
	"newscast/internal/provider/quota"
	"newscast/internal/publish"
	"newscast/internal/storage"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createJob(t *testing.T, store storage.Storage, ownerID int64) model.Job {
	t.Helper()
	job := model.Job{
		OwnerID: ownerID,
		Name:    "morning tech brief",
		Status:  model.JobActive,
		Sources: []model.Source{
			{Kind: model.SourceFeed, URL: "https://blog.example.com/rss"},
		},
		Schedule: model.Schedule{Mode: model.ScheduleDaily, TimeOfDay: "06:00", Timezone: "UTC"},
		Filter:   model.FilterSpec{IncludeKeywords: []string{"AI"}, MaxArticles: 5},
		Generation: model.GenerationSpec{
			Style: model.StyleNewsBrief, TargetMinutes: 5, VoiceA: "va", VoiceB: "vb",
		},
		Channels: []model.ChannelBinding{
			{Kind: model.ChannelTelegram, Format: model.FormatLink, ChatID: 100},
		},
	}
	if err := store.CreateJob(context.Background(), &job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

type stubFetcher struct {
	articles []model.Article
}

func (s *stubFetcher) FetchAll(_ context.Context, _ []model.Source) []model.Article {
	return s.articles
}

type stubSelector struct {
	selected   []model.Article
	selections []model.Selection
	err        error
	gotMax     int
}

func (s *stubSelector) Select(_ context.Context, _ []model.Article, _ model.FilterSpec, _ int64, maxArticles int) ([]model.Article, []model.Selection, error) {
	s.gotMax = maxArticles
	return s.selected, s.selections, s.err
}

type stubScript struct {
	script model.Script
	err    error
	calls  int
}

func (s *stubScript) Generate(_ context.Context, _ []model.Article, _ model.GenerationSpec) (model.Script, error) {
	s.calls++
	return s.script, s.err
}

type stubSpeech struct {
	clips [][]byte
	err   error
	calls int
}

func (s *stubSpeech) Synthesize(_ context.Context, _ []model.ScriptLine, _, _ string) ([][]byte, error) {
	s.calls++
	return s.clips, s.err
}

type stubStitcher struct {
	audio    []byte
	duration time.Duration
	err      error
	panics   bool
}

func (s *stubStitcher) Stitch(_ context.Context, _ [][]byte) ([]byte, time.Duration, error) {
	if s.panics {
		panic("ffmpeg binary vanished")
	}
	return s.audio, s.duration, s.err
}

type stubPublisher struct {
	results  []publish.Result
	episodes []publish.Episode
}

func (s *stubPublisher) Publish(_ context.Context, channels []model.ChannelBinding, ep publish.Episode) []publish.Result {
	s.episodes = append(s.episodes, ep)
	if s.results != nil {
		return s.results
	}
	results := make([]publish.Result, len(channels))
	for i, ch := range channels {
		results[i] = publish.Result{Channel: ch, Success: true}
	}
	return results
}

type stubBlob struct {
	url  string
	keys []string
}

func (s *stubBlob) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	s.keys = append(s.keys, key)
	return s.url, nil
}

type stubQuota struct {
	check     quota.Status
	checkErr  error
	increment quota.Status
	incCalls  int
}

func (s *stubQuota) Check(_ context.Context, _ int64) (quota.Status, error) {
	return s.check, s.checkErr
}

func (s *stubQuota) Increment(_ context.Context, _ int64) (quota.Status, error) {
	s.incCalls++
	return s.increment, nil
}

// fixture bundles an orchestrator with all its stubs for per-test tweaking.
type fixture struct {
	store     storage.Storage
	fetcher   *stubFetcher
	selector  *stubSelector
	script    *stubScript
	speech    *stubSpeech
	stitcher  *stubStitcher
	publisher *stubPublisher
	blobs     *stubBlob
	quota     *stubQuota
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	articles := []model.Article{
		{Title: "AI chips", URL: "https://a.example.com/1", Content: "about AI"},
		{Title: "AI agents", URL: "https://a.example.com/2", Content: "more AI"},
	}
	f := &fixture{
		store:   newTestStore(t),
		fetcher: &stubFetcher{articles: articles},
		selector: &stubSelector{
			selected: articles,
			selections: []model.Selection{
				{Title: "AI chips", URL: "https://a.example.com/1", Reason: "passed keyword filter"},
				{Title: "AI agents", URL: "https://a.example.com/2", Reason: "passed keyword filter"},
			},
		},
		script: &stubScript{script: model.Script{
			Title: "AI Weekly",
			Lines: []model.ScriptLine{
				{Speaker: model.SpeakerA, Text: "Welcome back."},
				{Speaker: model.SpeakerB, Text: "Big week for chips."},
			},
		}},
		speech:    &stubSpeech{clips: [][]byte{[]byte("c1"), []byte("c2")}},
		stitcher:  &stubStitcher{audio: []byte("episode"), duration: 5 * time.Minute},
		publisher: &stubPublisher{},
		blobs:     &stubBlob{url: "https://cdn.example.com/ep.mp3"},
		quota:     &stubQuota{check: quota.Status{Allowed: true, Used: 3, Limit: 100}, increment: quota.Status{Allowed: true, Used: 4, Limit: 100}},
	}
	f.orch = NewOrchestrator(f.store, f.fetcher, f.selector, f.script, f.speech,
		f.stitcher, f.publisher, f.blobs, f.quota, slog.Default())
	return f
}

func lastRun(t *testing.T, store storage.Storage, jobID int64) model.Run {
	t.Helper()
	runs, err := store.ListRecentRuns(context.Background(), jobID, 1)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) == 0 {
		t.Fatal("no runs recorded")
	}
	return runs[0]
}

func TestExecuteJobCompletesAndRecordsLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := createJob(t, f.store, 7)

	if err := f.orch.ExecuteJob(ctx, job); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}

	run := lastRun(t, f.store, job.ID)
	if run.Status != model.RunCompleted {
		t.Fatalf("run status = %s, want completed (error: %s)", run.Status, run.ErrorMessage)
	}
	if run.ArticlesFound != 2 || run.ArticlesSelected != 2 {
		t.Errorf("counts = %d/%d, want 2/2", run.ArticlesFound, run.ArticlesSelected)
	}
	if diff := cmp.Diff(f.selector.selections, run.Selections); diff != "" {
		t.Errorf("selections mismatch (-want +got):\n%s", diff)
	}
	if run.EpisodeTitle != "AI Weekly" || run.EpisodeURL != "https://cdn.example.com/ep.mp3" {
		t.Errorf("episode = %q %q", run.EpisodeTitle, run.EpisodeURL)
	}
	if run.EpisodeDuration != 5*time.Minute {
		t.Errorf("episode duration = %v", run.EpisodeDuration)
	}
	if run.FinishedAt == nil {
		t.Error("completed run has no finish time")
	}

	recorded, err := f.store.RecordedURLs(ctx, job.ID, []string{"https://a.example.com/1", "https://a.example.com/2"})
	if err != nil {
		t.Fatalf("recorded urls: %v", err)
	}
	if !recorded["https://a.example.com/1"] || !recorded["https://a.example.com/2"] {
		t.Errorf("ledger missing selected urls: %v", recorded)
	}

	if len(f.blobs.keys) != 1 || !strings.HasPrefix(f.blobs.keys[0], "episodes/") {
		t.Errorf("blob keys = %v", f.blobs.keys)
	}
	if f.quota.incCalls != 1 {
		t.Errorf("quota incremented %d times, want 1", f.quota.incCalls)
	}

	got, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.LastRunAt == nil {
		t.Fatal("lastRunAt not set")
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(*got.LastRunAt) {
		t.Errorf("nextRunAt = %v, want after %v", got.NextRunAt, got.LastRunAt)
	}
}

func TestExecuteJobSkipsOnZeroSelection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.selector.selected = nil
	f.selector.selections = nil
	job := createJob(t, f.store, 7)

	if err := f.orch.ExecuteJob(ctx, job); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}

	run := lastRun(t, f.store, job.ID)
	if run.Status != model.RunSkipped {
		t.Fatalf("run status = %s, want skipped", run.Status)
	}
	if run.ArticlesFound != 2 || run.ArticlesSelected != 0 {
		t.Errorf("counts = %d/%d, want 2/0", run.ArticlesFound, run.ArticlesSelected)
	}
	if f.script.calls != 0 || f.speech.calls != 0 {
		t.Errorf("later stages ran: script=%d speech=%d", f.script.calls, f.speech.calls)
	}

	recorded, err := f.store.RecordedURLs(ctx, job.ID, []string{"https://a.example.com/1"})
	if err != nil {
		t.Fatalf("recorded urls: %v", err)
	}
	if recorded["https://a.example.com/1"] {
		t.Error("skipped run wrote to the ledger")
	}

	got, _ := f.store.GetJob(ctx, job.ID)
	if got.LastRunAt == nil || got.NextRunAt == nil {
		t.Error("job clock not updated after skipped run")
	}
}

func TestExecuteJobStageErrorFailsRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.script.err = errors.New("model returned malformed dialogue")
	job := createJob(t, f.store, 7)

	if err := f.orch.ExecuteJob(ctx, job); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}

	run := lastRun(t, f.store, job.ID)
	if run.Status != model.RunFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if !strings.Contains(run.ErrorMessage, "generate script") {
		t.Errorf("error message = %q, want stage named", run.ErrorMessage)
	}
	if f.speech.calls != 0 {
		t.Error("synthesis ran after script failure")
	}
	if f.quota.incCalls != 0 {
		t.Error("quota incremented for failed run")
	}

	got, _ := f.store.GetJob(ctx, job.ID)
	if got.NextRunAt == nil {
		t.Error("nextRunAt not recomputed after failure")
	}
}

func TestExecuteJobRecoversFromStagePanic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stitcher.panics = true
	job := createJob(t, f.store, 7)

	if err := f.orch.ExecuteJob(ctx, job); err != nil {
		t.Fatalf("ExecuteJob propagated a stage panic as error: %v", err)
	}

	run := lastRun(t, f.store, job.ID)
	if run.Status != model.RunFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if !strings.Contains(run.ErrorMessage, "panic") || !strings.Contains(run.ErrorMessage, "ffmpeg binary vanished") {
		t.Errorf("error message = %q, want panic message captured", run.ErrorMessage)
	}

	got, _ := f.store.GetJob(ctx, job.ID)
	if got.NextRunAt == nil {
		t.Error("nextRunAt not recomputed after panic")
	}
}

func TestExecuteJobRefusesConcurrentRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := createJob(t, f.store, 7)

	inFlight := &model.Run{ID: "run-busy", JobID: job.ID, Status: model.RunGeneratingAudio, StartedAt: time.Now().UTC()}
	if err := f.store.CreateRun(ctx, inFlight); err != nil {
		t.Fatalf("create run: %v", err)
	}

	err := f.orch.ExecuteJob(ctx, job)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}

	runs, err := f.store.ListRecentRuns(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want only the pre-existing one", len(runs))
	}
}

// staleCheckStore reports no run in progress regardless of the table,
// standing in for a sweep whose guard check raced another worker.
type staleCheckStore struct {
	storage.Storage
}

func (s *staleCheckStore) HasNonTerminalRun(context.Context, int64) (bool, error) {
	return false, nil
}

func TestExecuteJobRefusesConcurrentRunPastStaleCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := createJob(t, f.store, 7)

	inFlight := &model.Run{ID: "run-busy", JobID: job.ID, Status: model.RunFetching, StartedAt: time.Now().UTC()}
	if err := f.store.CreateRun(ctx, inFlight); err != nil {
		t.Fatalf("create run: %v", err)
	}

	orch := NewOrchestrator(&staleCheckStore{f.store}, f.fetcher, f.selector, f.script,
		f.speech, f.stitcher, f.publisher, f.blobs, f.quota, slog.Default())

	err := orch.ExecuteJob(ctx, job)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}

	runs, err := f.store.ListRecentRuns(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want only the pre-existing one", len(runs))
	}
}

func TestExecuteJobFailsWhenQuotaDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.quota.check = quota.Status{Allowed: false, Used: 50, Limit: 50}
	job := createJob(t, f.store, 7)

	if err := f.orch.ExecuteJob(ctx, job); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}

	run := lastRun(t, f.store, job.ID)
	if run.Status != model.RunFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if !strings.Contains(run.ErrorMessage, "quota") {
		t.Errorf("error message = %q", run.ErrorMessage)
	}
}

func TestExecuteJobPausesOwnerJobsOnExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.quota.increment = quota.Status{Allowed: true, Used: 50, Limit: 50}
	job := createJob(t, f.store, 7)
	sibling := createJob(t, f.store, 7)
	otherOwner := createJob(t, f.store, 8)

	if err := f.orch.ExecuteJob(ctx, job); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}

	for _, id := range []int64{job.ID, sibling.ID} {
		got, err := f.store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("get job %d: %v", id, err)
		}
		if got.Status != model.JobPaused {
			t.Errorf("job %d status = %s, want paused", id, got.Status)
		}
	}
	got, _ := f.store.GetJob(ctx, otherOwner.ID)
	if got.Status != model.JobActive {
		t.Errorf("other owner's job status = %s, want active", got.Status)
	}
}

func TestExecuteJobCompletesWhenAllChannelsFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publisher.results = []publish.Result{
		{Channel: model.ChannelBinding{Kind: model.ChannelTelegram}, Err: errors.New("chat not found")},
	}
	job := createJob(t, f.store, 7)

	if err := f.orch.ExecuteJob(ctx, job); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}

	if run := lastRun(t, f.store, job.ID); run.Status != model.RunCompleted {
		t.Errorf("run status = %s, want completed despite channel failures", run.Status)
	}
}

func TestExecuteJobDefaultsMaxArticles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := createJob(t, f.store, 7)
	job.Filter.MaxArticles = 0

	if err := f.orch.ExecuteJob(ctx, job); err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}
	if f.selector.gotMax != defaultMaxArticles {
		t.Errorf("maxArticles = %d, want default %d", f.selector.gotMax, defaultMaxArticles)
	}
}
