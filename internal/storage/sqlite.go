package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"newscast/internal/model"
	"newscast/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job and populates its ID and CreatedAt.
func (s *SQLite) CreateJob(ctx context.Context, job *model.Job) error {
	blobs, err := marshalJobSpecs(job)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (owner_id, name, status, sources, schedule, filter, generation, channels, last_run_at, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.OwnerID, job.Name, string(job.Status),
		blobs.sources, blobs.schedule, blobs.filter, blobs.generation, blobs.channels,
		formatNullableTime(job.LastRunAt), formatNullableTime(job.NextRunAt), now,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

const jobColumns = `id, owner_id, name, status, sources, schedule, filter, generation, channels, last_run_at, next_run_at, created_at`

// GetJob returns a single job by its ID.
func (s *SQLite) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	)
	return scanJob(row)
}

// ListJobs returns all jobs belonging to the given owner.
func (s *SQLite) ListJobs(ctx context.Context, ownerID int64) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? ORDER BY id`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

// ListDueJobs returns all active jobs whose next run time has arrived.
func (s *SQLite) ListDueJobs(ctx context.Context, now time.Time) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at`,
		string(model.JobActive), now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

// UpdateJob persists changes to an existing job.
func (s *SQLite) UpdateJob(ctx context.Context, job *model.Job) error {
	blobs, err := marshalJobSpecs(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET name = ?, status = ?, sources = ?, schedule = ?, filter = ?, generation = ?, channels = ?, last_run_at = ?, next_run_at = ?
		 WHERE id = ?`,
		job.Name, string(job.Status),
		blobs.sources, blobs.schedule, blobs.filter, blobs.generation, blobs.channels,
		formatNullableTime(job.LastRunAt), formatNullableTime(job.NextRunAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateJobClock persists the run bookkeeping fields only.
func (s *SQLite) UpdateJobClock(ctx context.Context, jobID int64, lastRunAt time.Time, nextRunAt *time.Time) error {
	last := lastRunAt.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
		last, formatNullableTime(nextRunAt), jobID,
	)
	if err != nil {
		return fmt.Errorf("update job clock: %w", err)
	}
	return nil
}

// PauseOwnerJobs sets every active job of the owner to paused.
func (s *SQLite) PauseOwnerJobs(ctx context.Context, ownerID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE owner_id = ? AND status = ?`,
		string(model.JobPaused), ownerID, string(model.JobActive),
	)
	if err != nil {
		return 0, fmt.Errorf("pause owner jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteJob removes a job together with its runs and ledger entries.
func (s *SQLite) DeleteJob(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM article_ledger WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("delete ledger entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return tx.Commit()
}

// CreateRun inserts a new run record.
func (s *SQLite) CreateRun(ctx context.Context, run *model.Run) error {
	selections, err := json.Marshal(run.Selections)
	if err != nil {
		return fmt.Errorf("marshal selections: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, job_id, status, articles_found, articles_selected, selections, error_message, started_at, finished_at, episode_title, episode_url, episode_duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, string(run.Status),
		run.ArticlesFound, run.ArticlesSelected, string(selections), run.ErrorMessage,
		run.StartedAt.UTC().Format(timeLayout), formatNullableTime(run.FinishedAt),
		run.EpisodeTitle, run.EpisodeURL, run.EpisodeDuration.Milliseconds(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "idx_runs_job_in_progress") {
			return fmt.Errorf("insert run: %w", ErrRunConflict)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun persists the mutable fields of a run.
func (s *SQLite) UpdateRun(ctx context.Context, run *model.Run) error {
	selections, err := json.Marshal(run.Selections)
	if err != nil {
		return fmt.Errorf("marshal selections: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, articles_found = ?, articles_selected = ?, selections = ?, error_message = ?, finished_at = ?, episode_title = ?, episode_url = ?, episode_duration_ms = ?
		 WHERE id = ?`,
		string(run.Status), run.ArticlesFound, run.ArticlesSelected, string(selections),
		run.ErrorMessage, formatNullableTime(run.FinishedAt),
		run.EpisodeTitle, run.EpisodeURL, run.EpisodeDuration.Milliseconds(), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

const runColumns = `id, job_id, status, articles_found, articles_selected, selections, error_message, started_at, finished_at, episode_title, episode_url, episode_duration_ms`

// GetRun returns a single run by its ID.
func (s *SQLite) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

// HasNonTerminalRun reports whether the job has a run still in progress.
func (s *SQLite) HasNonTerminalRun(ctx context.Context, jobID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE job_id = ? AND status NOT IN (?, ?, ?)`,
		jobID, string(model.RunCompleted), string(model.RunSkipped), string(model.RunFailed),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count non-terminal runs: %w", err)
	}
	return count > 0, nil
}

// ListRecentRuns returns the most recent runs for a job, newest first.
func (s *SQLite) ListRecentRuns(ctx context.Context, jobID int64, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE job_id = ? ORDER BY started_at DESC, id LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RecordedURLs returns which of the given URLs are already in the ledger.
func (s *SQLite) RecordedURLs(ctx context.Context, jobID int64, urls []string) (map[string]bool, error) {
	recorded := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return recorded, nil
	}

	placeholders := strings.Repeat("?,", len(urls))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(urls)+1)
	args = append(args, jobID)
	for _, u := range urls {
		args = append(args, u)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM article_ledger WHERE job_id = ? AND url IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan ledger url: %w", err)
		}
		recorded[u] = true
	}
	return recorded, rows.Err()
}

// RecordURLs appends URLs to the job's ledger, ignoring duplicates.
func (s *SQLite) RecordURLs(ctx context.Context, jobID int64, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	for _, u := range urls {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO article_ledger (job_id, url, recorded_at) VALUES (?, ?, ?)`,
			jobID, u, now,
		); err != nil {
			return fmt.Errorf("record url: %w", err)
		}
	}
	return tx.Commit()
}

type jobBlobs struct {
	sources    string
	schedule   string
	filter     string
	generation string
	channels   string
}

func marshalJobSpecs(job *model.Job) (jobBlobs, error) {
	for _, src := range job.Sources {
		if err := src.Validate(); err != nil {
			return jobBlobs{}, fmt.Errorf("invalid source: %w", err)
		}
	}
	for _, ch := range job.Channels {
		if err := ch.Validate(); err != nil {
			return jobBlobs{}, fmt.Errorf("invalid channel: %w", err)
		}
	}
	if err := job.Schedule.Validate(); err != nil {
		return jobBlobs{}, fmt.Errorf("invalid schedule: %w", err)
	}

	sources, err := json.Marshal(job.Sources)
	if err != nil {
		return jobBlobs{}, fmt.Errorf("marshal sources: %w", err)
	}
	schedule, err := json.Marshal(job.Schedule)
	if err != nil {
		return jobBlobs{}, fmt.Errorf("marshal schedule: %w", err)
	}
	filter, err := json.Marshal(job.Filter)
	if err != nil {
		return jobBlobs{}, fmt.Errorf("marshal filter: %w", err)
	}
	generation, err := json.Marshal(job.Generation)
	if err != nil {
		return jobBlobs{}, fmt.Errorf("marshal generation: %w", err)
	}
	channels, err := json.Marshal(job.Channels)
	if err != nil {
		return jobBlobs{}, fmt.Errorf("marshal channels: %w", err)
	}
	return jobBlobs{
		sources:    string(sources),
		schedule:   string(schedule),
		filter:     string(filter),
		generation: string(generation),
		channels:   string(channels),
	}, nil
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var status, sources, schedule, filter, generation, channels string
	var lastRun, nextRun, created sql.NullString
	err := row.Scan(&j.ID, &j.OwnerID, &j.Name, &status,
		&sources, &schedule, &filter, &generation, &channels,
		&lastRun, &nextRun, &created)
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Status = model.JobStatus(status)

	if err := json.Unmarshal([]byte(sources), &j.Sources); err != nil {
		return nil, fmt.Errorf("unmarshal sources: %w", err)
	}
	for _, src := range j.Sources {
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("stored source: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(schedule), &j.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(filter), &j.Filter); err != nil {
		return nil, fmt.Errorf("unmarshal filter: %w", err)
	}
	if err := json.Unmarshal([]byte(generation), &j.Generation); err != nil {
		return nil, fmt.Errorf("unmarshal generation: %w", err)
	}
	if err := json.Unmarshal([]byte(channels), &j.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	for _, ch := range j.Channels {
		if err := ch.Validate(); err != nil {
			return nil, fmt.Errorf("stored channel: %w", err)
		}
	}

	j.LastRunAt = parseNullableTime(lastRun)
	j.NextRunAt = parseNullableTime(nextRun)
	if created.Valid {
		j.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status, selections, started string
	var finished sql.NullString
	var durationMS int64
	err := row.Scan(&r.ID, &r.JobID, &status, &r.ArticlesFound, &r.ArticlesSelected,
		&selections, &r.ErrorMessage, &started, &finished,
		&r.EpisodeTitle, &r.EpisodeURL, &durationMS)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = model.RunStatus(status)
	if selections != "" && selections != "null" {
		if err := json.Unmarshal([]byte(selections), &r.Selections); err != nil {
			return nil, fmt.Errorf("unmarshal selections: %w", err)
		}
	}
	r.StartedAt, _ = time.Parse(timeLayout, started)
	r.FinishedAt = parseNullableTime(finished)
	r.EpisodeDuration = time.Duration(durationMS) * time.Millisecond
	return &r, nil
}

func parseNullableTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}
