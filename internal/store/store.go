// Package store archives runs, tasks and their code-unit histories in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

// ErrNotFound is returned when a run or task does not exist.
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed persistence
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or updates a run
func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, analysis_name, data_path, model, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at
	`,
		run.ID,
		run.AnalysisName,
		run.DataPath,
		run.Model,
		string(run.Status),
		run.StartedAt,
		nullTime(run.FinishedAt),
	)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, analysis_name, data_path, model, status, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	query := `SELECT id, analysis_name, data_path, model, status, started_at, finished_at
		FROM runs ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveTask writes a task and its full history in one transaction, replacing
// any earlier copy.
func (s *Store) SaveTask(ctx context.Context, task *domain.AnalysisTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id := task.ID.String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (run_id, task_id, analysis, ordinal, title, proposal, feedback, iteration, fix_attempts, verdict, reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			iteration = excluded.iteration,
			fix_attempts = excluded.fix_attempts,
			verdict = excluded.verdict,
			reason = excluded.reason,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
		task.RunID,
		id,
		task.ID.Analysis,
		task.ID.Ordinal,
		task.Proposal.Title,
		task.Proposal.Text,
		task.Proposal.Feedback,
		task.Iteration,
		task.FixAttempts,
		string(task.Verdict),
		task.Reason,
		nullTime(task.StartedAt),
		nullTime(task.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_results WHERE run_id = ? AND task_id = ?`, task.RunID, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM code_units WHERE run_id = ? AND task_id = ?`, task.RunID, id); err != nil {
		return err
	}

	for _, u := range task.History {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO code_units (run_id, task_id, seq, source, provenance, iteration, fix_attempt, regenerated, guidance, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.RunID, id, u.Seq, u.Source, string(u.Provenance), u.Iteration, u.FixAttempt, u.Regenerated, u.Guidance, u.CreatedAt)
		if err != nil {
			return fmt.Errorf("saving unit %d of %s: %w", u.Seq, id, err)
		}
		if u.Result == nil {
			continue
		}
		arts, err := json.Marshal(u.Result.Artifacts)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO execution_results (run_id, task_id, seq, kind, output, stderr, error_message, traceback, artifacts, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.RunID, id, u.Seq, string(u.Result.Kind), u.Result.Output, u.Result.Stderr,
			u.Result.ErrorMessage, u.Result.Traceback, string(arts), u.Result.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("saving result %d of %s: %w", u.Seq, id, err)
		}
	}
	return tx.Commit()
}

const taskColumns = `run_id, task_id, analysis, ordinal, title, proposal, feedback, iteration, fix_attempts, verdict, reason, started_at, finished_at`

// ListTasks returns the tasks of a run in ordinal order, without histories.
func (s *Store) ListTasks(ctx context.Context, runID string) ([]*domain.AnalysisTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE run_id = ? ORDER BY ordinal`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.AnalysisTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTask loads one task with its full history.
func (s *Store) GetTask(ctx context.Context, runID, taskID string) (*domain.AnalysisTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE run_id = ? AND task_id = ?`, runID, taskID)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// FindTask loads the most recent task with the given ID across all runs.
func (s *Store) FindTask(ctx context.Context, taskID string) (*domain.AnalysisTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.run_id, t.task_id, t.analysis, t.ordinal, t.title, t.proposal, t.feedback, t.iteration,
			t.fix_attempts, t.verdict, t.reason, t.started_at, t.finished_at
		FROM tasks t JOIN runs r ON r.id = t.run_id
		WHERE t.task_id = ?
		ORDER BY r.started_at DESC LIMIT 1
	`, taskID)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// NextOrdinal returns the ordinal a new task of analysis should use.
func (s *Store) NextOrdinal(ctx context.Context, analysis string) (int, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ordinal) FROM tasks WHERE analysis = ?`, analysis).Scan(&last)
	if err != nil {
		return 0, err
	}
	return int(last.Int64) + 1, nil
}

// VerdictCounts tallies task verdicts for a run.
func (s *Store) VerdictCounts(ctx context.Context, runID string) (map[domain.Verdict]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT verdict, COUNT(*) FROM tasks WHERE run_id = ? GROUP BY verdict`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Verdict]int)
	for rows.Next() {
		var v string
		var n int
		if err := rows.Scan(&v, &n); err != nil {
			return nil, err
		}
		verdict, _ := domain.ParseVerdict(v)
		counts[verdict] += n
	}
	return counts, rows.Err()
}

func (s *Store) loadHistory(ctx context.Context, task *domain.AnalysisTask) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.seq, u.source, u.provenance, u.iteration, u.fix_attempt, u.regenerated, u.guidance, u.created_at,
			r.kind, r.output, r.stderr, r.error_message, r.traceback, r.artifacts, r.duration_ms
		FROM code_units u
		LEFT JOIN execution_results r ON r.run_id = u.run_id AND r.task_id = u.task_id AND r.seq = u.seq
		WHERE u.run_id = ? AND u.task_id = ?
		ORDER BY u.seq
	`, task.RunID, task.ID.String())
	if err != nil {
		return err
	}
	defer rows.Close()

	task.History = nil
	for rows.Next() {
		var u domain.CodeUnit
		var provenance string
		var guidance sql.NullString
		var createdAt sql.NullTime
		var kind, output, stderr, errMsg, traceback, arts sql.NullString
		var durationMS sql.NullInt64

		err := rows.Scan(&u.Seq, &u.Source, &provenance, &u.Iteration, &u.FixAttempt, &u.Regenerated, &guidance, &createdAt,
			&kind, &output, &stderr, &errMsg, &traceback, &arts, &durationMS)
		if err != nil {
			return err
		}
		u.Provenance = domain.Provenance(provenance)
		u.Guidance = guidance.String
		if createdAt.Valid {
			u.CreatedAt = createdAt.Time
		}
		if kind.Valid {
			res := &domain.ExecutionResult{
				Kind:         domain.OutcomeKind(kind.String),
				Output:       output.String,
				Stderr:       stderr.String,
				ErrorMessage: errMsg.String,
				Traceback:    traceback.String,
				Duration:     time.Duration(durationMS.Int64) * time.Millisecond,
			}
			if arts.Valid && arts.String != "" && arts.String != "null" {
				if err := json.Unmarshal([]byte(arts.String), &res.Artifacts); err != nil {
					return fmt.Errorf("decoding artifacts: %w", err)
				}
			}
			u.Result = res
		}
		task.History = append(task.History, u)
	}
	return rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var dataPath, model sql.NullString
	var finished sql.NullTime

	err := row.Scan(&run.ID, &run.AnalysisName, &dataPath, &model, &status, &run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.DataPath = dataPath.String
	run.Model = model.String
	run.Status = domain.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func scanTask(row scanner) (*domain.AnalysisTask, error) {
	var task domain.AnalysisTask
	var taskID string
	var title, feedback, verdict, reason sql.NullString
	var started, finished sql.NullTime

	err := row.Scan(&task.RunID, &taskID, &task.ID.Analysis, &task.ID.Ordinal, &title, &task.Proposal.Text, &feedback,
		&task.Iteration, &task.FixAttempts, &verdict, &reason, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	task.Verdict, _ = domain.ParseVerdict(verdict.String)
	task.Proposal.Title = title.String
	task.Proposal.Feedback = feedback.String
	task.Reason = reason.String
	if started.Valid {
		t := started.Time
		task.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		task.FinishedAt = &t
	}
	return &task, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
