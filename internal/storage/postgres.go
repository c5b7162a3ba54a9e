package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quizsolver/internal/domain"
)

// PostgresStore archives terminal attempts so their outcome stays
// queryable after the request that produced them is gone.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// SaveAttempt persists an attempt and its steps within a single transaction.
func (s *PostgresStore) SaveAttempt(ctx context.Context, a *domain.Attempt) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	lastAnswer := ""
	for _, step := range a.Steps {
		if step.Execution != nil && step.Execution.OK {
			if v, ok := step.Execution.Answer.(string); ok {
				lastAnswer = v
			} else {
				lastAnswer = fmt.Sprint(step.Execution.Answer)
			}
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO attempts (id, start_url, email, status, fail_kind, fail_reason, last_stage, last_answer, questions, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, fail_kind = EXCLUDED.fail_kind, fail_reason = EXCLUDED.fail_reason,
		   last_stage = EXCLUDED.last_stage, last_answer = EXCLUDED.last_answer,
		   questions = EXCLUDED.questions, updated_at = NOW()`,
		a.ID, a.StartURL, a.Email, string(a.Status), a.FailKind, a.FailReason,
		string(a.LastStage), lastAnswer, len(a.Steps), a.StartedAt,
	)
	if err != nil {
		return err
	}

	if len(a.Steps) > 0 {
		batch := &pgx.Batch{}
		for i, step := range a.Steps {
			verdict := ""
			if step.Submission != nil {
				verdict = step.Submission.Verdict()
			}
			batch.Queue(
				`INSERT INTO attempt_steps (attempt_id, step_no, url, status, verdict)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (attempt_id, step_no) DO UPDATE SET
				   status = EXCLUDED.status, verdict = EXCLUDED.verdict`,
				a.ID, i+1, step.URL, string(step.Status), verdict)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetAttempt retrieves the stored outcome of an attempt.
func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*domain.AttemptResult, error) {
	var result domain.AttemptResult
	var status, lastStage string
	err := s.db.QueryRow(ctx,
		`SELECT id, status, fail_kind, fail_reason, last_stage, last_answer, questions
		 FROM attempts WHERE id = $1`, id,
	).Scan(&result.ID, &status, &result.FailKind, &result.FailReason,
		&lastStage, &result.LastAnswer, &result.Questions)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("not_found")
	}
	if err != nil {
		return nil, err
	}
	result.Status = domain.AttemptStatus(status)
	result.LastStage = domain.Stage(lastStage)

	rows, err := s.db.Query(ctx,
		`SELECT url, verdict FROM attempt_steps
		 WHERE attempt_id = $1 AND verdict <> '' ORDER BY step_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v domain.StepVerdict
		if err := rows.Scan(&v.URL, &v.Verdict); err != nil {
			return nil, err
		}
		result.Verdicts = append(result.Verdicts, v)
	}
	return &result, rows.Err()
}
