package store

import (
	"fmt"
	"log/slog"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

// Compile-time check that PostgresStore implements JobRepo.
var _ JobRepo = (*PostgresStore)(nil)

func (s *PostgresStore) UpsertJob(userID int64, key string, runAt int64) error {
	_, err := s.db.Exec(
		`INSERT INTO jobs (user_id, job_key, run_at, done) VALUES ($1, $2, $3, FALSE)
		 ON CONFLICT (user_id, job_key) DO UPDATE SET run_at = excluded.run_at, done = FALSE`,
		userID, key, runAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job failed: %w", err)
	}
	slog.Debug("PostgresStore.UpsertJob", "userID", userID, "key", key, "runAt", runAt)
	return nil
}

func (s *PostgresStore) FetchDueJobs(now int64, limit int) ([]models.Job, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, job_key, run_at, done FROM jobs
		 WHERE done = FALSE AND run_at <= $1 ORDER BY run_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch due jobs query failed: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch due jobs iteration failed: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) MarkJobDone(id int64) error {
	_, err := s.db.Exec(`UPDATE jobs SET done = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark job done failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkJobDoneByUserAndKey(userID int64, key string) error {
	_, err := s.db.Exec(`UPDATE jobs SET done = TRUE WHERE user_id = $1 AND job_key = $2`, userID, key)
	if err != nil {
		return fmt.Errorf("mark job done by key failed: %w", err)
	}
	slog.Debug("PostgresStore.MarkJobDoneByUserAndKey", "userID", userID, "key", key)
	return nil
}

func (s *PostgresStore) CountPendingJobs() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE done = FALSE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending jobs failed: %w", err)
	}
	return n, nil
}
