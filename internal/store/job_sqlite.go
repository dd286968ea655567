package store

import (
	"fmt"
	"log/slog"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

// Compile-time check that SQLiteStore implements JobRepo.
var _ JobRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) UpsertJob(userID int64, key string, runAt int64) error {
	_, err := s.db.Exec(
		`INSERT INTO jobs (user_id, job_key, run_at, done) VALUES (?, ?, ?, 0)
		 ON CONFLICT(user_id, job_key) DO UPDATE SET run_at = excluded.run_at, done = 0`,
		userID, key, runAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job failed: %w", err)
	}
	slog.Debug("SQLiteStore.UpsertJob", "userID", userID, "key", key, "runAt", runAt)
	return nil
}

func (s *SQLiteStore) FetchDueJobs(now int64, limit int) ([]models.Job, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, job_key, run_at, done FROM jobs
		 WHERE done = 0 AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
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

func (s *SQLiteStore) MarkJobDone(id int64) error {
	_, err := s.db.Exec(`UPDATE jobs SET done = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark job done failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkJobDoneByUserAndKey(userID int64, key string) error {
	_, err := s.db.Exec(`UPDATE jobs SET done = 1 WHERE user_id = ? AND job_key = ?`, userID, key)
	if err != nil {
		return fmt.Errorf("mark job done by key failed: %w", err)
	}
	slog.Debug("SQLiteStore.MarkJobDoneByUserAndKey", "userID", userID, "key", key)
	return nil
}

func (s *SQLiteStore) CountPendingJobs() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE done = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending jobs failed: %w", err)
	}
	return n, nil
}
