package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

// Compile-time check that PostgresStore implements UserRepo.
var _ UserRepo = (*PostgresStore)(nil)

func (s *PostgresStore) IncStart(userID int64, username string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO bot_users (user_id, username, first_seen, last_seen, starts, messages) VALUES ($1, $2, $3, $4, 1, 0)
		 ON CONFLICT (user_id) DO UPDATE SET username = excluded.username, last_seen = excluded.last_seen, starts = bot_users.starts + 1`,
		userID, username, now, now,
	)
	if err != nil {
		return fmt.Errorf("inc start failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncMessage(userID int64, username string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO bot_users (user_id, username, first_seen, last_seen, starts, messages) VALUES ($1, $2, $3, $4, 0, 1)
		 ON CONFLICT (user_id) DO UPDATE SET username = excluded.username, last_seen = excluded.last_seen, messages = bot_users.messages + 1`,
		userID, username, now, now,
	)
	if err != nil {
		return fmt.Errorf("inc message failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(limit int) ([]models.BotUser, error) {
	rows, err := s.db.Query(
		`SELECT user_id, username, first_seen, last_seen, starts, messages FROM bot_users
		 ORDER BY last_seen DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users query failed: %w", err)
	}
	defer rows.Close()

	var users []models.BotUser
	for rows.Next() {
		var u models.BotUser
		if err := rows.Scan(&u.UserID, &u.Username, &u.FirstSeen, &u.LastSeen, &u.Starts, &u.Messages); err != nil {
			return nil, fmt.Errorf("list users scan failed: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users iteration failed: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) ListUserIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT user_id FROM bot_users ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list user ids query failed: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list user ids scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list user ids iteration failed: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) GetStats() (models.UserStats, error) {
	var st models.UserStats
	hourAgo := time.Now().Unix() - 3600
	err := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN last_seen >= $1 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(starts), 0),
		        COALESCE(SUM(messages), 0)
		 FROM bot_users`, hourAgo,
	).Scan(&st.TotalUsers, &st.ActiveLastHour, &st.TotalStarts, &st.TotalMessages)
	if err != nil {
		return models.UserStats{}, fmt.Errorf("get stats failed: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) GetUserState(userID int64) (map[string]string, error) {
	var stateJSON string
	err := s.db.QueryRow(`SELECT state_json FROM user_states WHERE user_id = $1`, userID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user state failed: %w", err)
	}

	state := make(map[string]string)
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			slog.Error("PostgresStore.GetUserState unmarshal failed", "error", err, "userID", userID)
			// Continue with empty map rather than failing
			state = make(map[string]string)
		}
	}
	return state, nil
}

func (s *PostgresStore) SetUserStateValue(userID int64, key, value string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("set user state begin failed: %w", err)
	}
	defer tx.Rollback()

	var stateJSON string
	err = tx.QueryRow(`SELECT state_json FROM user_states WHERE user_id = $1`, userID).Scan(&stateJSON)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("set user state lookup failed: %w", err)
	}

	state := make(map[string]string)
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			slog.Error("PostgresStore.SetUserStateValue unmarshal failed", "error", err, "userID", userID)
			state = make(map[string]string)
		}
	}
	state[key] = value

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("set user state marshal failed: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO user_states (user_id, state_json) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET state_json = excluded.state_json`,
		userID, string(raw),
	); err != nil {
		return fmt.Errorf("set user state failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set user state commit failed: %w", err)
	}
	slog.Debug("PostgresStore.SetUserStateValue", "userID", userID, "key", key)
	return nil
}

func (s *PostgresStore) MarkGatePressed(userID, blockID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO gate_presses (user_id, block_id, pressed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, block_id) DO NOTHING`,
		userID, blockID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("mark gate pressed failed: %w", err)
	}
	slog.Debug("PostgresStore.MarkGatePressed", "userID", userID, "blockID", blockID)
	return nil
}

func (s *PostgresStore) IsGatePressed(userID, blockID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM gate_presses WHERE user_id = $1 AND block_id = $2`, userID, blockID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gate press lookup failed: %w", err)
	}
	return true, nil
}
