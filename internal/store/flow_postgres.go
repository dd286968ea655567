package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

// Compile-time check that PostgresStore implements FlowRepo.
var _ FlowRepo = (*PostgresStore)(nil)

func (s *PostgresStore) ListFlows() ([]models.Flow, error) {
	rows, err := s.db.Query(`SELECT name, sort_order FROM flows ORDER BY sort_order ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list flows query failed: %w", err)
	}
	defer rows.Close()

	var flows []models.Flow
	for rows.Next() {
		var f models.Flow
		if err := rows.Scan(&f.Name, &f.SortOrder); err != nil {
			return nil, fmt.Errorf("list flows scan failed: %w", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flows iteration failed: %w", err)
	}
	return flows, nil
}

func (s *PostgresStore) CreateFlow(name string) error {
	if err := models.ValidateFlowName(name); err != nil {
		return err
	}
	var next int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(sort_order), 0) + 1 FROM flows`).Scan(&next); err != nil {
		return fmt.Errorf("next flow sort order failed: %w", err)
	}
	_, err := s.db.Exec(`INSERT INTO flows (name, sort_order) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, name, next)
	if err != nil {
		return fmt.Errorf("create flow failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateFlow", "flow", name, "sortOrder", next)
	return nil
}

// DeleteFlow removes the flow together with its blocks, trigger, mode row,
// and any pending or finished jobs keyed to it. Post-flow actions are left
// alone: their targets resolve at fire time and a missing flow renders
// nothing.
func (s *PostgresStore) DeleteFlow(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete flow begin failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM content_blocks WHERE flow = $1`, name); err != nil {
		return fmt.Errorf("delete flow blocks failed: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM flow_triggers WHERE flow = $1`, name); err != nil {
		return fmt.Errorf("delete flow trigger failed: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM flow_modes WHERE flow = $1`, name); err != nil {
		return fmt.Errorf("delete flow mode failed: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM jobs WHERE job_key = $1 OR job_key = $2 OR job_key LIKE $3 OR job_key LIKE $4`,
		models.FlowKey{Flow: name}.Encode(), name, "resume:"+name+":%", "broadcast:"+name+":%",
	); err != nil {
		return fmt.Errorf("delete flow jobs failed: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM flows WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete flow failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete flow commit failed: %w", err)
	}
	slog.Debug("PostgresStore.DeleteFlow", "flow", name)
	return nil
}

func (s *PostgresStore) MoveFlow(name string, direction string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("move flow begin failed: %w", err)
	}
	defer tx.Rollback()

	var cur int
	if err := tx.QueryRow(`SELECT sort_order FROM flows WHERE name = $1`, name).Scan(&cur); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("move flow: flow %q not found", name)
		}
		return fmt.Errorf("move flow lookup failed: %w", err)
	}

	var neighborName string
	var neighborOrder int
	switch direction {
	case "up":
		err = tx.QueryRow(`SELECT name, sort_order FROM flows WHERE sort_order < $1 ORDER BY sort_order DESC LIMIT 1`, cur).Scan(&neighborName, &neighborOrder)
	case "down":
		err = tx.QueryRow(`SELECT name, sort_order FROM flows WHERE sort_order > $1 ORDER BY sort_order ASC LIMIT 1`, cur).Scan(&neighborName, &neighborOrder)
	default:
		return fmt.Errorf("move flow: unknown direction %q", direction)
	}
	if err == sql.ErrNoRows {
		// Already at the edge.
		return nil
	}
	if err != nil {
		return fmt.Errorf("move flow neighbor lookup failed: %w", err)
	}

	if _, err := tx.Exec(`UPDATE flows SET sort_order = $1 WHERE name = $2`, neighborOrder, name); err != nil {
		return fmt.Errorf("move flow update failed: %w", err)
	}
	if _, err := tx.Exec(`UPDATE flows SET sort_order = $1 WHERE name = $2`, cur, neighborName); err != nil {
		return fmt.Errorf("move flow neighbor update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("move flow commit failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBlocks(flow string) ([]models.Block, error) {
	rows, err := s.db.Query(
		`SELECT `+blockColumns+` FROM content_blocks WHERE flow = $1 ORDER BY position ASC`, flow)
	if err != nil {
		return nil, fmt.Errorf("list blocks query failed: %w", err)
	}
	defer rows.Close()
	return collectBlocks(rows)
}

func (s *PostgresStore) ListActiveBlocks(flow string) ([]models.Block, error) {
	rows, err := s.db.Query(
		`SELECT `+blockColumns+` FROM content_blocks WHERE flow = $1 AND is_active = TRUE ORDER BY position ASC`, flow)
	if err != nil {
		return nil, fmt.Errorf("list active blocks query failed: %w", err)
	}
	defer rows.Close()
	return collectBlocks(rows)
}

func (s *PostgresStore) GetBlock(id int64) (*models.Block, error) {
	row := s.db.QueryRow(`SELECT `+blockColumns+` FROM content_blocks WHERE id = $1`, id)
	b, err := scanBlockRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block failed: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) CreateBlock(b models.Block) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO content_blocks (flow, position, kind, title, text, circle_path, video_url, buttons_json, is_active, delay_seconds, file_path, file_kind, file_name, gate_next_flow, gate_button_text, gate_prompt_text, gate_reminder_seconds, gate_reminder_text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18) RETURNING id`,
		b.Flow, b.Position, string(b.Kind), b.Title, b.Text, b.CirclePath, b.VideoURL, b.ButtonsJSON,
		b.IsActive, formatDelay(b.DelaySeconds), b.FilePath, b.FileKind, b.FileName,
		b.GateNextFlow, b.GateButtonText, b.GatePromptText, b.GateReminderSeconds, b.GateReminderText,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create block failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateBlock", "id", id, "flow", b.Flow, "position", b.Position)
	return id, nil
}

func (s *PostgresStore) UpdateBlock(b models.Block) error {
	_, err := s.db.Exec(
		`UPDATE content_blocks SET flow = $1, position = $2, kind = $3, title = $4, text = $5, circle_path = $6, video_url = $7, buttons_json = $8, is_active = $9, delay_seconds = $10, file_path = $11, file_kind = $12, file_name = $13, gate_next_flow = $14, gate_button_text = $15, gate_prompt_text = $16, gate_reminder_seconds = $17, gate_reminder_text = $18 WHERE id = $19`,
		b.Flow, b.Position, string(b.Kind), b.Title, b.Text, b.CirclePath, b.VideoURL, b.ButtonsJSON,
		b.IsActive, formatDelay(b.DelaySeconds), b.FilePath, b.FileKind, b.FileName,
		b.GateNextFlow, b.GateButtonText, b.GatePromptText, b.GateReminderSeconds, b.GateReminderText, b.ID,
	)
	if err != nil {
		return fmt.Errorf("update block failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBlock(id int64) error {
	_, err := s.db.Exec(`DELETE FROM content_blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete block failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SwapBlockPositions(idA, idB int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("swap blocks begin failed: %w", err)
	}
	defer tx.Rollback()

	var posA, posB int
	if err := tx.QueryRow(`SELECT position FROM content_blocks WHERE id = $1`, idA).Scan(&posA); err != nil {
		return fmt.Errorf("swap blocks lookup %d failed: %w", idA, err)
	}
	if err := tx.QueryRow(`SELECT position FROM content_blocks WHERE id = $1`, idB).Scan(&posB); err != nil {
		return fmt.Errorf("swap blocks lookup %d failed: %w", idB, err)
	}

	if _, err := tx.Exec(`UPDATE content_blocks SET position = $1 WHERE id = $2`, posB, idA); err != nil {
		return fmt.Errorf("swap blocks update %d failed: %w", idA, err)
	}
	if _, err := tx.Exec(`UPDATE content_blocks SET position = $1 WHERE id = $2`, posA, idB); err != nil {
		return fmt.Errorf("swap blocks update %d failed: %w", idB, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("swap blocks commit failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextBlockPosition(flow string) (int, error) {
	var next int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(position), 0) + 1 FROM content_blocks WHERE flow = $1`, flow).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next block position failed: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) GetFlowModes() (map[string]models.FlowMode, error) {
	rows, err := s.db.Query(`SELECT flow, mode FROM flow_modes`)
	if err != nil {
		return nil, fmt.Errorf("flow modes query failed: %w", err)
	}
	defer rows.Close()

	modes := make(map[string]models.FlowMode)
	for rows.Next() {
		var flow, mode string
		if err := rows.Scan(&flow, &mode); err != nil {
			return nil, fmt.Errorf("flow modes scan failed: %w", err)
		}
		modes[flow] = models.ParseFlowMode(mode)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow modes iteration failed: %w", err)
	}
	return modes, nil
}

func (s *PostgresStore) SetFlowMode(flow string, mode models.FlowMode) error {
	_, err := s.db.Exec(
		`INSERT INTO flow_modes (flow, mode) VALUES ($1, $2)
		 ON CONFLICT (flow) DO UPDATE SET mode = excluded.mode`,
		flow, string(mode),
	)
	if err != nil {
		return fmt.Errorf("set flow mode failed: %w", err)
	}
	slog.Debug("PostgresStore.SetFlowMode", "flow", flow, "mode", mode)
	return nil
}

func (s *PostgresStore) ListTriggers() ([]models.FlowTrigger, error) {
	rows, err := s.db.Query(`SELECT flow, trigger, offset_seconds, is_active FROM flow_triggers`)
	if err != nil {
		return nil, fmt.Errorf("list triggers query failed: %w", err)
	}
	defer rows.Close()

	var triggers []models.FlowTrigger
	for rows.Next() {
		var t models.FlowTrigger
		if err := rows.Scan(&t.Flow, &t.Trigger, &t.OffsetSeconds, &t.IsActive); err != nil {
			return nil, fmt.Errorf("list triggers scan failed: %w", err)
		}
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list triggers iteration failed: %w", err)
	}
	return triggers, nil
}

func (s *PostgresStore) SetTrigger(t models.FlowTrigger) error {
	_, err := s.db.Exec(
		`INSERT INTO flow_triggers (flow, trigger, offset_seconds, is_active) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (flow) DO UPDATE SET trigger = excluded.trigger, offset_seconds = excluded.offset_seconds, is_active = excluded.is_active`,
		t.Flow, t.Trigger, t.OffsetSeconds, t.IsActive,
	)
	if err != nil {
		return fmt.Errorf("set trigger failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTrigger(flow string) error {
	_, err := s.db.Exec(`DELETE FROM flow_triggers WHERE flow = $1`, flow)
	if err != nil {
		return fmt.Errorf("delete trigger failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActions(afterFlow string) ([]models.FlowAction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if afterFlow == "" {
		rows, err = s.db.Query(`SELECT id, after_flow, action_type, target_flow, delay_seconds, is_active FROM flow_actions ORDER BY id ASC`)
	} else {
		rows, err = s.db.Query(`SELECT id, after_flow, action_type, target_flow, delay_seconds, is_active FROM flow_actions WHERE after_flow = $1 ORDER BY id ASC`, afterFlow)
	}
	if err != nil {
		return nil, fmt.Errorf("list actions query failed: %w", err)
	}
	defer rows.Close()

	var actions []models.FlowAction
	for rows.Next() {
		var a models.FlowAction
		if err := rows.Scan(&a.ID, &a.AfterFlow, &a.ActionType, &a.TargetFlow, &a.DelaySeconds, &a.IsActive); err != nil {
			return nil, fmt.Errorf("list actions scan failed: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list actions iteration failed: %w", err)
	}
	return actions, nil
}

func (s *PostgresStore) GetAction(id int64) (*models.FlowAction, error) {
	var a models.FlowAction
	err := s.db.QueryRow(
		`SELECT id, after_flow, action_type, target_flow, delay_seconds, is_active FROM flow_actions WHERE id = $1`, id,
	).Scan(&a.ID, &a.AfterFlow, &a.ActionType, &a.TargetFlow, &a.DelaySeconds, &a.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action failed: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) CreateAction(a models.FlowAction) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO flow_actions (after_flow, action_type, target_flow, delay_seconds, is_active) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.AfterFlow, a.ActionType, a.TargetFlow, a.DelaySeconds, a.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create action failed: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateAction(a models.FlowAction) error {
	_, err := s.db.Exec(
		`UPDATE flow_actions SET after_flow = $1, action_type = $2, target_flow = $3, delay_seconds = $4, is_active = $5 WHERE id = $6`,
		a.AfterFlow, a.ActionType, a.TargetFlow, a.DelaySeconds, a.IsActive, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update action failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAction(id int64) error {
	_, err := s.db.Exec(`DELETE FROM flow_actions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete action failed: %w", err)
	}
	return nil
}
