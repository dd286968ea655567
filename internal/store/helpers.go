package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

// formatDelay renders a block delay for storage. The column is free-form
// text; reads run through models.NormalizeDelay.
func formatDelay(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

// scanBlock scans a Block from sql.Rows.
func scanBlock(rows *sql.Rows) (models.Block, error) {
	var b models.Block
	var kind, delay string
	err := rows.Scan(
		&b.ID, &b.Flow, &b.Position, &kind, &b.Title, &b.Text, &b.CirclePath, &b.VideoURL,
		&b.ButtonsJSON, &b.IsActive, &delay, &b.FilePath, &b.FileKind, &b.FileName,
		&b.GateNextFlow, &b.GateButtonText, &b.GatePromptText, &b.GateReminderSeconds, &b.GateReminderText,
	)
	if err != nil {
		return b, fmt.Errorf("scan block failed: %w", err)
	}
	b.Kind = models.BlockKind(kind)
	b.DelaySeconds = models.NormalizeDelay(delay)
	return b, nil
}

// scanBlockRow scans a Block from a single sql.Row.
func scanBlockRow(row *sql.Row) (models.Block, error) {
	var b models.Block
	var kind, delay string
	err := row.Scan(
		&b.ID, &b.Flow, &b.Position, &kind, &b.Title, &b.Text, &b.CirclePath, &b.VideoURL,
		&b.ButtonsJSON, &b.IsActive, &delay, &b.FilePath, &b.FileKind, &b.FileName,
		&b.GateNextFlow, &b.GateButtonText, &b.GatePromptText, &b.GateReminderSeconds, &b.GateReminderText,
	)
	if err != nil {
		return b, err
	}
	b.Kind = models.BlockKind(kind)
	b.DelaySeconds = models.NormalizeDelay(delay)
	return b, nil
}

// collectBlocks drains rows into a slice using scanBlock.
func collectBlocks(rows *sql.Rows) ([]models.Block, error) {
	var blocks []models.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("block rows iteration failed: %w", err)
	}
	return blocks, nil
}

// scanJob scans a Job from sql.Rows.
func scanJob(rows *sql.Rows) (models.Job, error) {
	var j models.Job
	err := rows.Scan(&j.ID, &j.UserID, &j.Key, &j.RunAt, &j.Done)
	if err != nil {
		return j, fmt.Errorf("scan job failed: %w", err)
	}
	return j, nil
}
