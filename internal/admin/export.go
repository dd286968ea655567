package admin

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const (
	exportUserLimit = 50000
	exportSheet     = "bot_users"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// handleExportUsers streams the subscriber table as a spreadsheet. Raw unix
// timestamps and their UTC renderings sit side by side so the file works
// both for eyeballing and for feeding other tools.
func (s *Server) handleExportUsers(c *gin.Context) {
	users, err := s.store.ListUsers(exportUserLimit)
	if err != nil {
		slog.Error("Admin.handleExportUsers: list users failed", "error", err)
		c.String(http.StatusInternalServerError, "failed to load users")
		return
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("Admin.handleExportUsers: close failed", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		slog.Error("Admin.handleExportUsers: rename sheet failed", "error", err)
		c.String(http.StatusInternalServerError, "failed to build spreadsheet")
		return
	}

	headers := []interface{}{
		"user_id", "username",
		"first_seen_ts", "last_seen_ts",
		"first_seen_utc", "last_seen_utc",
		"starts_count", "messages_count",
	}
	if err := f.SetSheetRow(exportSheet, "A1", &headers); err != nil {
		slog.Error("Admin.handleExportUsers: header row failed", "error", err)
		c.String(http.StatusInternalServerError, "failed to build spreadsheet")
		return
	}
	for i, u := range users {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			slog.Error("Admin.handleExportUsers: cell name failed", "row", i+2, "error", err)
			continue
		}
		row := []interface{}{
			u.UserID, u.Username,
			u.FirstSeen, u.LastSeen,
			utcTimestamp(u.FirstSeen), utcTimestamp(u.LastSeen),
			u.Starts, u.Messages,
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			slog.Error("Admin.handleExportUsers: row failed", "userID", u.UserID, "error", err)
		}
	}
	for i, h := range headers {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			continue
		}
		width := float64(14)
		if w := float64(len(fmt.Sprint(h)) + 2); w > width {
			width = w
		}
		if err := f.SetColWidth(exportSheet, col, col, width); err != nil {
			slog.Error("Admin.handleExportUsers: column width failed", "column", col, "error", err)
		}
	}

	filename := fmt.Sprintf("bot_users_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", xlsxContentType)
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		slog.Error("Admin.handleExportUsers: write failed", "error", err)
	}
}

func utcTimestamp(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05")
}
