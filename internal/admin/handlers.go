package admin

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowkeeper/flowkeeper/internal/flow"
	"github.com/flowkeeper/flowkeeper/internal/models"
)

const indexUserLimit = 200

// triggerView is the per-flow scheduling row on the dashboard: the delivery
// mode plus the after-start offset split into a value and a display unit.
type triggerView struct {
	Flow        string
	Mode        string
	Enabled     bool
	OffsetValue int64
	OffsetUnit  string
}

type indexData struct {
	Flows       []models.Flow
	Triggers    map[string]triggerView
	Stats       models.UserStats
	PendingJobs int64
	Users       []models.BotUser
}

func (s *Server) handleIndex(c *gin.Context) {
	flows, err := s.store.ListFlows()
	if err != nil {
		slog.Error("Admin.handleIndex: list flows failed", "error", err)
		c.String(http.StatusInternalServerError, "failed to load flows")
		return
	}
	modes, err := s.store.GetFlowModes()
	if err != nil {
		slog.Error("Admin.handleIndex: load modes failed", "error", err)
		modes = map[string]models.FlowMode{}
	}
	triggers, err := s.store.ListTriggers()
	if err != nil {
		slog.Error("Admin.handleIndex: load triggers failed", "error", err)
	}

	views := make(map[string]triggerView, len(flows))
	for _, f := range flows {
		mode := modes[f.Name]
		if mode == "" {
			mode = models.ModeOff
		}
		views[f.Name] = triggerView{
			Flow:       f.Name,
			Mode:       string(mode),
			OffsetUnit: "days",
		}
	}
	for _, t := range triggers {
		v := views[t.Flow]
		v.Flow = t.Flow
		v.Enabled = t.IsActive
		v.OffsetValue, v.OffsetUnit = secondsToValueUnit(t.OffsetSeconds, "days")
		views[t.Flow] = v
	}

	stats, err := s.store.GetStats()
	if err != nil {
		slog.Error("Admin.handleIndex: load stats failed", "error", err)
	}
	pending, err := s.store.CountPendingJobs()
	if err != nil {
		slog.Error("Admin.handleIndex: count jobs failed", "error", err)
	}
	users, err := s.store.ListUsers(indexUserLimit)
	if err != nil {
		slog.Error("Admin.handleIndex: list users failed", "error", err)
	}

	c.HTML(http.StatusOK, "index.html", indexData{
		Flows:       flows,
		Triggers:    views,
		Stats:       stats,
		PendingJobs: pending,
		Users:       users,
	})
}

func (s *Server) handleCreateFlow(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err := s.store.CreateFlow(name); err != nil {
		slog.Error("Admin.handleCreateFlow: create failed", "flow", name, "error", err)
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err := s.store.SetFlowMode(name, models.ModeOff); err != nil {
		slog.Error("Admin.handleCreateFlow: set mode failed", "flow", name, "error", err)
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleDeleteFlow(c *gin.Context) {
	name := c.Param("flow")
	if err := s.store.DeleteFlow(name); err != nil {
		slog.Error("Admin.handleDeleteFlow: delete failed", "flow", name, "error", err)
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleMoveFlow(direction string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("flow")
		if err := s.store.MoveFlow(name, direction); err != nil {
			slog.Error("Admin.handleMoveFlow: move failed", "flow", name, "direction", direction, "error", err)
		}
		c.Redirect(http.StatusFound, "/")
	}
}

// handleSaveTrigger persists the mode and the after-start offset together.
// The trigger row is active only in auto mode; manual and off keep the
// offset around but stop the scheduler from acting on it.
func (s *Server) handleSaveTrigger(c *gin.Context) {
	name := c.Param("flow")
	mode := models.ParseFlowMode(c.PostForm("mode"))
	if err := s.store.SetFlowMode(name, mode); err != nil {
		slog.Error("Admin.handleSaveTrigger: set mode failed", "flow", name, "error", err)
	}

	value := formInt64(c, "offset_value")
	if value < 0 {
		value = 0
	}
	unit := normalizeUnit(c.PostForm("offset_unit"), "days")
	trigger := models.FlowTrigger{
		Flow:          name,
		Trigger:       models.TriggerAfterStart,
		OffsetSeconds: value * unitSeconds(unit),
		IsActive:      mode == models.ModeAuto,
	}
	if err := s.store.SetTrigger(trigger); err != nil {
		slog.Error("Admin.handleSaveTrigger: set trigger failed", "flow", name, "error", err)
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleDeleteTrigger(c *gin.Context) {
	name := c.Param("flow")
	if err := s.store.DeleteTrigger(name); err != nil {
		slog.Error("Admin.handleDeleteTrigger: delete failed", "flow", name, "error", err)
	}
	if err := s.store.SetFlowMode(name, models.ModeOff); err != nil {
		slog.Error("Admin.handleDeleteTrigger: set mode failed", "flow", name, "error", err)
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleCreateAction(c *gin.Context) {
	after := c.Param("flow")
	target := strings.TrimSpace(c.PostForm("target_flow"))
	if target == "" {
		c.Redirect(http.StatusFound, flowPagePath(after))
		return
	}
	value := formInt64(c, "delay_value")
	if value < 0 {
		value = 0
	}
	unit := normalizeUnit(c.PostForm("delay_unit"), "hours")
	action := models.FlowAction{
		AfterFlow:    after,
		ActionType:   models.ActionStartFlow,
		TargetFlow:   target,
		DelaySeconds: value * unitSeconds(unit),
		IsActive:     true,
	}
	if _, err := s.store.CreateAction(action); err != nil {
		slog.Error("Admin.handleCreateAction: create failed", "afterFlow", after, "targetFlow", target, "error", err)
	}
	c.Redirect(http.StatusFound, flowPagePath(after))
}

func (s *Server) handleDeleteAction(c *gin.Context) {
	id := pathInt64(c, "id")
	back := strings.TrimSpace(c.PostForm("flow"))
	if err := s.store.DeleteAction(id); err != nil {
		slog.Error("Admin.handleDeleteAction: delete failed", "actionID", id, "error", err)
	}
	if back == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, flowPagePath(back))
}

// handleBroadcast enqueues a one-off or repeating broadcast of a flow. The
// job runner expands the audience when the job comes due.
func (s *Server) handleBroadcast(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("flow"))
	if name == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	audience := strings.TrimSpace(c.PostForm("audience"))

	delay := formInt64(c, "delay_value")
	if delay < 0 {
		delay = 0
	}
	delayUnit := normalizeUnit(c.PostForm("delay_unit"), "minutes")
	runAt := time.Now().Unix() + delay*unitSeconds(delayUnit)

	repeat := formInt64(c, "repeat_value")
	if repeat < 0 {
		repeat = 0
	}
	repeatUnit := normalizeUnit(c.PostForm("repeat_unit"), "days")

	if err := flow.ScheduleBroadcast(s.store, name, audience, repeat*unitSeconds(repeatUnit), runAt); err != nil {
		slog.Error("Admin.handleBroadcast: schedule failed", "flow", name, "error", err)
	} else {
		slog.Info("Admin.handleBroadcast: broadcast scheduled", "flow", name, "audience", audience, "runAt", runAt)
	}
	c.Redirect(http.StatusFound, "/")
}

func flowPagePath(name string) string {
	return "/flow/" + url.PathEscape(name)
}

func formInt64(c *gin.Context, field string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(c.PostForm(field)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func pathInt64(c *gin.Context, field string) int64 {
	v, err := strconv.ParseInt(c.Param(field), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func normalizeUnit(unit, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "minutes":
		return "minutes"
	case "hours":
		return "hours"
	case "days":
		return "days"
	}
	return fallback
}

func unitSeconds(unit string) int64 {
	switch unit {
	case "minutes":
		return 60
	case "hours":
		return 3600
	}
	return 86400
}

// secondsToValueUnit picks the largest unit that divides total evenly so a
// stored offset round-trips through the form as entered. Zero shows in the
// preferred unit; an uneven total falls back to whole minutes.
func secondsToValueUnit(total int64, preferred string) (int64, string) {
	preferred = normalizeUnit(preferred, "days")
	if total <= 0 {
		return 0, preferred
	}
	switch {
	case total%86400 == 0:
		return total / 86400, "days"
	case total%3600 == 0:
		return total / 3600, "hours"
	case total%60 == 0:
		return total / 60, "minutes"
	}
	v := total / 60
	if v < 1 {
		v = 1
	}
	return v, "minutes"
}
