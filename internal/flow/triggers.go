package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

// Triggers resolves a user's start event into scheduled jobs and immediate
// renders.
type Triggers struct {
	flows    FlowSource
	jobs     JobQueue
	renderer *Renderer
}

// NewTriggers creates a Triggers resolver over the renderer's stores.
func NewTriggers(renderer *Renderer) *Triggers {
	return &Triggers{
		flows:    renderer.flows,
		jobs:     renderer.jobs,
		renderer: renderer,
	}
}

// HandleStart walks the configured start triggers for the user. Every active
// auto flow with a positive offset is enqueued at now+offset; zero-offset
// flows are rendered inline, in trigger order, after the scheduling loop, so
// the first content lands inside start handling instead of one poll tick
// later. Modes are read fresh here rather than from the runner's cache.
func (t *Triggers) HandleStart(ctx context.Context, userID int64) {
	modes, err := t.flows.GetFlowModes()
	if err != nil {
		slog.Error("Triggers.HandleStart: mode load failed", "userID", userID, "error", err)
		return
	}
	triggers, err := t.flows.ListTriggers()
	if err != nil {
		slog.Error("Triggers.HandleStart: trigger load failed", "userID", userID, "error", err)
		return
	}

	now := time.Now().Unix()
	var immediate []string
	for _, tr := range triggers {
		flow := strings.TrimSpace(tr.Flow)
		if flow == "" || !tr.IsActive || tr.OffsetSeconds < 0 {
			continue
		}
		if tr.Trigger != "" && tr.Trigger != models.TriggerAfterStart {
			continue
		}
		if modes[flow] != models.ModeAuto {
			continue
		}
		if tr.OffsetSeconds == 0 {
			immediate = append(immediate, flow)
			continue
		}
		if err := t.jobs.UpsertJob(userID, models.FlowKey{Flow: flow}.Encode(), now+tr.OffsetSeconds); err != nil {
			slog.Error("Triggers.HandleStart: schedule failed", "userID", userID, "flow", flow, "error", err)
			continue
		}
		slog.Debug("Triggers.HandleStart: flow scheduled", "userID", userID, "flow", flow, "runAt", now+tr.OffsetSeconds)
	}

	for _, flow := range immediate {
		if err := t.renderer.Render(ctx, userID, flow); err != nil {
			slog.Error("Triggers.HandleStart: immediate render failed", "userID", userID, "flow", flow, "error", err)
		}
	}
}

// ScheduleBroadcast enqueues a broadcast job. Broadcast rows are keyed to
// user 0: the real audience rides in the key, not in the row.
func ScheduleBroadcast(jobs JobQueue, flow, audience string, repeatSeconds int64, runAt int64) error {
	flow = strings.TrimSpace(flow)
	if flow == "" {
		return models.ErrEmptyFlowName
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		audience = models.BroadcastAudienceAll
	}
	if repeatSeconds < 0 {
		repeatSeconds = 0
	}
	key := models.BroadcastKey{Flow: flow, Audience: audience, RepeatSeconds: repeatSeconds}
	return jobs.UpsertJob(0, key.Encode(), runAt)
}
