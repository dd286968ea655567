// Package flow implements the delivery engine: a per-user flow renderer, the
// background job runner, and start-event trigger resolution.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flowkeeper/flowkeeper/internal/messaging"
	"github.com/flowkeeper/flowkeeper/internal/models"
)

// FlowSource is the read side of the flow catalogue consumed by the engine.
type FlowSource interface {
	ListActiveBlocks(flow string) ([]models.Block, error)
	GetBlock(id int64) (*models.Block, error)
	GetFlowModes() (map[string]models.FlowMode, error)
	ListTriggers() ([]models.FlowTrigger, error)
	ListActions(afterFlow string) ([]models.FlowAction, error)
	GetAction(id int64) (*models.FlowAction, error)
}

// JobQueue is the slice of the job table the engine schedules and consumes.
type JobQueue interface {
	UpsertJob(userID int64, key string, runAt int64) error
	FetchDueJobs(now int64, limit int) ([]models.Job, error)
	MarkJobDone(id int64) error
}

// UserDirectory exposes the per-user records the engine reads and writes.
type UserDirectory interface {
	SetUserStateValue(userID int64, key, value string) error
	IsGatePressed(userID, blockID int64) (bool, error)
	ListUserIDs() ([]int64, error)
}

// User-facing copy rendered around blocks. Gate fields on a block override
// the defaults.
const (
	DefaultGateButtonText   = "✅ Continue"
	DefaultGatePromptText   = "👇 Tap the button to continue"
	DefaultGateReminderText = "Reminder: tap the button to continue 👇"
	DefaultWatchButtonText  = "▶️ Watch video"
	DefaultVideoTitle       = "🎬 <b>Video lesson</b>"
	DefaultButtonsPrompt    = "Choose:"

	invalidButtonsWarning = "⚠️ This block has invalid buttons JSON."
)

// Renderer walks a flow's active blocks for one user and performs every
// visible effect through the delivery sink. Renders are serialized per user:
// concurrent calls for the same user queue behind a per-user lock, while
// different users proceed independently.
type Renderer struct {
	flows FlowSource
	jobs  JobQueue
	users UserDirectory
	sink  messaging.Sink

	completeFlow string

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithCourseCompleteFlow names the flow whose completion unlocks the full
// lessons menu for the user.
func WithCourseCompleteFlow(flow string) RendererOption {
	return func(r *Renderer) {
		r.completeFlow = strings.TrimSpace(flow)
	}
}

// NewRenderer creates a Renderer over the given stores and delivery sink.
func NewRenderer(flows FlowSource, jobs JobQueue, users UserDirectory, sink messaging.Sink, opts ...RendererOption) *Renderer {
	r := &Renderer{
		flows: flows,
		jobs:  jobs,
		users: users,
		sink:  sink,
		locks: make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render walks flow from the beginning for one user.
func (r *Renderer) Render(ctx context.Context, userID int64, flow string) error {
	return r.RenderFrom(ctx, userID, flow, 0)
}

// RenderFrom renders the active blocks of flow whose position is at least
// startPos, in position order, until the flow completes or pauses at a gate.
// Delivery failures for one block are logged and the walk continues; only a
// failed block listing or a cancelled context abort the render.
func (r *Renderer) RenderFrom(ctx context.Context, userID int64, flow string, startPos int) error {
	flow = strings.TrimSpace(flow)
	if flow == "" {
		return models.ErrEmptyFlowName
	}

	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	blocks, err := r.flows.ListActiveBlocks(flow)
	if err != nil {
		return fmt.Errorf("failed to list blocks for flow %s: %w", flow, err)
	}
	slog.Debug("Renderer.RenderFrom: rendering", "userID", userID, "flow", flow, "startPos", startPos, "blocks", len(blocks))

	for i := range blocks {
		block := &blocks[i]
		if block.Position < startPos {
			continue
		}
		// ListActiveBlocks filters inactive rows already; keep the guard so a
		// caller-assembled slice behaves the same.
		if !block.IsActive {
			continue
		}

		paused := r.renderContent(ctx, userID, block)
		r.sendAttachment(ctx, userID, block)

		if block.HasGate() {
			return r.pauseAtGate(ctx, userID, block)
		}
		if paused {
			// Video watch prompt sent; the click handler schedules the resume.
			return nil
		}

		if d := block.Delay(); d > 0 {
			if err := sleepCtx(ctx, d); err != nil {
				return err
			}
		}
	}

	r.finishFlow(userID, flow)
	return nil
}

// renderContent dispatches the block's primary content by kind. It reports
// whether the block was a video watch prompt, which pauses the flow until the
// user clicks.
func (r *Renderer) renderContent(ctx context.Context, userID int64, block *models.Block) bool {
	buttons, err := block.Buttons()
	if err != nil {
		slog.Warn("Renderer.renderContent: invalid buttons JSON", "blockID", block.ID, "flow", block.Flow, "error", err)
	}

	switch block.Kind {
	case models.BlockKindCircle:
		path := strings.TrimSpace(block.CirclePath)
		if path == "" {
			r.sendBlockText(ctx, userID, block, buttons)
			return false
		}
		if err := r.sink.SendVoiceNote(ctx, userID, path); err != nil {
			slog.Error("Renderer.renderContent: voice note failed", "userID", userID, "blockID", block.ID, "error", err)
		}

	case models.BlockKindVideo:
		if strings.TrimSpace(block.VideoURL) == "" {
			r.sendBlockText(ctx, userID, block, buttons)
			return false
		}
		r.sendWatchPrompt(ctx, userID, block)
		return true

	case models.BlockKindButtons:
		prompt := strings.TrimSpace(block.Title)
		if prompt == "" {
			prompt = strings.TrimSpace(block.Text)
		}
		if prompt == "" {
			prompt = DefaultButtonsPrompt
		}
		if len(buttons) == 0 && strings.TrimSpace(block.ButtonsJSON) != "" {
			prompt = invalidButtonsWarning
		}
		if err := r.sink.SendText(ctx, userID, prompt, buttons); err != nil {
			slog.Error("Renderer.renderContent: choice prompt failed", "userID", userID, "blockID", block.ID, "error", err)
		}

	case models.BlockKindText:
		r.sendBlockText(ctx, userID, block, buttons)

	default:
		// Unrecognized kinds degrade to the block text when there is any.
		r.sendBlockText(ctx, userID, block, buttons)
	}
	return false
}

func (r *Renderer) sendBlockText(ctx context.Context, userID int64, block *models.Block, buttons []models.Button) {
	if strings.TrimSpace(block.Text) == "" {
		return
	}
	if err := r.sink.SendText(ctx, userID, block.Text, buttons); err != nil {
		slog.Error("Renderer.sendBlockText: send failed", "userID", userID, "blockID", block.ID, "error", err)
	}
}

// sendWatchPrompt sends the pre-reveal prompt for a video block. The link
// itself stays hidden until the user presses the watch button.
func (r *Renderer) sendWatchPrompt(ctx context.Context, userID int64, block *models.Block) {
	title := strings.TrimSpace(block.Title)
	if title == "" {
		title = DefaultVideoTitle
	}
	watch := models.Button{
		Text: DefaultWatchButtonText,
		Data: models.VideoCallback{UserID: userID, BlockID: block.ID}.Encode(),
	}
	if err := r.sink.SendText(ctx, userID, title, []models.Button{watch}); err != nil {
		slog.Error("Renderer.sendWatchPrompt: send failed", "userID", userID, "blockID", block.ID, "error", err)
	}
}

// sendAttachment sends the block's file as a second message after the primary
// content. A failed delivery degrades to a visible notice and the flow
// continues.
func (r *Renderer) sendAttachment(ctx context.Context, userID int64, block *models.Block) {
	path := strings.TrimSpace(block.FilePath)
	if path == "" {
		return
	}
	if err := r.sink.SendAttachment(ctx, userID, path, block.FileKind, block.FileName); err != nil {
		slog.Error("Renderer.sendAttachment: attachment failed", "userID", userID, "blockID", block.ID, "path", path, "error", err)
		notice := fmt.Sprintf("⚠️ Could not deliver file: <code>%s</code>", path)
		if err := r.sink.SendText(ctx, userID, notice, nil); err != nil {
			slog.Error("Renderer.sendAttachment: notice failed", "userID", userID, "blockID", block.ID, "error", err)
		}
	}
}

// pauseAtGate applies the block delay, schedules the reminder when one is
// configured, sends the confirmation prompt, and stops the walk. The flow
// continues only when the press handler renders the gate's next flow.
func (r *Renderer) pauseAtGate(ctx context.Context, userID int64, block *models.Block) error {
	if d := block.Delay(); d > 0 {
		if err := sleepCtx(ctx, d); err != nil {
			return err
		}
	}

	next := strings.TrimSpace(block.GateNextFlow)
	if block.GateReminderSeconds > 0 && block.ID > 0 {
		key := models.GateKey{BlockID: block.ID, NextFlow: next}.Encode()
		runAt := time.Now().Unix() + block.GateReminderSeconds
		if err := r.jobs.UpsertJob(userID, key, runAt); err != nil {
			slog.Error("Renderer.pauseAtGate: reminder scheduling failed", "userID", userID, "blockID", block.ID, "error", err)
		} else {
			slog.Debug("Renderer.pauseAtGate: reminder scheduled", "userID", userID, "blockID", block.ID, "runAt", runAt)
		}
	}

	prompt := strings.TrimSpace(block.GatePromptText)
	if prompt == "" {
		prompt = DefaultGatePromptText
	}
	label := strings.TrimSpace(block.GateButtonText)
	if label == "" {
		label = DefaultGateButtonText
	}
	confirm := models.Button{
		Text: label,
		Data: models.GateCallback{UserID: userID, BlockID: block.ID, NextFlow: next}.Encode(),
	}
	if err := r.sink.SendText(ctx, userID, prompt, []models.Button{confirm}); err != nil {
		slog.Error("Renderer.pauseAtGate: prompt send failed", "userID", userID, "blockID", block.ID, "error", err)
	}
	return nil
}

// finishFlow runs once a walk reaches the end of the block list: it unlocks
// the lessons menu when the course-complete flow finished and schedules the
// flow's follow-on actions.
func (r *Renderer) finishFlow(userID int64, flow string) {
	if r.completeFlow != "" && flow == r.completeFlow {
		if err := r.users.SetUserStateValue(userID, models.StateKeyLessonsUnlocked, "1"); err != nil {
			slog.Error("Renderer.finishFlow: unlock failed", "userID", userID, "flow", flow, "error", err)
		} else {
			slog.Info("Renderer.finishFlow: lessons unlocked", "userID", userID, "flow", flow)
		}
	}
	r.scheduleActions(userID, flow)
}

// scheduleActions enqueues every active follow-on action for flow. Follow-ups
// always go through the job table, never inline, so one survives a crash
// between flow completion and delivery.
func (r *Renderer) scheduleActions(userID int64, flow string) {
	actions, err := r.flows.ListActions(flow)
	if err != nil {
		slog.Error("Renderer.scheduleActions: list failed", "flow", flow, "error", err)
		return
	}

	now := time.Now().Unix()
	for _, a := range actions {
		if !a.IsActive || a.ActionType != models.ActionStartFlow {
			continue
		}
		target := strings.TrimSpace(a.TargetFlow)
		if target == "" {
			continue
		}
		delay := a.DelaySeconds
		if delay < 0 {
			delay = 0
		}
		// Rows without an id cannot be resolved at fire time, so they are
		// keyed by their target directly.
		var key models.JobKey
		if a.ID > 0 {
			key = models.ActionKey{ActionID: a.ID}
		} else {
			key = models.FlowKey{Flow: target}
		}
		if err := r.jobs.UpsertJob(userID, key.Encode(), now+delay); err != nil {
			slog.Error("Renderer.scheduleActions: upsert failed", "userID", userID, "actionID", a.ID, "error", err)
			continue
		}
		slog.Debug("Renderer.scheduleActions: follow-up scheduled", "userID", userID, "flow", flow, "target", target, "runAt", now+delay)
	}
}

// userLock returns the mutex serializing renders for one user.
func (r *Renderer) userLock(userID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[userID] = lock
	}
	return lock
}

// sleepCtx pauses between blocks without outliving a cancelled context.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
