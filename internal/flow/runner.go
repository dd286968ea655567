package flow

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flowkeeper/flowkeeper/internal/messaging"
	"github.com/flowkeeper/flowkeeper/internal/models"
)

// Runner defaults. The poll interval keeps scheduled flows feeling prompt
// without hammering the database; the mode cache TTL bounds how long a
// console-side mode flip can go unnoticed.
const (
	DefaultPollInterval  = 10 * time.Second
	DefaultClaimLimit    = 50
	DefaultMaxConcurrent = 8
	DefaultModeCacheTTL  = 20 * time.Second
)

// Runner polls the job table for due work and dispatches each job to the
// renderer or a reminder/broadcast routine. Jobs are consumed once: a job is
// marked done after dispatch even when the dispatch failed, so a poison job
// cannot wedge its slot.
type Runner struct {
	renderer *Renderer
	flows    FlowSource
	jobs     JobQueue
	users    UserDirectory
	sink     messaging.Sink

	pollInterval  time.Duration
	claimLimit    int
	maxConcurrent int64
	modeCacheTTL  time.Duration

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu       sync.Mutex
	inFlight map[int64]struct{}

	modeMu  sync.Mutex
	modes   map[string]models.FlowMode
	modesAt time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPollInterval sets how often the runner checks for due jobs.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithClaimLimit caps how many due jobs one tick picks up.
func WithClaimLimit(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.claimLimit = n
		}
	}
}

// WithMaxConcurrent bounds how many jobs run at once.
func WithMaxConcurrent(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrent = int64(n)
		}
	}
}

// WithModeCacheTTL sets how long the flow-mode map is served from cache.
func WithModeCacheTTL(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.modeCacheTTL = d
		}
	}
}

// NewRunner creates a Runner driving the given renderer's stores and sink.
func NewRunner(renderer *Renderer, opts ...RunnerOption) *Runner {
	r := &Runner{
		renderer:      renderer,
		flows:         renderer.flows,
		jobs:          renderer.jobs,
		users:         renderer.users,
		sink:          renderer.sink,
		pollInterval:  DefaultPollInterval,
		claimLimit:    DefaultClaimLimit,
		maxConcurrent: DefaultMaxConcurrent,
		modeCacheTTL:  DefaultModeCacheTTL,
		inFlight:      make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sem = semaphore.NewWeighted(r.maxConcurrent)
	return r
}

// Run starts the polling loop. It blocks until the context is cancelled,
// then waits for jobs already dispatched to finish.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("Runner.Run: starting job runner", "pollInterval", r.pollInterval, "claimLimit", r.claimLimit, "maxConcurrent", r.maxConcurrent)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Runner.Run: stopping")
			r.wg.Wait()
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Runner) poll(ctx context.Context) {
	modes := r.flowModes()

	now := time.Now().Unix()
	due, err := r.jobs.FetchDueJobs(now, r.claimLimit)
	if err != nil {
		slog.Error("Runner.poll: fetch failed", "error", err)
		return
	}

	for _, job := range due {
		// A slow job can be re-fetched before it is marked done; the
		// in-flight set keeps it from running twice.
		if !r.markInFlight(job.ID) {
			continue
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.clearInFlight(job.ID)
			return
		}
		r.wg.Add(1)
		go func(job models.Job) {
			defer r.wg.Done()
			defer r.sem.Release(1)

			requeueAt := r.execute(ctx, job, modes)
			if err := r.jobs.MarkJobDone(job.ID); err != nil {
				slog.Error("Runner.poll: mark done failed", "id", job.ID, "error", err)
			}
			if requeueAt > 0 {
				if err := r.jobs.UpsertJob(job.UserID, job.Key, requeueAt); err != nil {
					slog.Error("Runner.poll: re-enqueue failed", "id", job.ID, "key", job.Key, "error", err)
				}
			}
			r.clearInFlight(job.ID)
		}(job)
	}
}

// execute dispatches one due job by its key kind. It returns the unix time at
// which the same key should be re-enqueued, or zero; recurring broadcasts use
// this so the re-enqueue lands after the row is marked done.
func (r *Runner) execute(ctx context.Context, job models.Job, modes map[string]models.FlowMode) int64 {
	key, err := models.ParseJobKey(job.Key)
	if err != nil {
		slog.Error("Runner.execute: bad job key", "id", job.ID, "key", job.Key, "error", err)
		return 0
	}

	slog.Debug("Runner.execute: executing job", "id", job.ID, "userID", job.UserID, "key", job.Key)

	switch k := key.(type) {
	case models.FlowKey:
		// Mode is re-checked at fire time: a flow switched off or to manual
		// after scheduling must not fire.
		if modes[k.Flow] != models.ModeAuto {
			slog.Debug("Runner.execute: flow no longer auto, skipping", "id", job.ID, "flow", k.Flow)
			return 0
		}
		if err := r.renderer.Render(ctx, job.UserID, k.Flow); err != nil {
			slog.Error("Runner.execute: flow render failed", "id", job.ID, "flow", k.Flow, "error", err)
		}

	case models.GateKey:
		r.remindGate(ctx, job.UserID, k)

	case models.ActionKey:
		r.runAction(ctx, job.UserID, k)

	case models.ResumeKey:
		if err := r.renderer.RenderFrom(ctx, job.UserID, k.Flow, k.Position); err != nil {
			slog.Error("Runner.execute: resume render failed", "id", job.ID, "flow", k.Flow, "position", k.Position, "error", err)
		}

	case models.BroadcastKey:
		return r.broadcast(ctx, job, k)
	}
	return 0
}

// remindGate re-sends a gate prompt unless the user already pressed it. The
// copy is re-derived from the block so edits made after scheduling take
// effect; a deleted block still reminds with the defaults.
func (r *Runner) remindGate(ctx context.Context, userID int64, k models.GateKey) {
	if k.BlockID > 0 {
		pressed, err := r.users.IsGatePressed(userID, k.BlockID)
		if err != nil {
			slog.Error("Runner.remindGate: press lookup failed", "userID", userID, "blockID", k.BlockID, "error", err)
		} else if pressed {
			slog.Debug("Runner.remindGate: gate already pressed, skipping", "userID", userID, "blockID", k.BlockID)
			return
		}
	}

	text := DefaultGateReminderText
	label := DefaultGateButtonText
	if block, err := r.flows.GetBlock(k.BlockID); err != nil {
		slog.Error("Runner.remindGate: block lookup failed", "blockID", k.BlockID, "error", err)
	} else if block != nil {
		if s := strings.TrimSpace(block.GateReminderText); s != "" {
			text = s
		}
		if s := strings.TrimSpace(block.GateButtonText); s != "" {
			label = s
		}
	}

	confirm := models.Button{
		Text: label,
		Data: models.GateCallback{UserID: userID, BlockID: k.BlockID, NextFlow: k.NextFlow}.Encode(),
	}
	if err := r.sink.SendText(ctx, userID, text, []models.Button{confirm}); err != nil {
		slog.Error("Runner.remindGate: send failed", "userID", userID, "blockID", k.BlockID, "error", err)
	}
}

// runAction resolves a follow-on action at fire time so edits made between
// scheduling and firing take effect. Actions bypass the mode check: they are
// driven by their own is_active switch, not by the target flow's mode.
func (r *Runner) runAction(ctx context.Context, userID int64, k models.ActionKey) {
	action, err := r.flows.GetAction(k.ActionID)
	if err != nil {
		slog.Error("Runner.runAction: lookup failed", "actionID", k.ActionID, "error", err)
		return
	}
	if action == nil || !action.IsActive {
		slog.Debug("Runner.runAction: action gone or inactive, skipping", "actionID", k.ActionID)
		return
	}
	target := strings.TrimSpace(action.TargetFlow)
	if target == "" {
		return
	}
	if err := r.renderer.Render(ctx, userID, target); err != nil {
		slog.Error("Runner.runAction: render failed", "actionID", k.ActionID, "target", target, "error", err)
	}
}

// broadcast fans a flow out to its audience. Per-user sends for the "all"
// audience are spawned fire-and-forget: their failures are logged by the
// renderer and never propagate to the originating job. The return value is
// the re-enqueue time for recurring broadcasts, zero otherwise.
func (r *Runner) broadcast(ctx context.Context, job models.Job, k models.BroadcastKey) int64 {
	switch {
	case k.Audience == models.BroadcastAudienceAll:
		ids, err := r.users.ListUserIDs()
		if err != nil {
			slog.Error("Runner.broadcast: audience listing failed", "flow", k.Flow, "error", err)
			break
		}
		slog.Info("Runner.broadcast: fanning out", "flow", k.Flow, "users", len(ids))
		for _, id := range ids {
			go func(id int64) {
				if err := r.renderer.Render(ctx, id, k.Flow); err != nil {
					slog.Error("Runner.broadcast: render failed", "userID", id, "flow", k.Flow, "error", err)
				}
			}(id)
		}

	default:
		id, err := strconv.ParseInt(k.Audience, 10, 64)
		if err != nil || id <= 0 {
			slog.Warn("Runner.broadcast: unrecognized audience", "audience", k.Audience, "flow", k.Flow)
			break
		}
		if err := r.renderer.Render(ctx, id, k.Flow); err != nil {
			slog.Error("Runner.broadcast: render failed", "userID", id, "flow", k.Flow, "error", err)
		}
	}

	if k.RepeatSeconds > 0 {
		return time.Now().Unix() + k.RepeatSeconds
	}
	return 0
}

// flowModes returns the mode map, refreshing the cache when stale. A failed
// refresh keeps serving the previous map.
func (r *Runner) flowModes() map[string]models.FlowMode {
	r.modeMu.Lock()
	defer r.modeMu.Unlock()

	if r.modes != nil && time.Since(r.modesAt) < r.modeCacheTTL {
		return r.modes
	}
	modes, err := r.flows.GetFlowModes()
	if err != nil {
		slog.Error("Runner.flowModes: refresh failed", "error", err)
		if r.modes == nil {
			return map[string]models.FlowMode{}
		}
		return r.modes
	}
	r.modes = modes
	r.modesAt = time.Now()
	return modes
}

func (r *Runner) markInFlight(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inFlight[id]; ok {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *Runner) clearInFlight(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}
