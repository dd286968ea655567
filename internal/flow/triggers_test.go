package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

func TestTriggersScheduleAndRenderImmediate(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "welcome", Position: 1, Kind: models.BlockKindText, Text: "welcome!", IsActive: true})
	store.addBlock(models.Block{ID: 2, Flow: "day2", Position: 1, Kind: models.BlockKindText, Text: "tomorrow", IsActive: true})
	store.modes = map[string]models.FlowMode{
		"welcome": models.ModeAuto,
		"day2":    models.ModeAuto,
		"day3":    models.ModeManual,
		"day4":    models.ModeAuto,
		"day5":    models.ModeAuto,
	}
	store.triggers = []models.FlowTrigger{
		{Flow: "welcome", Trigger: models.TriggerAfterStart, OffsetSeconds: 0, IsActive: true},
		{Flow: "day2", Trigger: models.TriggerAfterStart, OffsetSeconds: 86400, IsActive: true},
		{Flow: "day3", Trigger: models.TriggerAfterStart, OffsetSeconds: 3600, IsActive: true},
		{Flow: "day4", Trigger: models.TriggerAfterStart, OffsetSeconds: -5, IsActive: true},
		{Flow: "day5", Trigger: models.TriggerAfterStart, OffsetSeconds: 60, IsActive: false},
	}

	sink := &recorderSink{}
	tr := NewTriggers(newTestRenderer(store, sink))

	before := time.Now().Unix()
	tr.HandleStart(context.Background(), 100)

	// Zero-offset flow lands inside start handling.
	calls := sink.snapshot()
	if len(calls) != 1 || calls[0].text != "welcome!" {
		t.Fatalf("expected the welcome flow inline, got %+v", calls)
	}

	// And it is not double-scheduled as a job.
	if _, ok := store.findJob(100, "flow:welcome"); ok {
		t.Error("zero-offset flow must not also be enqueued")
	}

	job, ok := store.findJob(100, "flow:day2")
	if !ok {
		t.Fatalf("expected flow:day2 to be scheduled, have %+v", store.pendingJobs())
	}
	if job.RunAt < before+86400 || job.RunAt > before+86410 {
		t.Errorf("day2 run_at = %d, want around %d", job.RunAt, before+86400)
	}

	for _, flow := range []string{"day3", "day4", "day5"} {
		if _, ok := store.findJob(100, "flow:"+flow); ok {
			t.Errorf("%s should not be scheduled", flow)
		}
	}
}

func TestTriggersZeroOffsetRenderInTriggerOrder(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "welcome", Position: 1, Kind: models.BlockKindText, Text: "first", IsActive: true})
	store.addBlock(models.Block{ID: 2, Flow: "intro", Position: 1, Kind: models.BlockKindText, Text: "second", IsActive: true})
	store.modes = map[string]models.FlowMode{"welcome": models.ModeAuto, "intro": models.ModeAuto}
	store.triggers = []models.FlowTrigger{
		{Flow: "welcome", OffsetSeconds: 0, IsActive: true},
		{Flow: "intro", OffsetSeconds: 0, IsActive: true},
	}

	sink := &recorderSink{}
	tr := NewTriggers(newTestRenderer(store, sink))
	tr.HandleStart(context.Background(), 1)

	calls := sink.snapshot()
	if len(calls) != 2 || calls[0].text != "first" || calls[1].text != "second" {
		t.Fatalf("immediate flows out of trigger order: %+v", calls)
	}
}

func TestTriggersIgnoreUnknownTriggerKind(t *testing.T) {
	store := newFakeStore()
	store.modes = map[string]models.FlowMode{"day1": models.ModeAuto}
	store.triggers = []models.FlowTrigger{
		{Flow: "day1", Trigger: "on_purchase", OffsetSeconds: 60, IsActive: true},
	}

	sink := &recorderSink{}
	tr := NewTriggers(newTestRenderer(store, sink))
	tr.HandleStart(context.Background(), 1)

	if jobs := store.pendingJobs(); len(jobs) != 0 {
		t.Fatalf("unknown trigger kinds must be ignored, got %+v", jobs)
	}
}

func TestScheduleBroadcast(t *testing.T) {
	store := newFakeStore()
	runAt := time.Now().Unix() + 60

	if err := ScheduleBroadcast(store, "promo", "", 0, runAt); err != nil {
		t.Fatalf("ScheduleBroadcast failed: %v", err)
	}
	job, ok := store.findJob(0, "broadcast:promo:all:0")
	if !ok || job.RunAt != runAt {
		t.Fatalf("unexpected broadcast job: %+v (found=%v)", job, ok)
	}

	if err := ScheduleBroadcast(store, "promo", "42", -10, runAt); err != nil {
		t.Fatalf("ScheduleBroadcast failed: %v", err)
	}
	if _, ok := store.findJob(0, "broadcast:promo:42:0"); !ok {
		t.Error("negative repeat should clamp to zero")
	}

	if err := ScheduleBroadcast(store, "  ", "all", 0, runAt); !errors.Is(err, models.ErrEmptyFlowName) {
		t.Errorf("expected ErrEmptyFlowName, got %v", err)
	}
}
