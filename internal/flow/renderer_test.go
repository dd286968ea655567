package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowkeeper/flowkeeper/internal/messaging"
	"github.com/flowkeeper/flowkeeper/internal/models"
)

// fakeStore is an in-memory FlowSource, JobQueue, and UserDirectory shared by
// the engine tests.
type fakeStore struct {
	mu       sync.Mutex
	blocks   map[string][]models.Block
	modes    map[string]models.FlowMode
	triggers []models.FlowTrigger
	actions  []models.FlowAction
	jobs     []models.Job
	nextJob  int64
	state    map[int64]map[string]string
	pressed  map[string]bool
	userIDs  []int64

	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blocks:  make(map[string][]models.Block),
		modes:   make(map[string]models.FlowMode),
		state:   make(map[int64]map[string]string),
		pressed: make(map[string]bool),
	}
}

func (s *fakeStore) addBlock(b models.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Flow] = append(s.blocks[b.Flow], b)
}

func (s *fakeStore) ListActiveBlocks(flow string) ([]models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Block
	for _, b := range s.blocks[flow] {
		if b.IsActive {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *fakeStore) GetBlock(id int64) (*models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.blocks {
		for _, b := range list {
			if b.ID == id {
				found := b
				return &found, nil
			}
		}
	}
	return nil, nil
}

func (s *fakeStore) GetFlowModes() (map[string]models.FlowMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.FlowMode, len(s.modes))
	for k, v := range s.modes {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) ListTriggers() ([]models.FlowTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FlowTrigger(nil), s.triggers...), nil
}

func (s *fakeStore) ListActions(afterFlow string) ([]models.FlowAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FlowAction
	for _, a := range s.actions {
		if afterFlow == "" || a.AfterFlow == afterFlow {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) GetAction(id int64) (*models.FlowAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.ID == id {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpsertJob(userID int64, key string, runAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].UserID == userID && s.jobs[i].Key == key {
			s.jobs[i].RunAt = runAt
			s.jobs[i].Done = false
			return nil
		}
	}
	s.nextJob++
	s.jobs = append(s.jobs, models.Job{ID: s.nextJob, UserID: userID, Key: key, RunAt: runAt})
	return nil
}

func (s *fakeStore) FetchDueJobs(now int64, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Job
	for _, j := range s.jobs {
		if !j.Done && j.RunAt <= now {
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].RunAt < due[j].RunAt })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *fakeStore) MarkJobDone(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i].Done = true
		}
	}
	return nil
}

func (s *fakeStore) SetUserStateValue(userID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state[userID]
	if !ok {
		m = make(map[string]string)
		s.state[userID] = m
	}
	m[key] = value
	return nil
}

func (s *fakeStore) IsGatePressed(userID, blockID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressed[fmt.Sprintf("%d:%d", userID, blockID)], nil
}

func (s *fakeStore) press(userID, blockID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pressed[fmt.Sprintf("%d:%d", userID, blockID)] = true
}

func (s *fakeStore) ListUserIDs() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.userIDs...), nil
}

func (s *fakeStore) stateValue(userID int64, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[userID][key]
}

func (s *fakeStore) pendingJobs() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if !j.Done {
			out = append(out, j)
		}
	}
	return out
}

func (s *fakeStore) findJob(userID int64, key string) (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.UserID == userID && j.Key == key {
			return j, true
		}
	}
	return models.Job{}, false
}

// sinkCall records one delivery performed through the recorder sink.
type sinkCall struct {
	op      string
	userID  int64
	text    string
	buttons []models.Button
	path    string
}

// recorderSink captures sink calls in order. An optional per-send delay keeps
// a render in flight long enough for concurrency tests.
type recorderSink struct {
	mu       sync.Mutex
	calls    []sinkCall
	delay    time.Duration
	failText int
	failFile bool
}

var _ messaging.Sink = (*recorderSink)(nil)

func (s *recorderSink) SendText(ctx context.Context, userID int64, text string, buttons []models.Button) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failText > 0 {
		s.failText--
		return errors.New("send failed")
	}
	s.calls = append(s.calls, sinkCall{op: "text", userID: userID, text: text, buttons: buttons})
	return nil
}

func (s *recorderSink) SendVoiceNote(ctx context.Context, userID int64, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{op: "voice", userID: userID, path: source})
	return nil
}

func (s *recorderSink) SendVideoLink(ctx context.Context, userID int64, title, url string, extra []models.Button) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{op: "video", userID: userID, text: title, path: url, buttons: extra})
	return nil
}

func (s *recorderSink) SendAttachment(ctx context.Context, userID int64, path, kind, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFile {
		return errors.New("attachment failed")
	}
	s.calls = append(s.calls, sinkCall{op: "attachment", userID: userID, path: path})
	return nil
}

func (s *recorderSink) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

func (s *recorderSink) callsFor(userID int64) []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkCall
	for _, c := range s.calls {
		if c.userID == userID {
			out = append(out, c)
		}
	}
	return out
}

func newTestRenderer(store *fakeStore, sink *recorderSink, opts ...RendererOption) *Renderer {
	return NewRenderer(store, store, store, sink, opts...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRendererTextThenGate(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "welcome", Position: 1, Kind: models.BlockKindText, Text: "Hello!", IsActive: true})
	store.addBlock(models.Block{
		ID: 7, Flow: "welcome", Position: 2, Kind: models.BlockKindText, IsActive: true,
		GateNextFlow: "day1", GateReminderSeconds: 3600,
	})
	store.addBlock(models.Block{ID: 20, Flow: "day1", Position: 1, Kind: models.BlockKindText, Text: "Day one", IsActive: true})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)

	before := time.Now().Unix()
	if err := r.Render(context.Background(), 100, "welcome"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 sink calls, got %d: %+v", len(calls), calls)
	}
	if calls[0].text != "Hello!" || len(calls[0].buttons) != 0 {
		t.Errorf("unexpected first call: %+v", calls[0])
	}
	if calls[1].text != DefaultGatePromptText {
		t.Errorf("expected default gate prompt, got %q", calls[1].text)
	}
	if len(calls[1].buttons) != 1 {
		t.Fatalf("expected one gate button, got %d", len(calls[1].buttons))
	}
	wantData := models.GateCallback{UserID: 100, BlockID: 7, NextFlow: "day1"}.Encode()
	if calls[1].buttons[0].Data != wantData {
		t.Errorf("gate button payload = %q, want %q", calls[1].buttons[0].Data, wantData)
	}
	if calls[1].buttons[0].Text != DefaultGateButtonText {
		t.Errorf("gate button label = %q, want %q", calls[1].buttons[0].Text, DefaultGateButtonText)
	}

	job, ok := store.findJob(100, "gate:7:day1")
	if !ok {
		t.Fatal("expected a gate reminder job")
	}
	if job.Done {
		t.Error("reminder job should be pending")
	}
	if job.RunAt < before+3600 || job.RunAt > before+3610 {
		t.Errorf("reminder run_at = %d, want around %d", job.RunAt, before+3600)
	}
}

func TestRendererGateWithoutReminderSchedulesNothing(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{
		ID: 3, Flow: "welcome", Position: 1, Kind: models.BlockKindText, IsActive: true,
		GateNextFlow: "day1", GateButtonText: "Go on", GatePromptText: "Press it",
	})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 5, "welcome"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 sink call, got %d", len(calls))
	}
	if calls[0].text != "Press it" || calls[0].buttons[0].Text != "Go on" {
		t.Errorf("gate copy not taken from the block: %+v", calls[0])
	}
	if jobs := store.pendingJobs(); len(jobs) != 0 {
		t.Errorf("expected no jobs for reminder-less gate, got %+v", jobs)
	}
}

func TestRendererSkipsInactiveBlocks(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 2, Flow: "f", Position: 2, Kind: models.BlockKindText, Text: "second", IsActive: true})
	store.addBlock(models.Block{ID: 1, Flow: "f", Position: 1, Kind: models.BlockKindText, Text: "first", IsActive: true})
	store.addBlock(models.Block{ID: 3, Flow: "f", Position: 3, Kind: models.BlockKindText, Text: "hidden", IsActive: false})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 1, "f"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].text != "first" || calls[1].text != "second" {
		t.Errorf("blocks out of position order: %+v", calls)
	}
}

func TestRendererKindFallbacks(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "f", Position: 1, Kind: models.BlockKindCircle, Text: "no circle here", IsActive: true})
	store.addBlock(models.Block{ID: 2, Flow: "f", Position: 2, Kind: models.BlockKindVideo, Text: "no url here", IsActive: true})
	store.addBlock(models.Block{ID: 3, Flow: "f", Position: 3, Kind: "mystery", Text: "odd kind", IsActive: true})
	store.addBlock(models.Block{ID: 4, Flow: "f", Position: 4, Kind: "mystery", IsActive: true})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 1, "f"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d: %+v", len(calls), calls)
	}
	want := []string{"no circle here", "no url here", "odd kind"}
	for i, w := range want {
		if calls[i].op != "text" || calls[i].text != w {
			t.Errorf("call %d = %+v, want text %q", i, calls[i], w)
		}
	}
}

func TestRendererVoiceNote(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "f", Position: 1, Kind: models.BlockKindCircle, CirclePath: "media/intro.mp4", IsActive: true})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 1, "f"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 1 || calls[0].op != "voice" || calls[0].path != "media/intro.mp4" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestRendererVideoGatePausesWalk(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 9, Flow: "course", Position: 1, Kind: models.BlockKindVideo, VideoURL: "https://example.com/v1", IsActive: true})
	store.addBlock(models.Block{ID: 10, Flow: "course", Position: 2, Kind: models.BlockKindText, Text: "after the video", IsActive: true})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 42, "course"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected the walk to stop at the watch prompt, got %d calls: %+v", len(calls), calls)
	}
	if calls[0].text != DefaultVideoTitle {
		t.Errorf("watch prompt title = %q", calls[0].text)
	}
	if len(calls[0].buttons) != 1 || calls[0].buttons[0].Data != (models.VideoCallback{UserID: 42, BlockID: 9}).Encode() {
		t.Errorf("watch button payload wrong: %+v", calls[0].buttons)
	}
	// The resume job is scheduled by the click handler, not the walk.
	if jobs := store.pendingJobs(); len(jobs) != 0 {
		t.Errorf("expected no jobs yet, got %+v", jobs)
	}
}

func TestRendererButtonsBlock(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{
		ID: 1, Flow: "pick", Position: 1, Kind: models.BlockKindButtons, Title: "Pick one", IsActive: true,
		ButtonsJSON: `[{"text":"Site","url":"https://example.com"},{"text":"Docs","url":"https://example.com/docs"}]`,
	})
	store.addBlock(models.Block{ID: 2, Flow: "broken", Position: 1, Kind: models.BlockKindButtons, Title: "Pick", ButtonsJSON: `{nope`, IsActive: true})
	store.addBlock(models.Block{ID: 3, Flow: "bare", Position: 1, Kind: models.BlockKindButtons, IsActive: true})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	ctx := context.Background()
	for _, flow := range []string{"pick", "broken", "bare"} {
		if err := r.Render(ctx, 1, flow); err != nil {
			t.Fatalf("Render(%s) failed: %v", flow, err)
		}
	}

	calls := sink.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	if calls[0].text != "Pick one" || len(calls[0].buttons) != 2 {
		t.Errorf("choice prompt wrong: %+v", calls[0])
	}
	if calls[1].text != invalidButtonsWarning {
		t.Errorf("expected invalid-buttons warning, got %q", calls[1].text)
	}
	if calls[2].text != DefaultButtonsPrompt || len(calls[2].buttons) != 0 {
		t.Errorf("bare choice block wrong: %+v", calls[2])
	}
}

func TestRendererTextBlockCarriesButtons(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{
		ID: 1, Flow: "f", Position: 1, Kind: models.BlockKindText, Text: "Read this", IsActive: true,
		ButtonsJSON: `[{"text":"Open","url":"https://example.com"}]`,
	})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 1, "f"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 1 || len(calls[0].buttons) != 1 || calls[0].buttons[0].URL != "https://example.com" {
		t.Fatalf("text block should carry its buttons: %+v", calls)
	}
}

func TestRendererAttachmentFollowsContent(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{
		ID: 1, Flow: "f", Position: 1, Kind: models.BlockKindText, Text: "Here is the workbook", IsActive: true,
		FilePath: "media/workbook.pdf", FileKind: "document", FileName: "workbook.pdf",
	})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 1, "f"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected content plus attachment, got %d calls", len(calls))
	}
	if calls[0].op != "text" || calls[1].op != "attachment" || calls[1].path != "media/workbook.pdf" {
		t.Errorf("unexpected call order: %+v", calls)
	}
}

func TestRendererAttachmentFailureDegradesToNotice(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{
		ID: 1, Flow: "f", Position: 1, Kind: models.BlockKindText, Text: "intro", IsActive: true,
		FilePath: "media/missing.pdf",
	})
	store.addBlock(models.Block{ID: 2, Flow: "f", Position: 2, Kind: models.BlockKindText, Text: "outro", IsActive: true})

	sink := &recorderSink{failFile: true}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 1, "f"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected intro, notice, outro; got %+v", calls)
	}
	if !strings.Contains(calls[1].text, "media/missing.pdf") {
		t.Errorf("notice should name the file: %q", calls[1].text)
	}
	if calls[2].text != "outro" {
		t.Errorf("flow should continue past a failed attachment, got %+v", calls[2])
	}
}

func TestRendererDeliveryFailureContinues(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "f", Position: 1, Kind: models.BlockKindText, Text: "first", IsActive: true})
	store.addBlock(models.Block{ID: 2, Flow: "f", Position: 2, Kind: models.BlockKindText, Text: "second", IsActive: true})

	sink := &recorderSink{failText: 1}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 1, "f"); err != nil {
		t.Fatalf("Render should swallow per-block delivery errors, got %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 1 || calls[0].text != "second" {
		t.Fatalf("expected only the second block to land, got %+v", calls)
	}
}

func TestRendererCourseCompleteUnlocksLessons(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "day3", Position: 1, Kind: models.BlockKindText, Text: "done!", IsActive: true})
	store.addBlock(models.Block{ID: 2, Flow: "day1", Position: 1, Kind: models.BlockKindText, Text: "start", IsActive: true})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink, WithCourseCompleteFlow("day3"))

	if err := r.Render(context.Background(), 8, "day1"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := store.stateValue(8, models.StateKeyLessonsUnlocked); got != "" {
		t.Errorf("day1 must not unlock lessons, state = %q", got)
	}

	if err := r.Render(context.Background(), 8, "day3"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := store.stateValue(8, models.StateKeyLessonsUnlocked); got != "1" {
		t.Errorf("lessons_unlocked = %q, want \"1\"", got)
	}
}

func TestRendererActionsGoThroughJobs(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "day1", Position: 1, Kind: models.BlockKindText, Text: "lesson", IsActive: true})
	store.addBlock(models.Block{ID: 2, Flow: "day2", Position: 1, Kind: models.BlockKindText, Text: "next lesson", IsActive: true})
	store.actions = []models.FlowAction{
		{ID: 5, AfterFlow: "day1", ActionType: models.ActionStartFlow, TargetFlow: "day2", DelaySeconds: 0, IsActive: true},
		{ID: 6, AfterFlow: "day1", ActionType: models.ActionStartFlow, TargetFlow: "day3", DelaySeconds: 60, IsActive: false},
	}

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)

	before := time.Now().Unix()
	if err := r.Render(context.Background(), 9, "day1"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// The follow-on flow must not render inline, even with zero delay.
	for _, c := range sink.snapshot() {
		if c.text == "next lesson" {
			t.Fatal("follow-on flow rendered inline instead of via a job")
		}
	}

	jobs := store.pendingJobs()
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one follow-up job, got %+v", jobs)
	}
	if jobs[0].Key != "action:5" {
		t.Errorf("job key = %q, want action:5", jobs[0].Key)
	}
	if jobs[0].RunAt < before || jobs[0].RunAt > before+5 {
		t.Errorf("zero-delay follow-up should be due immediately, run_at = %d", jobs[0].RunAt)
	}
}

func TestRendererActionWithoutIDFallsBackToFlowKey(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "day1", Position: 1, Kind: models.BlockKindText, Text: "lesson", IsActive: true})
	store.actions = []models.FlowAction{
		{AfterFlow: "day1", ActionType: models.ActionStartFlow, TargetFlow: "day2", DelaySeconds: -30, IsActive: true},
	}

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	if err := r.Render(context.Background(), 9, "day1"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	job, ok := store.findJob(9, "flow:day2")
	if !ok {
		t.Fatalf("expected a flow-keyed job, have %+v", store.pendingJobs())
	}
	if job.RunAt > time.Now().Unix()+5 {
		t.Errorf("negative delay should clamp to now, run_at = %d", job.RunAt)
	}
}

func TestRendererResumeFromPosition(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{ID: 1, Flow: "course", Position: 1, Kind: models.BlockKindText, Text: "one", IsActive: true})
	store.addBlock(models.Block{ID: 2, Flow: "course", Position: 2, Kind: models.BlockKindText, Text: "two", IsActive: true})
	store.addBlock(models.Block{ID: 3, Flow: "course", Position: 3, Kind: models.BlockKindText, Text: "three", IsActive: true})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)
	if err := r.RenderFrom(context.Background(), 1, "course", 2); err != nil {
		t.Fatalf("RenderFrom failed: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 2 || calls[0].text != "two" || calls[1].text != "three" {
		t.Fatalf("unexpected resume calls: %+v", calls)
	}
}

func TestRendererEmptyFlowName(t *testing.T) {
	r := newTestRenderer(newFakeStore(), &recorderSink{})
	if err := r.Render(context.Background(), 1, "  "); !errors.Is(err, models.ErrEmptyFlowName) {
		t.Fatalf("expected ErrEmptyFlowName, got %v", err)
	}
}

func TestRendererCancelledDuringGateDelay(t *testing.T) {
	store := newFakeStore()
	store.addBlock(models.Block{
		ID: 1, Flow: "slow", Position: 1, Kind: models.BlockKindText, IsActive: true,
		DelaySeconds: 5, GateNextFlow: "day1", GateReminderSeconds: 600,
	})

	sink := &recorderSink{}
	r := newTestRenderer(store, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Render(ctx, 1, "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if calls := sink.snapshot(); len(calls) != 0 {
		t.Errorf("no prompt should go out after cancellation, got %+v", calls)
	}
	if jobs := store.pendingJobs(); len(jobs) != 0 {
		t.Errorf("no reminder should be scheduled after cancellation, got %+v", jobs)
	}
}

func TestRendererSerializesPerUser(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 3; i++ {
		store.addBlock(models.Block{ID: int64(i), Flow: "a", Position: i, Kind: models.BlockKindText, Text: fmt.Sprintf("a%d", i), IsActive: true})
		store.addBlock(models.Block{ID: int64(10 + i), Flow: "b", Position: i, Kind: models.BlockKindText, Text: fmt.Sprintf("b%d", i), IsActive: true})
	}

	sink := &recorderSink{delay: 5 * time.Millisecond}
	r := newTestRenderer(store, sink)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = r.Render(context.Background(), 77, "a")
	}()
	go func() {
		defer wg.Done()
		_ = r.Render(context.Background(), 77, "b")
	}()
	wg.Wait()

	calls := sink.snapshot()
	if len(calls) != 6 {
		t.Fatalf("expected 6 calls, got %d", len(calls))
	}
	// One flow's messages must fully precede the other's.
	first := calls[0].text[:1]
	for i := 0; i < 3; i++ {
		if calls[i].text[:1] != first {
			t.Fatalf("renders for one user interleaved: %+v", calls)
		}
	}
	for i := 3; i < 6; i++ {
		if calls[i].text[:1] == first {
			t.Fatalf("renders for one user interleaved: %+v", calls)
		}
	}
}
