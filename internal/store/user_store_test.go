package store

import (
	"testing"
	"time"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

func TestSQLiteStore_UserRepo_Counters(t *testing.T) {
	s := newTestSQLiteStore(t)

	if err := s.IncStart(42, "alice"); err != nil {
		t.Fatalf("IncStart failed: %v", err)
	}
	if err := s.IncStart(42, "alice_renamed"); err != nil {
		t.Fatalf("IncStart second failed: %v", err)
	}
	if err := s.IncMessage(42, "alice_renamed"); err != nil {
		t.Fatalf("IncMessage failed: %v", err)
	}

	users, err := s.ListUsers(10)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("Expected 1 user, got %d", len(users))
	}
	u := users[0]
	if u.UserID != 42 {
		t.Errorf("UserID = %d, want 42", u.UserID)
	}
	if u.Username != "alice_renamed" {
		t.Errorf("Username = %q, want updated name", u.Username)
	}
	if u.Starts != 2 {
		t.Errorf("Starts = %d, want 2", u.Starts)
	}
	if u.Messages != 1 {
		t.Errorf("Messages = %d, want 1", u.Messages)
	}
	if u.FirstSeen == 0 || u.LastSeen < u.FirstSeen {
		t.Errorf("Unexpected seen timestamps: first=%d last=%d", u.FirstSeen, u.LastSeen)
	}
}

func TestSQLiteStore_UserRepo_Stats(t *testing.T) {
	s := newTestSQLiteStore(t)

	if err := s.IncStart(1, "a"); err != nil {
		t.Fatalf("IncStart failed: %v", err)
	}
	if err := s.IncMessage(1, "a"); err != nil {
		t.Fatalf("IncMessage failed: %v", err)
	}
	if err := s.IncStart(2, "b"); err != nil {
		t.Fatalf("IncStart failed: %v", err)
	}
	// A user last seen two hours ago does not count as active.
	stale := time.Now().Unix() - 7200
	if _, err := s.db.Exec(
		`INSERT INTO bot_users (user_id, username, first_seen, last_seen, starts, messages) VALUES (3, 'c', ?, ?, 1, 0)`,
		stale, stale,
	); err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.TotalUsers != 3 {
		t.Errorf("TotalUsers = %d, want 3", st.TotalUsers)
	}
	if st.ActiveLastHour != 2 {
		t.Errorf("ActiveLastHour = %d, want 2", st.ActiveLastHour)
	}
	if st.TotalStarts != 3 {
		t.Errorf("TotalStarts = %d, want 3", st.TotalStarts)
	}
	if st.TotalMessages != 1 {
		t.Errorf("TotalMessages = %d, want 1", st.TotalMessages)
	}
}

func TestSQLiteStore_UserRepo_StatsEmpty(t *testing.T) {
	s := newTestSQLiteStore(t)

	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats on empty table failed: %v", err)
	}
	if st != (models.UserStats{}) {
		t.Errorf("Expected zero stats, got %+v", st)
	}
}

func TestSQLiteStore_UserRepo_ListOrderAndIDs(t *testing.T) {
	s := newTestSQLiteStore(t)

	old := time.Now().Unix() - 1000
	if _, err := s.db.Exec(
		`INSERT INTO bot_users (user_id, username, first_seen, last_seen, starts, messages) VALUES (7, 'old', ?, ?, 1, 0)`,
		old, old,
	); err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}
	if err := s.IncStart(3, "recent"); err != nil {
		t.Fatalf("IncStart failed: %v", err)
	}

	users, err := s.ListUsers(10)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 2 || users[0].Username != "recent" {
		t.Errorf("Expected most recently seen first, got %v", users)
	}

	ids, err := s.ListUserIDs()
	if err != nil {
		t.Fatalf("ListUserIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 7 {
		t.Errorf("Expected ids [3 7], got %v", ids)
	}
}

func TestSQLiteStore_UserRepo_State(t *testing.T) {
	s := newTestSQLiteStore(t)

	state, err := s.GetUserState(42)
	if err != nil {
		t.Fatalf("GetUserState failed: %v", err)
	}
	if len(state) != 0 {
		t.Errorf("Expected empty state for unknown user, got %v", state)
	}

	if err := s.SetUserStateValue(42, models.StateKeyLessonsUnlocked, "1"); err != nil {
		t.Fatalf("SetUserStateValue failed: %v", err)
	}
	if err := s.SetUserStateValue(42, "theme", "dark"); err != nil {
		t.Fatalf("SetUserStateValue second key failed: %v", err)
	}

	state, err = s.GetUserState(42)
	if err != nil {
		t.Fatalf("GetUserState failed: %v", err)
	}
	if state[models.StateKeyLessonsUnlocked] != "1" {
		t.Errorf("lessons_unlocked = %q, want 1", state[models.StateKeyLessonsUnlocked])
	}
	if state["theme"] != "dark" {
		t.Errorf("Setting a second key clobbered the first: %v", state)
	}

	// Overwriting a key keeps the rest of the map.
	if err := s.SetUserStateValue(42, "theme", "light"); err != nil {
		t.Fatalf("SetUserStateValue overwrite failed: %v", err)
	}
	state, _ = s.GetUserState(42)
	if state["theme"] != "light" || state[models.StateKeyLessonsUnlocked] != "1" {
		t.Errorf("Unexpected state after overwrite: %v", state)
	}
}

func TestSQLiteStore_UserRepo_GatePress(t *testing.T) {
	s := newTestSQLiteStore(t)

	pressed, err := s.IsGatePressed(42, 7)
	if err != nil {
		t.Fatalf("IsGatePressed failed: %v", err)
	}
	if pressed {
		t.Error("Expected no press recorded yet")
	}

	if err := s.MarkGatePressed(42, 7); err != nil {
		t.Fatalf("MarkGatePressed failed: %v", err)
	}
	// Re-pressing is a no-op.
	if err := s.MarkGatePressed(42, 7); err != nil {
		t.Fatalf("MarkGatePressed second failed: %v", err)
	}

	pressed, err = s.IsGatePressed(42, 7)
	if err != nil {
		t.Fatalf("IsGatePressed failed: %v", err)
	}
	if !pressed {
		t.Error("Expected press recorded")
	}

	// Other block and other user stay unpressed.
	if pressed, _ := s.IsGatePressed(42, 8); pressed {
		t.Error("Expected block 8 unpressed")
	}
	if pressed, _ := s.IsGatePressed(43, 7); pressed {
		t.Error("Expected user 43 unpressed")
	}
}
