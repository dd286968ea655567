// Package models defines the core data structures for Flowkeeper.
//
// It includes flows, content blocks, scheduled jobs, triggers, and the
// analytics types shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// BlockKind defines how a content block is rendered.
type BlockKind string

const (
	// BlockKindText sends the block body as a plain text message.
	BlockKindText BlockKind = "text"
	// BlockKindVideo sends a watch prompt that reveals a video link on click.
	BlockKindVideo BlockKind = "video"
	// BlockKindCircle sends a round voice-note style video message.
	BlockKindCircle BlockKind = "circle"
	// BlockKindButtons sends a choice prompt built from the block's button list.
	BlockKindButtons BlockKind = "buttons"
)

// FlowMode controls whether a flow is auto-triggered on start events.
type FlowMode string

const (
	// ModeOff disables a flow entirely for automatic scheduling.
	ModeOff FlowMode = "off"
	// ModeManual makes a flow reachable only through explicit user actions.
	ModeManual FlowMode = "manual"
	// ModeAuto enables offset-based scheduling from start triggers.
	ModeAuto FlowMode = "auto"
)

// Validation constants for input validation
const (
	// MaxBlockTextLength defines the maximum allowed length for block body text
	MaxBlockTextLength = 4096
	// MaxFlowNameLength defines the maximum allowed length for flow names
	MaxFlowNameLength = 64
	// TriggerAfterStart is the only trigger event currently supported
	TriggerAfterStart = "after_start"
	// ActionStartFlow is the only post-flow action type currently supported
	ActionStartFlow = "start_flow"
	// BroadcastAudienceAll addresses a broadcast to every known user
	BroadcastAudienceAll = "all"
)

// Error variables for better error handling and testability
var (
	ErrEmptyFlowName    = errors.New("flow name cannot be empty")
	ErrFlowNameTooLong  = errors.New("flow name exceeds maximum length")
	ErrFlowNameInvalid  = errors.New("flow name must not contain ':' or '/'")
	ErrBlockTextTooLong = errors.New("block text exceeds maximum length")
	ErrInvalidPosition  = errors.New("block position cannot be negative")
	ErrInvalidJobKey    = errors.New("malformed job key")
	ErrInvalidCallback  = errors.New("malformed callback payload")
	ErrWrongRecipient   = errors.New("callback recipient does not match the acting user")
)

// IsKnownBlockKind reports whether the given kind has a dedicated renderer.
// Unknown kinds are still accepted and fall back to plain text.
func IsKnownBlockKind(k BlockKind) bool {
	switch k {
	case BlockKindText, BlockKindVideo, BlockKindCircle, BlockKindButtons:
		return true
	default:
		return false
	}
}

// ParseFlowMode normalizes a stored mode string. Anything unrecognized is off.
func ParseFlowMode(s string) FlowMode {
	switch FlowMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeManual:
		return ModeManual
	case ModeAuto:
		return ModeAuto
	default:
		return ModeOff
	}
}

// ValidateFlowName checks a flow name for use in job keys and routes.
// The name is embedded in colon-delimited job keys, so ':' is forbidden.
func ValidateFlowName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyFlowName
	}
	if len(name) > MaxFlowNameLength {
		return ErrFlowNameTooLong
	}
	if strings.ContainsAny(name, ":/") {
		return ErrFlowNameInvalid
	}
	return nil
}

// Flow is a named, ordered script of content blocks.
type Flow struct {
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

// Button is one inline control attached to a message. Exactly one of URL or
// Data is set: URL buttons open a link, Data buttons emit a callback payload.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
	Data string `json:"-"`
}

// ParseButtons decodes a JSON-encoded button list persisted on a block.
// Empty input yields no buttons and no error; entries missing text or url
// are dropped.
func ParseButtons(raw string) ([]Button, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var decoded []Button
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	var buttons []Button
	for _, b := range decoded {
		b.Text = strings.TrimSpace(b.Text)
		b.URL = strings.TrimSpace(b.URL)
		if b.Text == "" || b.URL == "" {
			continue
		}
		buttons = append(buttons, b)
	}
	return buttons, nil
}

// Block is one step of a flow.
type Block struct {
	ID       int64     `json:"id"`
	Flow     string    `json:"flow"`
	Position int       `json:"position"`
	Kind     BlockKind `json:"kind"`

	Title       string `json:"title,omitempty"`
	Text        string `json:"text,omitempty"`
	CirclePath  string `json:"circle_path,omitempty"`
	VideoURL    string `json:"video_url,omitempty"`
	ButtonsJSON string `json:"buttons_json,omitempty"`

	IsActive     bool    `json:"is_active"`
	DelaySeconds float64 `json:"delay_seconds"`

	FilePath string `json:"file_path,omitempty"`
	FileKind string `json:"file_kind,omitempty"`
	FileName string `json:"file_name,omitempty"`

	GateNextFlow        string `json:"gate_next_flow,omitempty"`
	GateButtonText      string `json:"gate_button_text,omitempty"`
	GatePromptText      string `json:"gate_prompt_text,omitempty"`
	GateReminderSeconds int64  `json:"gate_reminder_seconds,omitempty"`
	GateReminderText    string `json:"gate_reminder_text,omitempty"`
}

// Validate performs basic validation before a block is persisted.
func (b *Block) Validate() error {
	if err := ValidateFlowName(b.Flow); err != nil {
		return err
	}
	if b.Position < 0 {
		return ErrInvalidPosition
	}
	if len(b.Text) > MaxBlockTextLength {
		return ErrBlockTextTooLong
	}
	if b.GateNextFlow != "" {
		if err := ValidateFlowName(b.GateNextFlow); err != nil {
			return err
		}
	}
	return nil
}

// Buttons decodes the block's persisted button list.
func (b *Block) Buttons() ([]Button, error) {
	return ParseButtons(b.ButtonsJSON)
}

// Delay returns the normalized inter-block pause.
func (b *Block) Delay() time.Duration {
	if b.DelaySeconds <= 0 {
		return 0
	}
	return time.Duration(b.DelaySeconds * float64(time.Second))
}

// HasGate reports whether the block pauses the flow for confirmation.
func (b *Block) HasGate() bool {
	return strings.TrimSpace(b.GateNextFlow) != ""
}

// NormalizeDelay converts a raw stored delay value to seconds. Missing,
// blank, non-numeric, and negative values all normalize to zero; older data
// carried a nonzero default here, which caused surprise pauses.
func NormalizeDelay(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// Job is a durable, delayed unit of work keyed idempotently per user.
// RunAt is unix seconds.
type Job struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Key    string `json:"job_key"`
	RunAt  int64  `json:"run_at"`
	Done   bool   `json:"done"`
}

// FlowTrigger schedules a flow relative to a user's start event.
type FlowTrigger struct {
	Flow          string `json:"flow"`
	Trigger       string `json:"trigger"`
	OffsetSeconds int64  `json:"offset_seconds"`
	IsActive      bool   `json:"is_active"`
}

// FlowAction starts a follow-on flow after another flow completes.
type FlowAction struct {
	ID           int64  `json:"id"`
	AfterFlow    string `json:"after_flow"`
	ActionType   string `json:"action_type"`
	TargetFlow   string `json:"target_flow"`
	DelaySeconds int64  `json:"delay_seconds"`
	IsActive     bool   `json:"is_active"`
}

// BotUser carries per-user analytics counters. Timestamps are unix seconds.
type BotUser struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstSeen int64  `json:"first_seen_ts"`
	LastSeen  int64  `json:"last_seen_ts"`
	Starts    int64  `json:"starts_count"`
	Messages  int64  `json:"messages_count"`
}

// UserStats is the aggregate rollup shown on the console index.
type UserStats struct {
	TotalUsers     int64 `json:"total_users"`
	ActiveLastHour int64 `json:"active_last_hour"`
	TotalStarts    int64 `json:"total_starts"`
	TotalMessages  int64 `json:"total_messages"`
}

// StateKeyLessonsUnlocked marks that the user finished the course and the
// full lessons menu may be shown.
const StateKeyLessonsUnlocked = "lessons_unlocked"
