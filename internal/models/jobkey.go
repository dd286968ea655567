package models

import (
	"fmt"
	"strconv"
	"strings"
)

// JobKey is the typed form of a persisted job key. The store keeps the flat
// string; ParseJobKey converts it back at the scheduler boundary so dispatch
// can match exhaustively over kinds. The string encodings are a wire contract
// between producers and the scheduler: a new kind gets a new prefix, an
// existing prefix never changes its field count.
type JobKey interface {
	// Encode returns the persisted wire form of the key.
	Encode() string
	jobKey()
}

// FlowKey starts a flow from the beginning, honored only while the flow's
// mode is auto at fire time.
type FlowKey struct {
	Flow string
}

// GateKey re-sends a gate reminder unless the gate was already pressed.
type GateKey struct {
	BlockID  int64
	NextFlow string
}

// ActionKey runs a post-flow action, resolving its target at fire time.
type ActionKey struct {
	ActionID int64
}

// ResumeKey continues a flow from a given block position.
type ResumeKey struct {
	Flow     string
	Position int
}

// BroadcastKey fans a flow out to an audience, optionally recurring.
type BroadcastKey struct {
	Flow          string
	Audience      string
	RepeatSeconds int64
}

func (FlowKey) jobKey()      {}
func (GateKey) jobKey()      {}
func (ActionKey) jobKey()    {}
func (ResumeKey) jobKey()    {}
func (BroadcastKey) jobKey() {}

func (k FlowKey) Encode() string {
	return "flow:" + strings.TrimSpace(k.Flow)
}

func (k GateKey) Encode() string {
	return fmt.Sprintf("gate:%d:%s", k.BlockID, strings.TrimSpace(k.NextFlow))
}

func (k ActionKey) Encode() string {
	return fmt.Sprintf("action:%d", k.ActionID)
}

func (k ResumeKey) Encode() string {
	return fmt.Sprintf("resume:%s:%d", strings.TrimSpace(k.Flow), k.Position)
}

func (k BroadcastKey) Encode() string {
	return fmt.Sprintf("broadcast:%s:%s:%d", strings.TrimSpace(k.Flow), strings.TrimSpace(k.Audience), k.RepeatSeconds)
}

// ParseJobKey decodes a persisted job key string. A key without a recognized
// prefix is treated as a bare flow name, the encoding used before keys grew
// prefixes; rows scheduled by old builds still fire after an upgrade.
func ParseJobKey(s string) (JobKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty key: %w", ErrInvalidJobKey)
	}

	prefix, rest, found := strings.Cut(s, ":")
	if !found {
		return FlowKey{Flow: s}, nil
	}

	switch prefix {
	case "flow":
		flow := strings.TrimSpace(rest)
		if flow == "" {
			return nil, fmt.Errorf("flow key %q: %w", s, ErrInvalidJobKey)
		}
		return FlowKey{Flow: flow}, nil

	case "gate":
		idStr, next, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("gate key %q: %w", s, ErrInvalidJobKey)
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("gate key %q: bad block id: %w", s, ErrInvalidJobKey)
		}
		next = strings.TrimSpace(next)
		if next == "" {
			return nil, fmt.Errorf("gate key %q: empty next flow: %w", s, ErrInvalidJobKey)
		}
		return GateKey{BlockID: id, NextFlow: next}, nil

	case "action":
		id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("action key %q: %w", s, ErrInvalidJobKey)
		}
		return ActionKey{ActionID: id}, nil

	case "resume":
		flow, posStr, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("resume key %q: %w", s, ErrInvalidJobKey)
		}
		flow = strings.TrimSpace(flow)
		pos, err := strconv.Atoi(strings.TrimSpace(posStr))
		if flow == "" || err != nil || pos < 0 {
			return nil, fmt.Errorf("resume key %q: %w", s, ErrInvalidJobKey)
		}
		return ResumeKey{Flow: flow, Position: pos}, nil

	case "broadcast":
		parts := strings.SplitN(rest, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("broadcast key %q: %w", s, ErrInvalidJobKey)
		}
		flow := strings.TrimSpace(parts[0])
		audience := strings.TrimSpace(parts[1])
		repeat, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if flow == "" || audience == "" || err != nil || repeat < 0 {
			return nil, fmt.Errorf("broadcast key %q: %w", s, ErrInvalidJobKey)
		}
		return BroadcastKey{Flow: flow, Audience: audience, RepeatSeconds: repeat}, nil

	default:
		// Unknown prefix: legacy bare flow name that happens to contain ':'.
		return FlowKey{Flow: s}, nil
	}
}

// GateCallback is the payload carried by a gate confirmation button.
// The user id pins the control to its intended recipient.
type GateCallback struct {
	UserID   int64
	BlockID  int64
	NextFlow string
}

// Encode returns the callback wire form, "gate:<user>:<block>:<next_flow>".
func (c GateCallback) Encode() string {
	return fmt.Sprintf("gate:%d:%d:%s", c.UserID, c.BlockID, strings.TrimSpace(c.NextFlow))
}

// ParseGateCallback decodes a gate button payload.
func ParseGateCallback(s string) (GateCallback, error) {
	var c GateCallback
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 || parts[0] != "gate" {
		return c, fmt.Errorf("gate callback %q: %w", s, ErrInvalidCallback)
	}
	uid, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return c, fmt.Errorf("gate callback %q: bad user id: %w", s, ErrInvalidCallback)
	}
	bid, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return c, fmt.Errorf("gate callback %q: bad block id: %w", s, ErrInvalidCallback)
	}
	next := strings.TrimSpace(parts[3])
	if next == "" {
		return c, fmt.Errorf("gate callback %q: empty next flow: %w", s, ErrInvalidCallback)
	}
	c.UserID = uid
	c.BlockID = bid
	c.NextFlow = next
	return c, nil
}

// VideoCallback is the payload carried by a video watch button.
type VideoCallback struct {
	UserID  int64
	BlockID int64
}

// Encode returns the callback wire form, "video:<user>:<block>".
func (c VideoCallback) Encode() string {
	return fmt.Sprintf("video:%d:%d", c.UserID, c.BlockID)
}

// ParseVideoCallback decodes a video watch button payload.
func ParseVideoCallback(s string) (VideoCallback, error) {
	var c VideoCallback
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "video" {
		return c, fmt.Errorf("video callback %q: %w", s, ErrInvalidCallback)
	}
	uid, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return c, fmt.Errorf("video callback %q: bad user id: %w", s, ErrInvalidCallback)
	}
	bid, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return c, fmt.Errorf("video callback %q: bad block id: %w", s, ErrInvalidCallback)
	}
	c.UserID = uid
	c.BlockID = bid
	return c, nil
}

// LessonCallback is the payload carried by a lessons-menu button.
type LessonCallback struct {
	Flow string
}

// Encode returns the callback wire form, "lesson:<flow>".
func (c LessonCallback) Encode() string {
	return "lesson:" + strings.TrimSpace(c.Flow)
}

// ParseLessonCallback decodes a lessons-menu button payload.
func ParseLessonCallback(s string) (LessonCallback, error) {
	rest, ok := strings.CutPrefix(s, "lesson:")
	if !ok || strings.TrimSpace(rest) == "" {
		return LessonCallback{}, fmt.Errorf("lesson callback %q: %w", s, ErrInvalidCallback)
	}
	return LessonCallback{Flow: strings.TrimSpace(rest)}, nil
}
