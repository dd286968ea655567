package admin

import (
	"fmt"
	"log/slog"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

var starterCourse = []struct {
	flow string
	text string
}{
	{"welcome", "Welcome! 👋 You're in. Your first lesson lands shortly."},
	{"day1", "📘 <b>Day 1</b>\nReplace this text with your first lesson."},
	{"day2", "📘 <b>Day 2</b>\nReplace this text with your second lesson."},
	{"day3", "📘 <b>Day 3</b>\nReplace this text with your third lesson."},
}

// SeedIfEmpty provisions a starter course on a fresh database so the
// console is not a blank page on first run. Every flow starts switched
// off; nothing reaches subscribers until it is armed from the dashboard.
func (s *Server) SeedIfEmpty() error {
	flows, err := s.store.ListFlows()
	if err != nil {
		return fmt.Errorf("failed to check existing flows: %w", err)
	}
	if len(flows) > 0 {
		return nil
	}

	slog.Info("Admin.SeedIfEmpty: provisioning starter course")
	for _, sc := range starterCourse {
		if err := s.store.CreateFlow(sc.flow); err != nil {
			return fmt.Errorf("failed to seed flow %s: %w", sc.flow, err)
		}
		if err := s.store.SetFlowMode(sc.flow, models.ModeOff); err != nil {
			return fmt.Errorf("failed to seed mode for %s: %w", sc.flow, err)
		}
		block := models.Block{
			Flow:     sc.flow,
			Position: 1,
			Kind:     models.BlockKindText,
			Text:     sc.text,
			IsActive: true,
		}
		if _, err := s.store.CreateBlock(block); err != nil {
			return fmt.Errorf("failed to seed block for %s: %w", sc.flow, err)
		}
	}
	trigger := models.FlowTrigger{
		Flow:          "welcome",
		Trigger:       models.TriggerAfterStart,
		OffsetSeconds: 0,
		IsActive:      false,
	}
	if err := s.store.SetTrigger(trigger); err != nil {
		return fmt.Errorf("failed to seed welcome trigger: %w", err)
	}
	return nil
}
