package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

// InlineKeyboard builds an inline keyboard from block buttons, one button
// per row. Buttons with callback data become callback buttons, the rest
// link out. Returns nil for an empty list so callers can pass the result
// straight to SendMessage.
func InlineKeyboard(buttons []models.Button) interface{} {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		if b.Data != "" {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)))
		} else {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL)))
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ReplyMenu builds a persistent reply keyboard from rows of button labels.
func ReplyMenu(rows ...[]string) interface{} {
	kbRows := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, text := range row {
			btns = append(btns, tgbotapi.NewKeyboardButton(text))
		}
		kbRows = append(kbRows, btns)
	}
	kb := tgbotapi.NewReplyKeyboard(kbRows...)
	kb.ResizeKeyboard = true
	return kb
}
