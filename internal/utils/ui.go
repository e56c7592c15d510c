package utils

import (
	"github.com/go-telegram/bot/models"
)

type Button struct {
	Text string
	Data string
}

func BuildInlineKeyboard(buttons []Button) models.InlineKeyboardMarkup {
	pad := func(s string) string { return " " + s + " " }
	rows := make([][]models.InlineKeyboardButton, 0)
	row := make([]models.InlineKeyboardButton, 0, 3)
	for i, button := range buttons {
		if i > 0 && i%3 == 0 {
			rows = append(rows, row)
			row = make([]models.InlineKeyboardButton, 0, 3)
		}
		row = append(row, models.InlineKeyboardButton{
			Text:         pad(button.Text),
			CallbackData: button.Data,
		})
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// ApproveRejectKeyboard is the standard two-button row under admin review
// prompts.
func ApproveRejectKeyboard(approveData, rejectData string) models.InlineKeyboardMarkup {
	return models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: " ✅ Approve ", CallbackData: approveData},
			{Text: " ❌ Reject ", CallbackData: rejectData},
		}},
	}
}
