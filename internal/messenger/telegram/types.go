package telegram

import (
	"encoding/json"
	"time"
)

// SendMessageRequest is a sendMessage call to the Telegram Bot API.
type SendMessageRequest struct {
	ChatID                string      `json:"chat_id"`
	Text                  string      `json:"text"`
	ParseMode             string      `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool        `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           interface{} `json:"reply_markup,omitempty"`
}

// InlineKeyboardMarkup is an inline keyboard attached to a message.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// InlineKeyboardButton is a single inline keyboard button.
type InlineKeyboardButton struct {
	Text   string      `json:"text"`
	WebApp *WebAppInfo `json:"web_app,omitempty"`
}

// WebAppInfo links a button to a Telegram mini-app.
type WebAppInfo struct {
	URL string `json:"url"`
}

// APIResponse is the envelope every Telegram Bot API call returns.
type APIResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// ResponseParameters carries retry hints for a failed call.
type ResponseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

// SentMessage is the result field of a successful sendMessage call.
type SentMessage struct {
	MessageID int64 `json:"message_id"`
}

// Result is the outcome of one SendMessage attempt.
type Result struct {
	Success    bool
	MessageID  int64
	Err        error
	SentAt     time.Time
	RetryAfter int
}

// AlertNotification is the message content for one fired alert,
// resolved from a model.TriggerEvent plus the recipient's chat id.
type AlertNotification struct {
	ChatID      string
	Symbol      string
	Description string
	Current     float64
	Target      float64
	Direction   string
	TriggeredAt time.Time
}
