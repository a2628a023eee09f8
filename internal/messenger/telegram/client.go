// Package telegram is a minimal, sending-only Telegram Bot API client:
// the messenger dispatcher's delivery mechanism for the Trigger Sink's
// best-effort notification step (§4.J step 3).
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	apiBaseURL     = "https://api.telegram.org/bot"
	requestTimeout = 30 * time.Second
)

// Client is a Telegram Bot API client.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewClient creates a Client for the given bot token.
func NewClient(token string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
		baseURL:    apiBaseURL + token,
	}
}

// SendMessage sends a raw text message.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Result, error) {
	result := &Result{SentAt: time.Now()}

	if req.ParseMode == "" {
		req.ParseMode = "HTML"
	}

	data, err := json.Marshal(req)
	if err != nil {
		result.Err = fmt.Errorf("marshal request: %w", err)
		return result, result.Err
	}

	resp, err := c.doRequest(ctx, "sendMessage", data)
	if err != nil {
		result.Err = err
		return result, err
	}

	if !resp.OK {
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			result.RetryAfter = resp.Parameters.RetryAfter
			result.Err = fmt.Errorf("rate limited, retry after %d seconds", resp.Parameters.RetryAfter)
			return result, result.Err
		}
		result.Err = fmt.Errorf("telegram api error: %s (code %d)", resp.Description, resp.ErrorCode)
		return result, result.Err
	}

	var msg SentMessage
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		result.Err = fmt.Errorf("parse response: %w", err)
		return result, result.Err
	}

	result.Success = true
	result.MessageID = msg.MessageID
	return result, nil
}

// SendAlertNotification formats and sends an AlertNotification.
func (c *Client) SendAlertNotification(ctx context.Context, n AlertNotification, miniAppURL string) (*Result, error) {
	text := formatAlertMessage(n)

	var replyMarkup *InlineKeyboardMarkup
	if miniAppURL != "" {
		replyMarkup = &InlineKeyboardMarkup{
			InlineKeyboard: [][]InlineKeyboardButton{
				{{Text: "Open app", WebApp: &WebAppInfo{URL: miniAppURL}}},
			},
		}
	}

	req := SendMessageRequest{
		ChatID:                n.ChatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
		ReplyMarkup:           replyMarkup,
	}

	result, err := c.SendMessage(ctx, req)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("telegram: send failed", slog.String("chatId", n.ChatID), slog.String("symbol", n.Symbol), slog.String("error", err.Error()))
		}
		return result, err
	}
	if c.logger != nil {
		c.logger.Info("telegram: alert sent", slog.String("chatId", n.ChatID), slog.String("symbol", n.Symbol), slog.Int64("messageId", result.MessageID))
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, method string, body []byte) (*APIResponse, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &apiResp, nil
}

func formatAlertMessage(n AlertNotification) string {
	icon := "🔺"
	action := "rose above"
	if n.Direction == "below" {
		icon = "🔻"
		action = "fell below"
	}

	display := n.Symbol
	if n.Description != "" {
		display = fmt.Sprintf("%s (%s)", n.Description, n.Symbol)
	}

	message := fmt.Sprintf(`%s <b>Alert Triggered!</b>

<b>%s</b> %s

💰 Current Price: <b>%s</b>
🎯 Target: %s
⏰ %s`,
		icon, display, action,
		formatPrice(n.Current), formatPrice(n.Target),
		n.TriggeredAt.Format("15:04:05 MST"),
	)

	return message
}

func formatPrice(price float64) string {
	switch {
	case price >= 1000:
		return fmt.Sprintf("%.2f", price)
	case price >= 1:
		return fmt.Sprintf("%.4f", price)
	case price >= 0.0001:
		return fmt.Sprintf("%.6f", price)
	default:
		return fmt.Sprintf("%.8f", price)
	}
}
