// Package channel delivers approval prompts and outcome notices over
// messaging services. The Telegram adapter is the only implementation today.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"postpilot/internal/models"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramChannel sends and edits messages through the Telegram Bot API.
type TelegramChannel struct {
	token   string
	client  *retryablehttp.Client
	apiBase string
}

// NewTelegramChannel creates a Telegram channel adapter for the given bot token.
func NewTelegramChannel(botToken string) *TelegramChannel {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil
	return &TelegramChannel{
		token:   botToken,
		client:  client,
		apiBase: telegramAPIBase,
	}
}

// Enabled reports whether a bot token is configured.
func (t *TelegramChannel) Enabled() bool {
	return t.token != ""
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (t *TelegramChannel) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram %s rejected: %s", method, parsed.Description)
	}
	if result != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// SendApproval delivers the approval prompt with inline decision buttons and
// returns the channel message reference.
func (t *TelegramChannel) SendApproval(ctx context.Context, destination string, prompt models.ApprovalPrompt) (string, error) {
	text := renderApprovalText(prompt)

	keyboard := inlineKeyboardMarkup{
		InlineKeyboard: [][]inlineKeyboardButton{
			{
				{Text: "✅ Approve", CallbackData: models.EncodeCallback(models.ActionApprove, prompt.RequestID)},
				{Text: "❌ Reject", CallbackData: models.EncodeCallback(models.ActionReject, prompt.RequestID)},
			},
			{
				{Text: "✏️ Edit", CallbackData: models.EncodeCallback(models.ActionEdit, prompt.RequestID)},
				{Text: "🕐 Reschedule", CallbackData: models.EncodeCallback(models.ActionSchedule, prompt.RequestID)},
			},
		},
	}

	var sent sentMessage
	err := t.call(ctx, "sendMessage", map[string]any{
		"chat_id":      destination,
		"text":         text,
		"parse_mode":   "HTML",
		"reply_markup": keyboard,
		"disable_web_page_preview": true,
	}, &sent)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

func renderApprovalText(prompt models.ApprovalPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Post awaiting approval</b> (%s)\n\n", prompt.Post.Platform)
	b.WriteString(html.EscapeString(prompt.Post.Content))
	if len(prompt.Post.Hashtags) > 0 {
		b.WriteString("\n\n")
		for i, h := range prompt.Post.Hashtags {
			if i > 0 {
				b.WriteString(" ")
			}
			if !strings.HasPrefix(h, "#") {
				b.WriteString("#")
			}
			b.WriteString(html.EscapeString(h))
		}
	}
	if prompt.Post.ScheduledFor != nil {
		fmt.Fprintf(&b, "\n\nScheduled for %s", prompt.Post.ScheduledFor.Format("Mon, 02 Jan 15:04 MST"))
	}
	fmt.Fprintf(&b, "\nExpires %s", prompt.ExpiresAt.Format("Mon, 02 Jan 15:04 MST"))
	if prompt.ApproveURL != "" && prompt.RejectURL != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">Approve</a> | <a href=\"%s\">Reject</a>",
			prompt.ApproveURL, prompt.RejectURL)
	}
	return b.String()
}

// AcknowledgeCallback answers a button callback so the client stops its
// loading spinner. Telegram expires callbacks quickly; failures are not fatal.
func (t *TelegramChannel) AcknowledgeCallback(ctx context.Context, callbackID, text string) error {
	return t.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

// DisableActions strips the inline keyboard from a resolved approval message.
func (t *TelegramChannel) DisableActions(ctx context.Context, destination, messageRef string) error {
	messageID, err := strconv.ParseInt(messageRef, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message ref %q: %w", messageRef, err)
	}
	return t.call(ctx, "editMessageReplyMarkup", map[string]any{
		"chat_id":      destination,
		"message_id":   messageID,
		"reply_markup": inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{}},
	}, nil)
}

// Notify sends a plain outcome notice.
func (t *TelegramChannel) Notify(ctx context.Context, destination, text string) error {
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id":    destination,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
}

// SetWebhook registers the webhook URL with the shared secret header.
func (t *TelegramChannel) SetWebhook(ctx context.Context, url, secret string) error {
	return t.call(ctx, "setWebhook", map[string]any{
		"url":             url,
		"secret_token":    secret,
		"allowed_updates": []string{"message", "callback_query"},
	}, nil)
}

// DeleteWebhook removes the registered webhook.
func (t *TelegramChannel) DeleteWebhook(ctx context.Context) error {
	return t.call(ctx, "deleteWebhook", map[string]any{}, nil)
}

// GetMe verifies the bot token against the API and returns the bot username.
func (t *TelegramChannel) GetMe(ctx context.Context) (string, error) {
	var me struct {
		Username string `json:"username"`
	}
	if err := t.call(ctx, "getMe", map[string]any{}, &me); err != nil {
		return "", err
	}
	return me.Username, nil
}

// WebhookInfo describes the currently registered webhook.
type WebhookInfo struct {
	URL                string `json:"url"`
	PendingUpdateCount int    `json:"pending_update_count"`
	LastErrorMessage   string `json:"last_error_message"`
}

// GetWebhookInfo fetches the webhook registration state, useful for spotting
// a stale URL or delivery errors piling up on Telegram's side.
func (t *TelegramChannel) GetWebhookInfo(ctx context.Context) (*WebhookInfo, error) {
	var info WebhookInfo
	if err := t.call(ctx, "getWebhookInfo", map[string]any{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// update mirrors the subset of the Telegram update payload the gateway needs.
type update struct {
	Message *struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		From      *struct {
			Username  string `json:"username"`
			FirstName string `json:"first_name"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		Data string `json:"data"`
		From struct {
			Username  string `json:"username"`
			FirstName string `json:"first_name"`
		} `json:"from"`
		Message *struct {
			MessageID int64 `json:"message_id"`
			Chat      struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

// ParseUpdate converts a raw webhook body into a channel-neutral event.
// Updates the gateway cannot act on come back as nil without error.
func ParseUpdate(body []byte) (*models.InboundEvent, error) {
	var u update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to decode telegram update: %w", err)
	}

	if cq := u.CallbackQuery; cq != nil {
		ev := &models.InboundEvent{
			CallbackID:  cq.ID,
			ActionToken: cq.Data,
			Actor:       actorName(cq.From.Username, cq.From.FirstName),
		}
		if cq.Message != nil {
			ev.Destination = strconv.FormatInt(cq.Message.Chat.ID, 10)
			ev.MessageRef = strconv.FormatInt(cq.Message.MessageID, 10)
		}
		return ev, nil
	}

	if m := u.Message; m != nil && m.Text != "" {
		ev := &models.InboundEvent{
			Destination: strconv.FormatInt(m.Chat.ID, 10),
			Text:        m.Text,
			MessageRef:  strconv.FormatInt(m.MessageID, 10),
		}
		if m.From != nil {
			ev.Actor = actorName(m.From.Username, m.From.FirstName)
		}
		return ev, nil
	}

	return nil, nil
}

func actorName(username, firstName string) string {
	if username != "" {
		return "@" + username
	}
	return firstName
}
