package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/chatswap/internal/chat"
	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/httpx"
	"github.com/ggonzalez94/chatswap/internal/logging"
)

const defaultBaseURL = "https://api.telegram.org"

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Transport talks to the Telegram Bot API with long polling.
type Transport struct {
	base        string
	poll        *httpx.Client
	send        *httpx.Client
	pollTimeout time.Duration
	log         *logging.Logger
	offset      int64
}

// New builds the transport. client must have an HTTP timeout longer than
// cfg.PollTimeout. Outbound messages are sent without retries so a flaky
// network never delivers an outcome twice.
func New(cfg Config, client *httpx.Client, log *logging.Logger) (*Transport, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, apperr.New(apperr.CodeUsage, "telegram bot token is required")
	}
	return &Transport{
		base:        defaultBaseURL + "/bot" + token,
		poll:        client,
		send:        client.WithoutRetries(),
		pollTimeout: cfg.PollTimeout,
		log:         log.Sub("telegram"),
	}, nil
}

func (t *Transport) Name() string { return "tg" }

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      tgChat `json:"chat"`
	Text      string `json:"text"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	Message *message `json:"message"`
	Data    string   `json:"data"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string          `json:"chat_id"`
	MessageID   int64           `json:"message_id,omitempty"`
	Text        string          `json:"text"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

// Run long-polls for updates until ctx is cancelled.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := t.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			t.log.Warn().Err(err).Int("failures", failures).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(httpx.Backoff(failures)):
			}
			continue
		}
		failures = 0
		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.dispatch(ctx, h, u)
		}
	}
}

func (t *Transport) getUpdates(ctx context.Context) ([]update, error) {
	payload := map[string]any{
		"offset":          t.offset,
		"timeout":         int(t.pollTimeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var resp apiResponse[[]update]
	if err := t.call(ctx, t.poll, "getUpdates", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (t *Transport) dispatch(ctx context.Context, h chat.Handler, u update) {
	switch {
	case u.CallbackQuery != nil:
		t.handleCallback(ctx, h, u.CallbackQuery)
	case u.Message != nil:
		action, ok := commandAction(u.Message.Text)
		if !ok {
			return
		}
		chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
		reply := h.Handle(ctx, chat.Event{OwnerID: chat.OwnerID(t.Name(), chatID), Action: action})
		if err := t.Send(ctx, chatID, reply); err != nil {
			t.log.Error().Err(err).Str("chat", chatID).Msg("reply failed")
		}
	}
}

func (t *Transport) handleCallback(ctx context.Context, h chat.Handler, q *callbackQuery) {
	action, err := chat.ParseAction(q.Data)
	if err != nil {
		t.log.Warn().Err(err).Str("data", q.Data).Msg("rejected callback data")
		t.answer(ctx, q.ID, "Unknown action")
		return
	}
	t.answer(ctx, q.ID, "")
	if q.Message == nil {
		return
	}
	chatID := strconv.FormatInt(q.Message.Chat.ID, 10)
	reply := h.Handle(ctx, chat.Event{OwnerID: chat.OwnerID(t.Name(), chatID), Action: action})

	req := sendMessageRequest{
		ChatID:      chatID,
		MessageID:   q.Message.MessageID,
		Text:        reply.Text,
		ReplyMarkup: keyboard(reply),
	}
	var resp apiResponse[any]
	if err := t.call(ctx, t.send, "editMessageText", req, &resp); err != nil {
		t.log.Debug().Err(err).Msg("edit failed, sending new message")
		if err := t.Send(ctx, chatID, reply); err != nil {
			t.log.Error().Err(err).Str("chat", chatID).Msg("reply failed")
		}
	}
}

func (t *Transport) answer(ctx context.Context, queryID, text string) {
	payload := map[string]string{"callback_query_id": queryID}
	if text != "" {
		payload["text"] = text
	}
	var resp apiResponse[bool]
	if err := t.call(ctx, t.send, "answerCallbackQuery", payload, &resp); err != nil {
		t.log.Debug().Err(err).Msg("answerCallbackQuery failed")
	}
}

// Send posts reply as a new message.
func (t *Transport) Send(ctx context.Context, chatID string, reply chat.Reply) error {
	req := sendMessageRequest{ChatID: chatID, Text: reply.Text, ReplyMarkup: keyboard(reply)}
	var resp apiResponse[any]
	return t.call(ctx, t.send, "sendMessage", req, &resp)
}

func (t *Transport) call(ctx context.Context, client *httpx.Client, method string, payload any, out interface{ ok() (bool, string) }) error {
	if _, err := httpx.PostJSON(ctx, client, t.base+"/"+method, payload, nil, out); err != nil {
		return err
	}
	if ok, desc := out.ok(); !ok {
		return apperr.New(apperr.CodeUnavailable, fmt.Sprintf("telegram %s: %s", method, desc))
	}
	return nil
}

func (r *apiResponse[T]) ok() (bool, string) { return r.OK, r.Description }

func keyboard(reply chat.Reply) *inlineKeyboard {
	if len(reply.Keyboard) == 0 {
		return nil
	}
	kb := &inlineKeyboard{InlineKeyboard: make([][]inlineButton, 0, len(reply.Keyboard))}
	for _, row := range reply.Keyboard {
		out := make([]inlineButton, 0, len(row))
		for _, b := range row {
			btn := inlineButton{Text: b.Text, URL: b.URL}
			if b.Action != nil {
				btn.CallbackData = b.Action.Encode()
			}
			out = append(out, btn)
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, out)
	}
	return kb
}

// commandAction maps slash commands to actions. Other text is ignored.
func commandAction(text string) (chat.Action, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return chat.Action{}, false
	}
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	switch cmd {
	case "/start", "/menu", "/help":
		return chat.Action{Kind: chat.ActionHome}, true
	case "/connect":
		return chat.Action{Kind: chat.ActionConnect}, true
	case "/balance":
		return chat.Action{Kind: chat.ActionBalance}, true
	case "/swap":
		return chat.Action{Kind: chat.ActionSwap}, true
	}
	return chat.Action{}, false
}
