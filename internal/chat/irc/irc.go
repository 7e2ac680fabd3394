// Package irc exposes the swap bot over IRC. Users talk to it with
// "!" commands in a channel or in a private message; replies always go
// to the sender privately, so each nick owns its own sessions.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/girc"

	"github.com/ggonzalez94/chatswap/internal/chat"
	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/httpx"
	"github.com/ggonzalez94/chatswap/internal/logging"
)

const maxLineLen = 400

type Config struct {
	Server   string
	Port     int
	Nick     string
	TLS      bool
	Password string
	Channels []string
}

type Transport struct {
	cfg Config
	log *logging.Logger

	mu     sync.RWMutex
	client *girc.Client
}

func New(cfg Config, log *logging.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Server) == "" || strings.TrimSpace(cfg.Nick) == "" {
		return nil, apperr.New(apperr.CodeUsage, "irc server and nick are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6667
		if cfg.TLS {
			cfg.Port = 6697
		}
	}
	return &Transport{cfg: cfg, log: log.Sub("irc")}, nil
}

func (t *Transport) Name() string { return "irc" }

// Run connects and reconnects until ctx is cancelled.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	failures := 0
	for {
		started := time.Now()
		err := t.connect(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > time.Minute {
			failures = 0
		}
		failures++
		t.log.Warn().Err(err).Int("failures", failures).Msg("irc connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(httpx.Backoff(failures)):
		}
	}
}

func (t *Transport) connect(ctx context.Context, h chat.Handler) error {
	gcfg := girc.Config{
		Server:  t.cfg.Server,
		Port:    t.cfg.Port,
		Nick:    t.cfg.Nick,
		User:    t.cfg.Nick,
		Name:    "chatswap bot",
		SSL:     t.cfg.TLS,
		Version: "chatswap",
	}
	if t.cfg.TLS {
		gcfg.TLSConfig = &tls.Config{ServerName: t.cfg.Server}
	}
	if t.cfg.Password != "" {
		gcfg.ServerPass = t.cfg.Password
	}

	client := girc.New(gcfg)
	client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, _ girc.Event) {
		t.log.Info().Str("nick", c.GetNick()).Msg("connected to irc")
		for _, ch := range t.cfg.Channels {
			c.Cmd.Join(ch)
		}
	})
	client.Handlers.Add(girc.PRIVMSG, func(c *girc.Client, e girc.Event) {
		if e.Source == nil || e.Source.Name == c.GetNick() {
			return
		}
		nick := e.Source.Name
		reply, ok := t.respond(ctx, h, nick, e.Last())
		if !ok {
			return
		}
		for _, line := range renderReply(reply) {
			c.Cmd.Message(nick, line)
		}
	})

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.client = nil
		t.mu.Unlock()
	}()

	t.log.Info().Str("server", t.cfg.Server).Int("port", t.cfg.Port).Bool("tls", t.cfg.TLS).Msg("connecting to irc")
	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()
	select {
	case err := <-errCh:
		if err == nil {
			err = fmt.Errorf("irc: disconnected")
		}
		return err
	case <-ctx.Done():
		client.Quit("shutting down")
		client.Close()
		return ctx.Err()
	}
}

// respond turns one line of text into a reply. Lines that are not commands
// are ignored; malformed commands get an error reply.
func (t *Transport) respond(ctx context.Context, h chat.Handler, nick, text string) (chat.Reply, bool) {
	action, ok, err := ParseCommand(text)
	if !ok {
		return chat.Reply{}, false
	}
	if err != nil {
		t.log.Debug().Err(err).Str("nick", nick).Msg("rejected irc command")
		return chat.Reply{Text: apperr.UserMessage(err) + " Try !help."}, true
	}
	return h.Handle(ctx, chat.Event{OwnerID: chat.OwnerID(t.Name(), nick), Action: action}), true
}

// Send delivers reply to nick as one or more PRIVMSG lines.
func (t *Transport) Send(_ context.Context, nick string, reply chat.Reply) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return apperr.New(apperr.CodeUnavailable, "irc: not connected")
	}
	for _, line := range renderReply(reply) {
		client.Cmd.Message(nick, line)
	}
	return nil
}

// ParseCommand maps "!" commands to actions. ok is false for ordinary chat.
//
//	!help | !menu | !start
//	!connect
//	!balance
//	!swap                       list pairs
//	!swap FROM TO               amount choices
//	!swap FROM TO AMOUNT        confirmation prompt
//	!confirm FROM TO AMOUNT     request the swap
func ParseCommand(text string) (action chat.Action, ok bool, err error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return chat.Action{}, false, nil
	}
	args := fields[1:]
	var encoded string
	switch strings.ToLower(fields[0]) {
	case "!help", "!menu", "!start":
		encoded = string(chat.ActionHome)
	case "!connect":
		encoded = string(chat.ActionConnect)
	case "!balance":
		encoded = string(chat.ActionBalance)
	case "!swap":
		switch len(args) {
		case 0:
			encoded = string(chat.ActionSwap)
		case 2:
			encoded = chat.Action{Kind: chat.ActionPair, From: args[0], To: args[1]}.Encode()
		case 3:
			encoded = chat.Action{Kind: chat.ActionAmount, From: args[0], To: args[1], Amount: args[2]}.Encode()
		default:
			return chat.Action{}, true, apperr.New(apperr.CodeInvalidInput, "Usage: !swap FROM TO AMOUNT")
		}
	case "!confirm":
		if len(args) != 3 {
			return chat.Action{}, true, apperr.New(apperr.CodeInvalidInput, "Usage: !confirm FROM TO AMOUNT")
		}
		encoded = chat.Action{Kind: chat.ActionConfirm, From: args[0], To: args[1], Amount: args[2]}.Encode()
	default:
		return chat.Action{}, false, nil
	}
	action, err = chat.ParseAction(encoded)
	if err != nil {
		return chat.Action{}, true, err
	}
	return action, true, nil
}

// commandFor is the inverse of ParseCommand.
func commandFor(a chat.Action) string {
	switch a.Kind {
	case chat.ActionHome:
		return "!menu"
	case chat.ActionConnect:
		return "!connect"
	case chat.ActionBalance:
		return "!balance"
	case chat.ActionSwap:
		return "!swap"
	case chat.ActionPair:
		return fmt.Sprintf("!swap %s %s", a.From, a.To)
	case chat.ActionAmount:
		return fmt.Sprintf("!swap %s %s %s", a.From, a.To, a.Amount)
	case chat.ActionConfirm:
		return fmt.Sprintf("!confirm %s %s %s", a.From, a.To, a.Amount)
	}
	return ""
}

// renderReply flattens a reply into IRC lines. Buttons become "label: url"
// or "label: !command".
func renderReply(reply chat.Reply) []string {
	lines := splitMessage(strings.TrimRight(reply.Text, "\n"), maxLineLen)
	for _, row := range reply.Keyboard {
		for _, b := range row {
			target := b.URL
			if b.Action != nil {
				target = commandFor(*b.Action)
			}
			if target == "" {
				continue
			}
			lines = append(lines, splitMessage(b.Text+": "+target, maxLineLen)...)
		}
	}
	return lines
}

// splitMessage breaks text into lines no longer than maxLen bytes, cutting
// only at rune boundaries. Empty lines are dropped.
func splitMessage(text string, maxLen int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			out = append(out, line[:cut])
			line = line[cut:]
		}
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
