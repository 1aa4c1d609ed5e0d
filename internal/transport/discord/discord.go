// Package discord binds the transport contract to Discord (discordgo).
//
// Channel ids are channel snowflakes. Audience tags are role ids and render as
// role mentions; chat commands use the "!" prefix.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	kit "meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

const (
	textLimit     = 2000
	commandPrefix = "!"
)

type Config struct {
	Token string
	// Offline skips opening the gateway; used by tests and dry runs.
	Offline bool
}

type command struct {
	help string
	fn   kit.CommandFunc
}

type Adapter struct {
	cfg Config
	log logx.Logger
	s   *discordgo.Session

	runMu   sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	remove  func()

	cmdMu    sync.RWMutex
	commands map[string]command
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "discord")),
		s:        s,
		commands: map[string]command{},
	}, nil
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) Mention(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	return "<@&" + tag + ">"
}

func (a *Adapter) ChannelLink(channelID string) string {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return ""
	}
	return "<#" + channelID + ">"
}

// HandleCommand registers !name. Must be called before Start.
func (a *Adapter) HandleCommand(name, help string, fn kit.CommandFunc) {
	name = strings.TrimPrefix(strings.TrimSpace(name), commandPrefix)
	if name == "" || fn == nil {
		return
	}
	a.cmdMu.Lock()
	a.commands[name] = command{help: help, fn: fn}
	a.cmdMu.Unlock()
}

func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.remove = a.s.AddHandler(a.onMessage)
	if !a.cfg.Offline {
		if err := a.s.Open(); err != nil {
			a.remove()
			a.cancel()
			return err
		}
		a.log.Info("gateway connected")
	}
	a.running = true
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	a.cancel()
	a.remove()
	if a.cfg.Offline {
		return nil
	}
	if err := a.s.Close(); err != nil {
		a.log.Warn("discord close failed", logx.Err(err))
	}
	return nil
}

func (a *Adapter) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || !strings.HasPrefix(m.Content, commandPrefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, commandPrefix))
	if len(fields) == 0 {
		return
	}
	a.cmdMu.RLock()
	c, ok := a.commands[strings.ToLower(fields[0])]
	a.cmdMu.RUnlock()
	if !ok {
		return
	}

	a.runMu.Lock()
	base := a.ctx
	a.runMu.Unlock()
	if base == nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, 15*time.Second)
	defer cancel()

	text, err := c.fn(ctx, fields[1:])
	if err != nil {
		a.log.Warn("command failed", logx.String("cmd", fields[0]), logx.Err(err))
		text = "error: " + err.Error()
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := a.SendText(ctx, m.ChannelID, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		a.log.Warn("command reply failed", logx.Err(err))
	}
}

func (a *Adapter) SendText(ctx context.Context, channelID string, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	var flags discordgo.MessageFlags
	if opt.Silent {
		flags |= discordgo.MessageFlagsSuppressNotifications
	}
	if opt.DisablePreview {
		flags |= discordgo.MessageFlagsSuppressEmbeds
	}

	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content: chunk,
			Flags:   flags,
			// Only role mentions ping; user text can never trigger @everyone.
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeRoles},
			},
		}, discordgo.WithContext(ctx))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChannelID: channelID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[:end]), "\n"))
		rs = rs[end:]
	}
	return out
}
