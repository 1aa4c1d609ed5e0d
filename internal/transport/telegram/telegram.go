// Package telegram binds the transport contract to the Telegram Bot API (telebot).
//
// Channel ids are "<chat_id>" or "<chat_id>/<thread_id>" for forum topics.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "meetbot/internal/runtime/supervisor"
	kit "meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe handshake; used by tests and dry runs.
	Offline bool
}

type command struct {
	name, help string
	fn         kit.CommandFunc
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	// sup owns adapter internal goroutines (poll loop, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	cmdMu    sync.Mutex
	commands []command
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Mention renders an audience tag. Telegram has no role mentions; tags are
// usernames or group handles.
func (a *Adapter) Mention(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.HasPrefix(tag, "@") {
		return tag
	}
	return "@" + tag
}

func (a *Adapter) ChannelLink(channelID string) string {
	return strings.TrimSpace(channelID)
}

// HandleCommand registers /name. Must be called before Start.
func (a *Adapter) HandleCommand(name, help string, fn kit.CommandFunc) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" || fn == nil {
		return
	}
	a.cmdMu.Lock()
	a.commands = append(a.commands, command{name: name, help: help, fn: fn})
	a.cmdMu.Unlock()
}

func (a *Adapter) registerHandlers(ctx context.Context) {
	a.cmdMu.Lock()
	cmds := append([]command(nil), a.commands...)
	a.cmdMu.Unlock()

	menu := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		c := c
		menu = append(menu, tele.Command{Text: c.name, Description: c.help})
		a.bot.Handle("/"+c.name, func(tc tele.Context) error {
			cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			text, err := c.fn(cctx, tc.Args())
			if err != nil {
				a.log.Warn("command failed", logx.String("cmd", c.name), logx.Err(err))
				text = "error: " + err.Error()
			}
			if strings.TrimSpace(text) == "" {
				return nil
			}
			return tc.Send(text, &tele.SendOptions{DisableWebPagePreview: true})
		})
	}
	if len(menu) > 0 && !a.cfg.Offline {
		if err := a.bot.SetCommands(menu); err != nil {
			a.log.Warn("set commands failed", logx.Err(err))
		}
	}
}

func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	a.registerHandlers(sup.Context())
	if a.cfg.Offline {
		return nil
	}

	// Ensure we stop telebot when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return c.Err()
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		// Restart if Start() returns while context is still active.
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown for too long on Telegram long-poll.
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		// Don't hard-fail shutdown for adapter; just report.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// ParseChannel splits "<chat>" or "<chat>/<thread>".
func ParseChannel(id string) (chatID int64, threadID int, err error) {
	chat, thread, hasThread := strings.Cut(strings.TrimSpace(id), "/")
	chatID, err = strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram channel %q: %w", id, err)
	}
	if hasThread {
		threadID, err = strconv.Atoi(thread)
		if err != nil {
			return 0, 0, fmt.Errorf("telegram thread %q: %w", id, err)
		}
	}
	return chatID, threadID, nil
}

func (a *Adapter) SendText(ctx context.Context, channelID string, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chatID, threadID, err := ParseChannel(channelID)
	if err != nil {
		return kit.MessageRef{}, err
	}
	parseMode := tele.ParseMode(opt.ParseMode)

	chunks := splitText(text, textLimit, parseMode)
	chat := &tele.Chat{ID: chatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             parseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              threadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChannelID: channelID, MessageID: strconv.Itoa(msg.ID)}
		}
	}
	return first, nil
}

const textLimit = 4000

// splitText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML tags when parseMode is HTML.
func splitText(s string, limit int, parseMode tele.ParseMode) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		// Don't split inside a tag for HTML parse mode.
		if strings.EqualFold(string(parseMode), string(tele.ModeHTML)) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		// Skip leading newlines to avoid empty chunks.
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
