// Package console is a transport that writes messages to the log instead of a
// chat platform. It backs dry runs and local development.
package console

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	kit "meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

type Adapter struct {
	log logx.Logger
	seq atomic.Uint64
}

func New(log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{log: log.With(logx.String("comp", "console"))}
}

func (a *Adapter) Name() string                    { return "console" }
func (a *Adapter) Start(ctx context.Context) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error  { return nil }

func (a *Adapter) Mention(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	return "@" + tag
}

func (a *Adapter) ChannelLink(channelID string) string {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return ""
	}
	return "#" + channelID
}

func (a *Adapter) SendText(ctx context.Context, channelID string, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	id := strconv.FormatUint(a.seq.Add(1), 10)
	a.log.Info("message", logx.String("channel", channelID), logx.String("id", id), logx.String("text", text))
	return kit.MessageRef{ChannelID: channelID, MessageID: id}, nil
}
