package transport

import "context"

// MessageRef identifies a delivered message.
type MessageRef struct {
	ChannelID string
	MessageID string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Silent asks the platform not to ping recipients (where supported).
	Silent bool
}

// Notification is a single outbound message handed to the notifier pipeline.
type Notification struct {
	ChannelID string
	Text      string
	// DedupKey overrides the content-derived dedup key. Two notifications with the
	// same key inside the notifier's dedup window are delivered once.
	DedupKey string
	Options  *SendOptions
}

// Adapter is the chat platform binding. Channel identifiers are platform specific
// strings (Discord snowflakes, Telegram "chat" or "chat/thread" ids).
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, channelID string, text string, opt *SendOptions) (MessageRef, error)

	// Mention renders an audience tag (role/group) in the platform's syntax.
	Mention(tag string) string
	// ChannelLink renders a reference to another channel in the platform's syntax.
	ChannelLink(channelID string) string
}

// CommandFunc answers a chat command. The returned text is posted back to the
// channel the command came from; an empty string posts nothing.
type CommandFunc func(ctx context.Context, args []string) (string, error)

// Commander is implemented by adapters that can receive chat commands.
// Handlers must be registered before Start.
type Commander interface {
	HandleCommand(name, help string, fn CommandFunc)
}
