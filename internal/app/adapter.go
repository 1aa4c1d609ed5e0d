package app

import (
	"fmt"
	"strings"
	"time"

	"meetbot/internal/config"
	kit "meetbot/internal/transport"
	"meetbot/internal/transport/console"
	"meetbot/internal/transport/discord"
	"meetbot/internal/transport/telegram"
	logx "meetbot/pkg/logx"
)

// NewAdapter builds the chat adapter selected by transport.kind. An empty kind
// selects the console adapter, which only logs messages.
func NewAdapter(tc config.TransportConfig, log logx.Logger) (kit.Adapter, error) {
	kind := strings.ToLower(strings.TrimSpace(tc.Kind))
	switch kind {
	case "", "console":
		return console.New(log), nil
	case "telegram":
		poll, err := config.ParseDurationOrDefault("transport.poll_timeout", tc.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{Token: tc.ResolvedToken(), PollTimeout: poll}, log)
	case "discord":
		return discord.New(discord.Config{Token: tc.ResolvedToken()}, log)
	default:
		return nil, fmt.Errorf("unknown transport.kind: %s", tc.Kind)
	}
}
