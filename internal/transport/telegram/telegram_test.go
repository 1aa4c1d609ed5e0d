package telegram

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	logx "meetbot/pkg/logx"
)

func TestParseChannel(t *testing.T) {
	t.Parallel()
	chat, thread, err := ParseChannel("-1001234")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234), chat)
	assert.Zero(t, thread)

	chat, thread, err = ParseChannel(" -1001234/42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234), chat)
	assert.Equal(t, 42, thread)

	_, _, err = ParseChannel("general")
	assert.Error(t, err)
	_, _, err = ParseChannel("1/x")
	assert.Error(t, err)
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"short"}, splitText("short", 10, ""))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, splitText(long, 10, ""))

	html := "aaaaaa<b>bold</b>"
	chunks := splitText(html, 8, tele.ModeHTML)
	assert.Equal(t, "aaaaaa", chunks[0], "never cut inside a tag")
	assert.Equal(t, html, strings.Join(chunks, ""))
}

func TestRendering(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)

	assert.Equal(t, "@team", a.Mention("team"))
	assert.Equal(t, "@team", a.Mention("@team"))
	assert.Empty(t, a.Mention(""))
	assert.Equal(t, "voice-room", a.ChannelLink("voice-room"))
	assert.Equal(t, "telegram", a.Name())
}

func TestStartStopOffline(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	a.HandleCommand("/upcoming", "list upcoming meetings", func(context.Context, []string) (string, error) { return "", nil })

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()), "idempotent")
	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, logx.Nop())
	assert.Error(t, err)
}
