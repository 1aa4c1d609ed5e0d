package discord

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbot/internal/meeting"
	logx "meetbot/pkg/logx"
)

func TestRendering(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Token: "t", Offline: true}, logx.Nop())
	require.NoError(t, err)

	assert.Equal(t, "<@&42>", a.Mention("42"))
	assert.Equal(t, "<#7>", a.ChannelLink("7"))
	assert.Empty(t, a.Mention(" "))

	m := meeting.Meeting{Name: "Standup"}
	d := meeting.Division{RoleID: "42", VoiceChannelID: "7"}
	assert.Equal(t, "<@&42> Standup in 5 minutes in <#7>!", meeting.Text(meeting.KindHeadsUp, m, d, a))
	assert.Equal(t, "<@&42> Standup now in <#7>!", meeting.Text(meeting.KindNow, m, d, a))
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"hi"}, splitText("hi", 10))

	s := strings.Repeat("x", 25)
	chunks := splitText(s, 10)
	assert.Len(t, chunks, 3)
	assert.Equal(t, s, strings.Join(chunks, ""))
}

func TestCommandsIgnoreBotsAndUnknown(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Token: "t", Offline: true}, logx.Nop())
	require.NoError(t, err)

	calls := 0
	a.HandleCommand("!upcoming", "", func(context.Context, []string) (string, error) {
		calls++
		return "", nil
	})
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background())

	msg := func(content string, bot bool) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			Content: content, ChannelID: "1", Author: &discordgo.User{ID: "u", Bot: bot},
		}}
	}
	a.onMessage(nil, msg("!upcoming 3", false))
	a.onMessage(nil, msg("!upcoming", true))
	a.onMessage(nil, msg("!nope", false))
	a.onMessage(nil, msg("upcoming", false))
	assert.Equal(t, 1, calls)
}
