package meeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type plain struct{}

func (plain) Mention(tag string) string {
	if tag == "" {
		return ""
	}
	return "@" + tag
}
func (plain) ChannelLink(id string) string { return id }

func TestText(t *testing.T) {
	t.Parallel()
	m := Meeting{Name: "Standup"}
	d := Division{RoleID: "eng", VoiceChannelID: "room-1"}

	assert.Equal(t, "@eng Standup in 5 minutes in room-1!", Text(KindHeadsUp, m, d, plain{}))
	assert.Equal(t, "@eng Standup now in room-1!", Text(KindNow, m, d, plain{}))
	assert.Equal(t, "Standup now!", Text(KindNow, m, Division{}, plain{}))
}
