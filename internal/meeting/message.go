package meeting

import (
	"fmt"
	"strings"
)

// Kind distinguishes the two notifications a meeting can produce.
type Kind string

const (
	KindHeadsUp Kind = "heads_up"
	KindNow     Kind = "now"
)

// Renderer formats platform-specific references inside message text.
type Renderer interface {
	Mention(tag string) string
	ChannelLink(channelID string) string
}

// Text builds the announcement for m addressed to d's audience, e.g.
//
//	<@&role> Standup in 5 minutes in <#voice>!
//	<@&role> Standup now in <#voice>!
//
// An empty audience or place is left out.
func Text(kind Kind, m Meeting, d Division, r Renderer) string {
	var b strings.Builder
	if who := r.Mention(d.RoleID); who != "" {
		b.WriteString(who)
		b.WriteByte(' ')
	}
	b.WriteString(m.Name)
	if kind == KindHeadsUp {
		fmt.Fprintf(&b, " in %d minutes", int(HeadsUpLead.Minutes()))
	} else {
		b.WriteString(" now")
	}
	if where := r.ChannelLink(d.VoiceChannelID); where != "" {
		b.WriteString(" in ")
		b.WriteString(where)
	}
	b.WriteByte('!')
	return b.String()
}
