package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbot/internal/meeting"
)

type staticSource struct {
	ds  []meeting.Division
	err error
}

func (s staticSource) Divisions(context.Context) ([]meeting.Division, error) { return s.ds, s.err }

func TestResolve(t *testing.T) {
	t.Parallel()
	src := staticSource{ds: []meeting.Division{
		{Name: "eng", ChannelID: "store-eng"},
		{Name: "ops", ChannelID: "store-ops"},
	}}
	d := New(src, []meeting.Division{{Name: "eng", ChannelID: "cfg-eng"}})
	ctx := context.Background()

	v, err := d.Resolve(ctx, "eng")
	require.NoError(t, err)
	assert.Equal(t, "cfg-eng", v.ChannelID, "config wins")

	v, err = d.Resolve(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, "store-ops", v.ChannelID)

	_, err = d.Resolve(ctx, "sales")
	assert.ErrorIs(t, err, ErrUnknownDivision)

	d.SetStatic(nil)
	v, err = d.Resolve(ctx, "eng")
	require.NoError(t, err)
	assert.Equal(t, "store-eng", v.ChannelID)
}

func TestResolve_SourceError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	d := New(staticSource{err: boom}, nil)

	_, err := d.Resolve(context.Background(), "eng")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnknownDivision)
}

func TestList(t *testing.T) {
	t.Parallel()
	d := New(staticSource{ds: []meeting.Division{{Name: "ops"}, {Name: "eng", ChannelID: "s"}}},
		[]meeting.Division{{Name: "eng", ChannelID: "c"}, {Name: "art"}})

	ds, err := d.List(context.Background())
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.Equal(t, []string{"art", "eng", "ops"}, []string{ds[0].Name, ds[1].Name, ds[2].Name})
	assert.Equal(t, "c", ds[1].ChannelID)
}
