package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbot/internal/meeting"
	logx "meetbot/pkg/logx"
)

func openTemp(t *testing.T, driver string) Store {
	t.Helper()
	cfg := Config{Driver: driver}
	switch driver {
	case "file":
		cfg.Path = filepath.Join(t.TempDir(), "data.json")
	case "sqlite":
		cfg.Path = filepath.Join(t.TempDir(), "meetbot.db")
	case "postgres":
		cfg.DSN = os.Getenv("MEETBOT_TEST_PG_DSN")
		if cfg.DSN == "" {
			t.Skip("MEETBOT_TEST_PG_DSN not set")
		}
	}
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	if driver == "postgres" {
		resetPostgres(t, st)
	}
	return st
}

func resetPostgres(t *testing.T, st Store) {
	ctx := context.Background()
	require.NoError(t, st.UpdateMeetings(ctx, func([]meeting.Meeting) ([]meeting.Meeting, error) { return nil, nil }))
	require.NoError(t, st.UpdateDivisions(ctx, func([]meeting.Division) ([]meeting.Division, error) { return nil, nil }))
}

var drivers = []string{"file", "sqlite", "postgres"}

func sample(id string) meeting.Meeting {
	return meeting.Meeting{
		ID:          id,
		Name:        "standup " + id,
		Division:    "eng",
		When:        meeting.WhenOf(time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)),
		Recurring:   true,
		SendHeadsUp: true,
	}
}

func add(m meeting.Meeting) func([]meeting.Meeting) ([]meeting.Meeting, error) {
	return func(cur []meeting.Meeting) ([]meeting.Meeting, error) { return append(cur, m), nil }
}

func TestStore_MeetingsRoundTrip(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTemp(t, driver)

			ms, err := st.Meetings(ctx)
			require.NoError(t, err)
			assert.Empty(t, ms)

			require.NoError(t, st.UpdateMeetings(ctx, add(sample("a"))))
			require.NoError(t, st.UpdateMeetings(ctx, add(sample("b"))))
			sparse := meeting.Meeting{ID: "c", Name: "sparse", Division: "ops", When: meeting.When{}}
			h, m := 7, 5
			sparse.When.Hour, sparse.When.Minute = &h, &m
			require.NoError(t, st.UpdateMeetings(ctx, add(sparse)))

			ms, err = st.Meetings(ctx)
			require.NoError(t, err)
			require.Len(t, ms, 3)
			assert.Equal(t, sample("a"), ms[0])
			assert.Equal(t, sample("b"), ms[1])
			assert.Equal(t, sparse, ms[2])
			assert.Nil(t, ms[2].When.Year, "absent components stay absent")
		})
	}
}

func TestStore_UpdateFailureWritesNothing(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTemp(t, driver)
			require.NoError(t, st.UpdateMeetings(ctx, add(sample("a"))))

			boom := errors.New("boom")
			err := st.UpdateMeetings(ctx, func(cur []meeting.Meeting) ([]meeting.Meeting, error) {
				return nil, boom
			})
			assert.ErrorIs(t, err, boom)

			err = st.UpdateMeetings(ctx, func(cur []meeting.Meeting) ([]meeting.Meeting, error) {
				return append(cur, sample("a")), nil
			})
			assert.ErrorIs(t, err, ErrDuplicateID)

			ms, err := st.Meetings(ctx)
			require.NoError(t, err)
			assert.Len(t, ms, 1)
		})
	}
}

// A tick-style rewrite racing with appends must never lose an append.
func TestStore_ConcurrentAppendDuringRewrite(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTemp(t, driver)

			const writers, perWriter = 4, 10
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						assert.NoError(t, st.UpdateMeetings(ctx, add(sample(fmt.Sprintf("w%d-%d", w, i)))))
					}
				}(w)
			}
			stop := make(chan struct{})
			ticks := make(chan int, 1)
			go func() {
				n := 0
				defer func() { ticks <- n }()
				for {
					select {
					case <-stop:
						return
					default:
					}
					// Retain everything, but slowly, like a tick that evaluates and dispatches.
					_ = st.UpdateMeetings(ctx, func(cur []meeting.Meeting) ([]meeting.Meeting, error) {
						time.Sleep(time.Millisecond)
						return cur, nil
					})
					n++
				}
			}()
			wg.Wait()
			close(stop)
			assert.Positive(t, <-ticks)

			ms, err := st.Meetings(ctx)
			require.NoError(t, err)
			assert.Len(t, ms, writers*perWriter)
		})
	}
}

func TestStore_Divisions(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTemp(t, driver)

			eng := meeting.Division{Name: "eng", ChannelID: "100", RoleID: "200", VoiceChannelID: "300"}
			require.NoError(t, st.UpdateDivisions(ctx, func(cur []meeting.Division) ([]meeting.Division, error) {
				return append(cur, eng, meeting.Division{Name: "ops", ChannelID: "101"}), nil
			}))
			err := st.UpdateDivisions(ctx, func(cur []meeting.Division) ([]meeting.Division, error) {
				return append(cur, eng), nil
			})
			assert.Error(t, err)

			ds, err := st.Divisions(ctx)
			require.NoError(t, err)
			require.Len(t, ds, 2)
			assert.Equal(t, eng, ds[0])
		})
	}
}

func TestStore_DedupAndCompact(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTemp(t, driver)

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			require.NoError(t, st.PutDedup(ctx, "live", until))
			require.NoError(t, st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)))

			got, ok, err := st.GetDedup(ctx, "live")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, until.Equal(got))

			require.NoError(t, st.Compact(ctx))

			_, ok, err = st.GetDedup(ctx, "stale")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = st.GetDedup(ctx, "live")
			require.NoError(t, err)
			assert.True(t, ok)

			_, ok, err = st.GetDedup(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_AppendAudit(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			st := openTemp(t, driver)
			a := Auditor{Store: st, Actor: "test", Log: logx.Nop()}
			a.Record(context.Background(), "meeting.create", "id-1", nil)
			require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{Action: "x", Error: "bad"}))
		})
	}
}

func TestOpen_Disabled(t *testing.T) {
	_, err := Open(Config{Driver: "none"}, logx.Nop())
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(Config{Driver: "bogus"}, logx.Nop())
	assert.Error(t, err)
}
