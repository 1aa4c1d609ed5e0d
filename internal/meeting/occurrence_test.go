package meeting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronSpec(t *testing.T) {
	t.Parallel()
	m := Meeting{When: WhenOf(at(2025, 1, 1, 9, 5)), Recurring: true}
	assert.Equal(t, "5 9 * * 3", CronSpec(m, at(2025, 6, 1, 0, 0)))
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()
	weekly := Meeting{ID: "r", When: WhenOf(at(2025, 1, 1, 9, 0)), Recurring: true}

	next, ok := NextOccurrence(at(2025, 1, 6, 10, 30), weekly)
	require.True(t, ok)
	assert.Equal(t, at(2025, 1, 8, 9, 0), next)

	next, ok = NextOccurrence(at(2025, 1, 8, 9, 0).Add(20*time.Second), weekly)
	require.True(t, ok)
	assert.Equal(t, at(2025, 1, 8, 9, 0), next, "current minute counts")

	next, ok = NextOccurrence(at(2025, 1, 8, 9, 1), weekly)
	require.True(t, ok)
	assert.Equal(t, at(2025, 1, 15, 9, 0), next)

	single := oneOff(at(2025, 1, 6, 14, 0), false)
	next, ok = NextOccurrence(at(2025, 1, 6, 13, 0), single)
	require.True(t, ok)
	assert.Equal(t, at(2025, 1, 6, 14, 0), next)

	_, ok = NextOccurrence(at(2025, 1, 6, 14, 1), single)
	assert.False(t, ok)
}

func TestUpcoming(t *testing.T) {
	t.Parallel()
	ms := []Meeting{
		{ID: "past", When: WhenOf(at(2025, 1, 2, 9, 0))},
		{ID: "later", When: WhenOf(at(2025, 1, 9, 12, 0))},
		{ID: "weekly", When: WhenOf(at(2025, 1, 1, 9, 0)), Recurring: true},
		// Stored in the future; still fires on every matching weekday.
		{ID: "future-weekly", When: WhenOf(at(2025, 2, 7, 8, 0)), Recurring: true},
	}

	got, err := Upcoming(at(2025, 1, 6, 0, 0), at(2025, 1, 16, 0, 0), ms)
	require.NoError(t, err)

	var ids []string
	var times []time.Time
	for _, o := range got {
		ids = append(ids, o.Meeting.ID)
		times = append(times, o.At)
	}
	assert.Equal(t, []string{"weekly", "later", "future-weekly", "weekly"}, ids)
	assert.Equal(t, []time.Time{
		at(2025, 1, 8, 9, 0),
		at(2025, 1, 9, 12, 0),
		at(2025, 1, 10, 8, 0),
		at(2025, 1, 15, 9, 0),
	}, times)
}

func TestUpcomingMatchesEvaluate(t *testing.T) {
	t.Parallel()
	m := Meeting{ID: "weekly", When: WhenOf(at(2025, 1, 1, 9, 0)), Recurring: true}
	from, until := at(2025, 1, 1, 0, 0), at(2025, 2, 1, 0, 0)

	occ, err := Upcoming(from, until, []Meeting{m})
	require.NoError(t, err)

	var fired []time.Time
	for now := from; now.Before(until); now = now.Add(time.Minute) {
		if Evaluate(now, m).Now {
			fired = append(fired, now)
		}
	}
	require.Len(t, occ, len(fired))
	for i := range occ {
		assert.Equal(t, fired[i], occ[i].At)
	}
}
