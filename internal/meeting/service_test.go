package meeting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "meetbot/pkg/logx"
)

type memRepo struct {
	mu        sync.Mutex
	meetings  []Meeting
	divisions []Division
	failWrite error
}

func (r *memRepo) Meetings(context.Context) ([]Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Meeting(nil), r.meetings...), nil
}

func (r *memRepo) UpdateMeetings(_ context.Context, fn func([]Meeting) ([]Meeting, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := fn(append([]Meeting(nil), r.meetings...))
	if err != nil {
		return err
	}
	if r.failWrite != nil {
		return r.failWrite
	}
	r.meetings = next
	return nil
}

func (r *memRepo) Divisions(context.Context) ([]Division, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Division(nil), r.divisions...), nil
}

func (r *memRepo) UpdateDivisions(_ context.Context, fn func([]Division) ([]Division, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := fn(append([]Division(nil), r.divisions...))
	if err != nil {
		return err
	}
	r.divisions = next
	return nil
}

type auditLog struct {
	mu      sync.Mutex
	entries []string
}

func (a *auditLog) Record(_ context.Context, action, target string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, fmt.Sprintf("%s %s %v", action, target, err == nil))
}

func newTestService(repo *memRepo) (*Service, *auditLog) {
	audit := &auditLog{}
	s := NewService(repo, audit, logx.Nop())
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return s, audit
}

func TestService_CreateAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &memRepo{}
	s, audit := newTestService(repo)

	m, err := s.Create(ctx, CreateInput{Name: " standup ", Division: "eng", At: at(2025, 1, 6, 14, 0).Add(42 * time.Second), SendHeadsUp: true})
	require.NoError(t, err)
	assert.Equal(t, "id-1", m.ID)
	assert.Equal(t, "standup", m.Name)
	assert.True(t, m.When.HasDate())
	assert.True(t, m.When.HasClock())
	assert.Equal(t, at(2025, 1, 6, 14, 0), m.When.Resolve(at(2000, 1, 1, 0, 0)))

	_, err = s.Create(ctx, CreateInput{Name: "standup", Division: "ops", At: at(2025, 1, 7, 9, 0), Recurring: true})
	require.NoError(t, err)

	got, err := s.Get(ctx, "id-2")
	require.NoError(t, err)
	assert.Equal(t, "ops", got.Division)

	require.NoError(t, s.DeleteByID(ctx, "id-1"))
	assert.ErrorIs(t, s.DeleteByID(ctx, "id-1"), ErrNotFound)

	n, err := s.DeleteByName(ctx, "standup")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Equal(t, []string{
		"meeting.create id-1 true",
		"meeting.create id-2 true",
		"meeting.delete id-1 true",
		"meeting.delete id-1 true",
		"meeting.delete_by_name standup true",
	}, audit.entries)
}

func TestService_CreateValidates(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(&memRepo{})
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{Division: "eng", At: at(2025, 1, 1, 0, 0)})
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = s.Create(ctx, CreateInput{Name: "x", At: at(2025, 1, 1, 0, 0)})
	assert.ErrorIs(t, err, ErrDivisionNeeded)

	_, err = s.Create(ctx, CreateInput{Name: "x", Division: "eng"})
	assert.ErrorIs(t, err, ErrInvalidWhen)
}

func TestService_CreateSurfacesWriteFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk full")
	s, audit := newTestService(&memRepo{failWrite: boom})

	_, err := s.Create(context.Background(), CreateInput{Name: "x", Division: "eng", At: at(2025, 1, 1, 0, 0)})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"meeting.create id-1 false"}, audit.entries)
}

func TestService_Divisions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &memRepo{}
	s, _ := newTestService(repo)

	require.NoError(t, s.AddDivision(ctx, Division{Name: "eng", ChannelID: "1", RoleID: "r1"}))
	require.NoError(t, s.AddDivision(ctx, Division{Name: "ops", ChannelID: "2"}))
	require.NoError(t, s.AddDivision(ctx, Division{Name: "eng", ChannelID: "3", RoleID: "r3"}))
	assert.Error(t, s.AddDivision(ctx, Division{Name: "bad"}))

	ds, err := s.Divisions(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, Division{Name: "eng", ChannelID: "3", RoleID: "r3"}, ds[0])

	require.NoError(t, s.RemoveDivision(ctx, "ops"))
	assert.Error(t, s.RemoveDivision(ctx, "ops"))
}
