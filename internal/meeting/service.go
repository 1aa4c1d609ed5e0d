package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "meetbot/pkg/logx"
)

// Repository is what the use-cases need from storage. UpdateMeetings and
// UpdateDivisions run fn under the store's exclusive read-modify-write lock.
type Repository interface {
	Meetings(ctx context.Context) ([]Meeting, error)
	UpdateMeetings(ctx context.Context, fn func([]Meeting) ([]Meeting, error)) error
	Divisions(ctx context.Context) ([]Division, error)
	UpdateDivisions(ctx context.Context, fn func([]Division) ([]Division, error)) error
}

// Auditor records operator actions. Optional.
type Auditor interface {
	Record(ctx context.Context, action, target string, err error)
}

// CreateInput is the external request to schedule a meeting.
type CreateInput struct {
	Name        string
	Division    string
	At          time.Time
	Recurring   bool
	SendHeadsUp bool
}

func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(in.Division) == "" {
		return ErrDivisionNeeded
	}
	if in.At.IsZero() {
		return fmt.Errorf("%w: time is required", ErrInvalidWhen)
	}
	return nil
}

// Service implements the meeting and division use-cases on top of a Repository.
type Service struct {
	repo  Repository
	audit Auditor
	log   logx.Logger
	newID func() string
}

func NewService(repo Repository, audit Auditor, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{repo: repo, audit: audit, log: log, newID: uuid.NewString}
}

func (s *Service) List(ctx context.Context) ([]Meeting, error) {
	return s.repo.Meetings(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (Meeting, error) {
	ms, err := s.repo.Meetings(ctx)
	if err != nil {
		return Meeting{}, err
	}
	for _, m := range ms {
		if m.ID == id {
			return m, nil
		}
	}
	return Meeting{}, ErrNotFound
}

// Create appends a new meeting. The stored time carries every component, so the
// weekday of recurring meetings is always defined.
func (s *Service) Create(ctx context.Context, in CreateInput) (Meeting, error) {
	if err := in.Validate(); err != nil {
		return Meeting{}, err
	}
	m := Meeting{
		ID:          s.newID(),
		Name:        strings.TrimSpace(in.Name),
		Division:    strings.TrimSpace(in.Division),
		When:        WhenOf(in.At.Truncate(time.Minute)),
		Recurring:   in.Recurring,
		SendHeadsUp: in.SendHeadsUp,
	}
	err := s.repo.UpdateMeetings(ctx, func(cur []Meeting) ([]Meeting, error) {
		return append(cur, m), nil
	})
	s.record(ctx, "meeting.create", m.ID, err)
	if err != nil {
		return Meeting{}, fmt.Errorf("create meeting: %w", err)
	}
	s.log.Info("meeting created", logx.String("id", m.ID), logx.String("name", m.Name), logx.String("division", m.Division), logx.Bool("recurring", m.Recurring))
	return m, nil
}

// DeleteByID removes the meeting with the given id.
func (s *Service) DeleteByID(ctx context.Context, id string) error {
	n, err := s.deleteWhere(ctx, func(m Meeting) bool { return m.ID == id })
	s.record(ctx, "meeting.delete", id, err)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByName removes every meeting with the given name and reports how many went.
func (s *Service) DeleteByName(ctx context.Context, name string) (int, error) {
	name = strings.TrimSpace(name)
	n, err := s.deleteWhere(ctx, func(m Meeting) bool { return m.Name == name })
	s.record(ctx, "meeting.delete_by_name", name, err)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func (s *Service) deleteWhere(ctx context.Context, match func(Meeting) bool) (int, error) {
	removed := 0
	err := s.repo.UpdateMeetings(ctx, func(cur []Meeting) ([]Meeting, error) {
		out := cur[:0:0]
		for _, m := range cur {
			if match(m) {
				removed++
				continue
			}
			out = append(out, m)
		}
		return out, nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete meeting: %w", err)
	}
	return removed, nil
}

func (s *Service) Divisions(ctx context.Context) ([]Division, error) {
	return s.repo.Divisions(ctx)
}

// AddDivision inserts d or replaces the division with the same name.
func (s *Service) AddDivision(ctx context.Context, d Division) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" || strings.TrimSpace(d.ChannelID) == "" {
		return errors.New("division name and channel are required")
	}
	err := s.repo.UpdateDivisions(ctx, func(cur []Division) ([]Division, error) {
		for i := range cur {
			if cur[i].Name == d.Name {
				cur[i] = d
				return cur, nil
			}
		}
		return append(cur, d), nil
	})
	s.record(ctx, "division.upsert", d.Name, err)
	return err
}

// RemoveDivision deletes a division by name. Meetings that reference it are kept;
// their notifications are skipped until the division exists again.
func (s *Service) RemoveDivision(ctx context.Context, name string) error {
	found := false
	err := s.repo.UpdateDivisions(ctx, func(cur []Division) ([]Division, error) {
		out := cur[:0:0]
		for _, d := range cur {
			if d.Name == name {
				found = true
				continue
			}
			out = append(out, d)
		}
		return out, nil
	})
	s.record(ctx, "division.delete", name, err)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("division %q not found", name)
	}
	return nil
}

func (s *Service) record(ctx context.Context, action, target string, err error) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, action, target, err)
}
