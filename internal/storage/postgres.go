package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meetbot/internal/meeting"
	logx "meetbot/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresSchema string

// Advisory lock keys; one per mutable list.
const (
	lockMeetings  int64 = 0x6d656574 // "meet"
	lockDivisions int64 = 0x64697669 // "divi"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened")
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *postgresStore) Meetings(ctx context.Context) ([]meeting.Meeting, error) {
	return pgMeetings(ctx, s.pool)
}

func pgMeetings(ctx context.Context, q pgQuerier) ([]meeting.Meeting, error) {
	rows, err := q.Query(ctx,
		`SELECT id, name, division, time_json, recurring, send_heads_up FROM meetings ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []meeting.Meeting
	for rows.Next() {
		var (
			m    meeting.Meeting
			when []byte
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Division, &when, &m.Recurring, &m.SendHeadsUp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(when, &m.When); err != nil {
			return nil, fmt.Errorf("meeting %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *postgresStore) UpdateMeetings(ctx context.Context, fn func([]meeting.Meeting) ([]meeting.Meeting, error)) error {
	return s.inTx(ctx, lockMeetings, func(tx pgx.Tx) error {
		cur, err := pgMeetings(ctx, tx)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if err := checkMeetings(next); err != nil {
			return err
		}
		b := &pgx.Batch{}
		b.Queue(`DELETE FROM meetings`)
		for i, m := range next {
			when, err := json.Marshal(m.When)
			if err != nil {
				return err
			}
			b.Queue(`INSERT INTO meetings(id, position, name, division, time_json, recurring, send_heads_up) VALUES($1,$2,$3,$4,$5,$6,$7)`,
				m.ID, i, m.Name, m.Division, string(when), m.Recurring, m.SendHeadsUp)
		}
		return tx.SendBatch(ctx, b).Close()
	})
}

func (s *postgresStore) Divisions(ctx context.Context) ([]meeting.Division, error) {
	return pgDivisions(ctx, s.pool)
}

func pgDivisions(ctx context.Context, q pgQuerier) ([]meeting.Division, error) {
	rows, err := q.Query(ctx,
		`SELECT name, channel_id, role_id, voice_channel_id FROM divisions ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []meeting.Division
	for rows.Next() {
		var d meeting.Division
		if err := rows.Scan(&d.Name, &d.ChannelID, &d.RoleID, &d.VoiceChannelID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *postgresStore) UpdateDivisions(ctx context.Context, fn func([]meeting.Division) ([]meeting.Division, error)) error {
	return s.inTx(ctx, lockDivisions, func(tx pgx.Tx) error {
		cur, err := pgDivisions(ctx, tx)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if err := checkDivisions(next); err != nil {
			return err
		}
		b := &pgx.Batch{}
		b.Queue(`DELETE FROM divisions`)
		for i, d := range next {
			b.Queue(`INSERT INTO divisions(name, position, channel_id, role_id, voice_channel_id) VALUES($1,$2,$3,$4,$5)`,
				d.Name, i, d.ChannelID, d.RoleID, d.VoiceChannelID)
		}
		return tx.SendBatch(ctx, b).Close()
	})
}

// inTx runs fn in a transaction holding a transaction-scoped advisory lock, so every
// process sharing the database serializes on the same key.
func (s *postgresStore) inTx(ctx context.Context, key int64, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return err
		}
		return fn(tx)
	})
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor, action, target, ok, err, meta) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.At, nullStr(e.Actor), e.Action, nullStr(e.Target), e.OK, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *postgresStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dedup(key, until) VALUES($1,$2)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	return err
}

func (s *postgresStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.pool.QueryRow(ctx, `SELECT until FROM dedup WHERE key = $1`, key).Scan(&ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *postgresStore) Compact(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dedup WHERE until < $1`, time.Now().UnixMilli())
	return err
}
