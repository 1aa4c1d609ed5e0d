package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"meetbot/internal/meeting"
	logx "meetbot/pkg/logx"
)

//go:embed migrations_sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	// wmu serializes read-modify-write cycles inside this process; BEGIN IMMEDIATE
	// covers other processes sharing the file.
	wmu sync.Mutex

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *sqliteStore) Meetings(ctx context.Context) ([]meeting.Meeting, error) {
	return sqliteMeetings(ctx, s.db)
}

func sqliteMeetings(ctx context.Context, q querier) ([]meeting.Meeting, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, division, time_json, recurring, send_heads_up FROM meetings ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []meeting.Meeting
	for rows.Next() {
		var (
			m        meeting.Meeting
			when     string
			rec, hup int
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Division, &when, &rec, &hup); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(when), &m.When); err != nil {
			return nil, fmt.Errorf("meeting %s: %w", m.ID, err)
		}
		m.Recurring, m.SendHeadsUp = rec != 0, hup != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateMeetings(ctx context.Context, fn func([]meeting.Meeting) ([]meeting.Meeting, error)) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := sqliteMeetings(ctx, tx)
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM meetings`); err != nil {
			return err
		}
		for i, m := range next {
			when, err := json.Marshal(m.When)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO meetings(id, position, name, division, time_json, recurring, send_heads_up) VALUES(?,?,?,?,?,?,?)`,
				m.ID, i, m.Name, m.Division, string(when), boolInt(m.Recurring), boolInt(m.SendHeadsUp),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) Divisions(ctx context.Context) ([]meeting.Division, error) {
	return sqliteDivisions(ctx, s.db)
}

func sqliteDivisions(ctx context.Context, q querier) ([]meeting.Division, error) {
	rows, err := q.QueryContext(ctx,
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

func (s *sqliteStore) UpdateDivisions(ctx context.Context, fn func([]meeting.Division) ([]meeting.Division, error)) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := sqliteDivisions(ctx, tx)
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM divisions`); err != nil {
			return err
		}
		for i, d := range next {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO divisions(name, position, channel_id, role_id, voice_channel_id) VALUES(?,?,?,?,?)`,
				d.Name, i, d.ChannelID, d.RoleID, d.VoiceChannelID,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target, ok, err, meta) VALUES(?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), nullStr(e.Actor), e.Action, nullStr(e.Target), boolInt(e.OK), nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) Compact(ctx context.Context) error {
	if err := s.pruneExpired(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
