package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"meetbot/internal/meeting"
	logx "meetbot/pkg/logx"
)

// fileStore keeps everything in plain files.
//
// Files:
//   - <path>                       (JSON document: meetings, divisions, unknown keys kept)
//   - <prefix>.lock                (cross-process write lock)
//   - <prefix>.audit.jsonl         (append-only JSON Lines)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// The document is re-read inside every update, so edits made by another process
// holding the lock are never overwritten. The dedup journal is periodically
// compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	closed bool

	dataPath string
	lock     *fileLock

	auditFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli

	dedupWrites int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

// document is the on-disk shape: {"meetings": [...], "divisions": [...], ...}.
type document struct {
	Meetings  []meeting.Meeting
	Divisions []meeting.Division
	extra     map[string]json.RawMessage
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// Fail early on a corrupt document rather than at the first tick.
	if _, err := readDocument(path); err != nil {
		return nil, err
	}

	lock, err := openFileLock(prefix + ".lock")
	if err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = lock.close()
		return nil, err
	}

	dedup := map[string]int64{}
	_ = loadDedupSnapshot(snapPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		_ = lock.close()
		return nil, err
	}

	log.Debug("file store opened", logx.String("path", path))
	return &fileStore{
		log:               log,
		dataPath:          path,
		lock:              lock,
		auditFile:         af,
		dedupSnapshotPath: snapPath,
		dedupJournalFile:  jf,
		dedup:             dedup,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.auditFile.Close(), s.dedupJournalFile.Close(), s.lock.close())
}

func (s *fileStore) Meetings(ctx context.Context) ([]meeting.Meeting, error) {
	doc, err := s.snapshot(ctx)
	return doc.Meetings, err
}

func (s *fileStore) Divisions(ctx context.Context) ([]meeting.Division, error) {
	doc, err := s.snapshot(ctx)
	return doc.Divisions, err
}

func (s *fileStore) UpdateMeetings(ctx context.Context, fn func([]meeting.Meeting) ([]meeting.Meeting, error)) error {
	return s.update(ctx, func(doc *document) error {
		next, err := fn(doc.Meetings)
		if err != nil {
			return err
		}
		if err := checkMeetings(next); err != nil {
			return err
		}
		doc.Meetings = next
		return nil
	})
}

func (s *fileStore) UpdateDivisions(ctx context.Context, fn func([]meeting.Division) ([]meeting.Division, error)) error {
	return s.update(ctx, func(doc *document) error {
		next, err := fn(doc.Divisions)
		if err != nil {
			return err
		}
		if err := checkDivisions(next); err != nil {
			return err
		}
		doc.Divisions = next
		return nil
	})
}

func (s *fileStore) snapshot(ctx context.Context) (document, error) {
	if err := ctx.Err(); err != nil {
		return document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return document{}, ErrClosed
	}
	// Writers replace the file by rename, so a plain read is never torn.
	return readDocument(s.dataPath)
}

func (s *fileStore) update(ctx context.Context, fn func(*document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.lock.lock(); err != nil {
		return fmt.Errorf("lock %s: %w", s.dataPath, err)
	}
	defer func() {
		if err := s.lock.unlock(); err != nil {
			s.log.Warn("unlock failed", logx.Err(err))
		}
	}()

	doc, err := readDocument(s.dataPath)
	if err != nil {
		return err
	}
	before, err := doc.encode()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	b, err := doc.encode()
	if err != nil {
		return err
	}
	// Most ticks write back what they read; skip the rewrite and fsync.
	if bytes.Equal(before, b) {
		return nil
	}
	return writeFileAtomic(s.dataPath, b)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.dedup[key] = ms

	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		if err := s.compactLocked(time.Now()); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.compactLocked(time.Now())
}

func (s *fileStore) compactLocked(now time.Time) error {
	pruneExpiredDedup(s.dedup, now)

	b, err := json.Marshal(s.dedup)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.dedupSnapshotPath, b); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, 2)
	return err
}

func readDocument(path string) (document, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return document{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return document{}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return document{}, fmt.Errorf("parse %s: %w", path, err)
	}
	doc := document{extra: fields}
	if v, ok := fields["meetings"]; ok {
		if err := json.Unmarshal(v, &doc.Meetings); err != nil {
			return document{}, fmt.Errorf("parse %s meetings: %w", path, err)
		}
		delete(fields, "meetings")
	}
	if v, ok := fields["divisions"]; ok {
		if err := json.Unmarshal(v, &doc.Divisions); err != nil {
			return document{}, fmt.Errorf("parse %s divisions: %w", path, err)
		}
		delete(fields, "divisions")
	}
	return doc, nil
}

func (d document) encode() ([]byte, error) {
	out := make(map[string]any, len(d.extra)+2)
	for k, v := range d.extra {
		out[k] = v
	}
	ms, ds := d.Meetings, d.Divisions
	if ms == nil {
		ms = []meeting.Meeting{}
	}
	if ds == nil {
		ds = []meeting.Division{}
	}
	out["meetings"] = ms
	out["divisions"] = ds
	return json.MarshalIndent(out, "", "  ")
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return s.Err()
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	cut := now.UnixMilli()
	for k, v := range m {
		if v < cut {
			delete(m, k)
		}
	}
}
