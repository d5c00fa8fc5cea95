// Package indexdb keeps queryable indexes of moved items and applied rescans.
// The JSONL audit log stays the source of truth; indexes may drop records
// when their writer falls behind.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"voxelpipes.ai/internal/protocol"
	"voxelpipes.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB
	// runID tells this process's transfers apart from earlier runs; ticks
	// restart at zero on every start.
	runID      string
	commitWait time.Duration

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTransfer atomic.Uint64
	dropRescan   atomic.Uint64
	written      atomic.Uint64
}

type reqKind int

const (
	reqTransfer reqKind = iota + 1
	reqRescan
	reqSync
)

type req struct {
	kind reqKind

	transfer protocol.ItemMovedMsg
	rescan   protocol.RescanMsg
	done     chan struct{}
}

// Stats reports queue pressure of the writer goroutine.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropTransferTotal uint64
	DropRescanTotal   uint64
	// WrittenTotal counts committed rows only.
	WrittenTotal uint64
}

// TransferTotal aggregates moved items per world and item id.
type TransferTotal struct {
	WorldID   string
	Item      string
	Count     int64
	Transfers int64
	LastTick  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536, 2*time.Second)
}

func openSQLite(path string, queue int, commitWait time.Duration) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	runID := uuid.NewString()
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('last_run_id',?)`, runID); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:         db,
		runID:      runID,
		commitWait: commitWait,
		ch:         make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	if err := migrateTransfersV1(db); err != nil {
		return fmt.Errorf("migrate transfers: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			applied_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transfers (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			world_id TEXT NOT NULL,
			item TEXT NOT NULL,
			count INTEGER NOT NULL,
			from_x INTEGER NOT NULL,
			from_y INTEGER NOT NULL,
			from_z INTEGER NOT NULL,
			to_x INTEGER NOT NULL,
			to_y INTEGER NOT NULL,
			to_z INTEGER NOT NULL,
			path_len INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_world_item ON transfers(world_id, item);`,
		`CREATE TABLE IF NOT EXISTS rescans (
			scan_id TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			world_id TEXT NOT NULL,
			trigger TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			networks INTEGER NOT NULL,
			nodes INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			duration_ms REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rescans_world_tick ON rescans(world_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','2')`)
	return err
}

// migrateTransfersV1 moves rows keyed by (tick, seq) into the run-keyed table.
// Old rows share the run id "v1".
func migrateTransfersV1(db *sql.DB) error {
	var tables, hasRun int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='transfers'`).Scan(&tables); err != nil {
		return err
	}
	if tables == 0 {
		return nil
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('transfers') WHERE name='run_id'`).Scan(&hasRun); err != nil {
		return err
	}
	if hasRun > 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`ALTER TABLE transfers RENAME TO transfers_v1`,
		`CREATE TABLE transfers (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			world_id TEXT NOT NULL,
			item TEXT NOT NULL,
			count INTEGER NOT NULL,
			from_x INTEGER NOT NULL,
			from_y INTEGER NOT NULL,
			from_z INTEGER NOT NULL,
			to_x INTEGER NOT NULL,
			to_y INTEGER NOT NULL,
			to_z INTEGER NOT NULL,
			path_len INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		)`,
		`INSERT INTO transfers SELECT 'v1',tick,seq,world_id,item,count,from_x,from_y,from_z,to_x,to_y,to_z,path_len FROM transfers_v1`,
		`DROP TABLE transfers_v1`,
	} {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteItemMoved(m protocol.ItemMovedMsg) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTransfer, transfer: m}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTransfer.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteRescan(m protocol.RescanMsg) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqRescan, rescan: m}:
	default:
		s.dropRescan.Add(1)
	}
	return nil
}

// Sync blocks until every record queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunID identifies the rows this process writes.
func (s *SQLiteIndex) RunID() string { return s.runID }

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTransferTotal: s.dropTransfer.Load(),
		DropRescanTotal:   s.dropRescan.Load(),
		WrittenTotal:      s.written.Load(),
	}
}

// UpsertTuning stores the tuning values actually applied, keyed by digest.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	_, err = s.db.Exec(`INSERT OR REPLACE INTO tuning(digest,json,applied_at) VALUES(?,?,?)`,
		hex.EncodeToString(sum[:]), string(b), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// TransferTotals sums transfers per world and item, ordered by world then item.
func (s *SQLiteIndex) TransferTotals(ctx context.Context) ([]TransferTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT world_id, item, SUM(count), COUNT(*), MAX(tick)
		FROM transfers
		GROUP BY world_id, item
		ORDER BY world_id, item`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferTotal
	for rows.Next() {
		var (
			t    TransferTotal
			last int64
		)
		if err := rows.Scan(&t.WorldID, &t.Item, &t.Count, &t.Transfers, &last); err != nil {
			return nil, err
		}
		t.LastTick = uint64(last)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RescanCount returns how many rescans were recorded for world ("" for all).
func (s *SQLiteIndex) RescanCount(ctx context.Context, world string) (int64, error) {
	var n int64
	q := `SELECT COUNT(*) FROM rescans`
	args := []any{}
	if world != "" {
		q += ` WHERE world_id = ?`
		args = append(args, world)
	}
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTransfer, _ := s.db.Prepare(`INSERT INTO transfers(run_id,tick,seq,world_id,item,count,from_x,from_y,from_z,to_x,to_y,to_z,path_len) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertRescan, _ := s.db.Prepare(`INSERT OR REPLACE INTO rescans(scan_id,tick,world_id,trigger,x,y,z,networks,nodes,removed,duration_ms) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTransfer != nil {
			_ = insertTransfer.Close()
		}
		if insertRescan != nil {
			_ = insertRescan.Close()
		}
	}()

	commitWait := s.commitWait
	if commitWait <= 0 {
		commitWait = 2 * time.Second
	}
	var (
		tx          *sql.Tx
		opCount     int
		lastCommit  = time.Now()
		commitEvery = 2000

		// seq only has to be unique within this run.
		transferSeq int64
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err == nil {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitWait {
			commit()
		}
	}

	ticker := time.NewTicker(commitWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case <-ticker.C:
			flushIfNeeded()
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}

		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTransfer:
			m := r.transfer
			seq := transferSeq
			transferSeq++
			if insertTransfer != nil {
				if _, err := tx.Stmt(insertTransfer).Exec(
					s.runID,
					int64(m.Tick),
					seq,
					m.WorldID,
					m.Item.Item,
					m.Item.Count,
					m.From[0], m.From[1], m.From[2],
					m.To[0], m.To[1], m.To[2],
					len(m.Path),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqRescan:
			m := r.rescan
			if insertRescan != nil {
				if _, err := tx.Stmt(insertRescan).Exec(
					m.ScanID,
					int64(m.Tick),
					m.WorldID,
					m.Trigger,
					m.Changed[0], m.Changed[1], m.Changed[2],
					m.Networks,
					m.Nodes,
					m.Removed,
					m.DurationMS,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}
}
