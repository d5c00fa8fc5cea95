package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"voxelpipes.ai/internal/protocol"
	"voxelpipes.ai/internal/sim/tuning"
)

func moved(tick uint64, world, item string, n int) protocol.ItemMovedMsg {
	return protocol.ItemMovedMsg{
		Type:            protocol.TypeItemMoved,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		WorldID:         world,
		From:            [3]int{0, 64, -1},
		To:              [3]int{4, 64, -1},
		Item:            protocol.ItemStack{Item: item, Count: n},
		Path:            [][3]int{{0, 64, 0}, {1, 64, 0}, {2, 64, 0}},
	}
}

func TestSQLiteIndex_TransferTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	_ = idx.WriteItemMoved(moved(1, "overworld", "DIAMOND", 16))
	_ = idx.WriteItemMoved(moved(1, "overworld", "EMERALD", 3))
	_ = idx.WriteItemMoved(moved(2, "overworld", "DIAMOND", 4))
	_ = idx.WriteItemMoved(moved(2, "nether", "QUARTZ", 9))
	_ = idx.WriteRescan(protocol.RescanMsg{
		Type:     protocol.TypeRescan,
		Tick:     0,
		WorldID:  "overworld",
		ScanID:   "3f1c0b9e-8f0a-4d1e-9a55-0c6b0f4f6d11",
		Trigger:  "BLOCK_PLACED",
		Changed:  [3]int{1, 64, 0},
		Networks: 1,
		Nodes:    5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := idx.TransferTotals(ctx)
	if err != nil {
		t.Fatalf("TransferTotals: %v", err)
	}
	want := []TransferTotal{
		{WorldID: "nether", Item: "QUARTZ", Count: 9, Transfers: 1, LastTick: 2},
		{WorldID: "overworld", Item: "DIAMOND", Count: 20, Transfers: 2, LastTick: 2},
		{WorldID: "overworld", Item: "EMERALD", Count: 3, Transfers: 1, LastTick: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("totals=%+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: got %+v want %+v", i, got[i], want[i])
		}
	}

	n, err := idx.RescanCount(ctx, "overworld")
	if err != nil || n != 1 {
		t.Fatalf("RescanCount=%d err=%v", n, err)
	}
	if n, _ := idx.RescanCount(ctx, "nether"); n != 0 {
		t.Fatalf("nether rescans=%d", n)
	}
	if st := idx.Stats(); st.WrittenTotal != 5 {
		t.Fatalf("WrittenTotal=%d", st.WrittenTotal)
	}
}

func TestSQLiteIndex_ReopenKeepsRowsAndSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = idx.WriteItemMoved(moved(7, "w", "IRON_INGOT", 1))
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Writes after close are ignored.
	_ = idx.WriteItemMoved(moved(7, "w", "IRON_INGOT", 1))

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = idx.WriteItemMoved(moved(7, "w", "IRON_INGOT", 2))
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var rows, sum int
	if err := db.QueryRow(`SELECT COUNT(*), SUM(count) FROM transfers WHERE tick=7`).Scan(&rows, &sum); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if rows != 2 || sum != 3 {
		t.Fatalf("rows=%d sum=%d, want 2 rows summing to 3", rows, sum)
	}
	var tunings int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tuning`).Scan(&tunings); err != nil || tunings != 1 {
		t.Fatalf("tuning rows=%d err=%v", tunings, err)
	}
}

func TestSQLiteIndex_RestartAtLowerTickKeepsEarlierRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	firstRun := idx.RunID()
	_ = idx.WriteItemMoved(moved(1, "w", "IRON_INGOT", 16))
	_ = idx.WriteItemMoved(moved(2, "w", "IRON_INGOT", 16))
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A new process starts counting ticks from zero again.
	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	if idx.RunID() == firstRun {
		t.Fatalf("run id reused across opens: %s", firstRun)
	}
	_ = idx.WriteItemMoved(moved(1, "w", "IRON_INGOT", 3))
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := idx.TransferTotals(ctx)
	if err != nil {
		t.Fatalf("TransferTotals: %v", err)
	}
	want := TransferTotal{WorldID: "w", Item: "IRON_INGOT", Count: 35, Transfers: 3, LastTick: 2}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("totals=%+v want %+v", got, want)
	}
}

func TestMigrateTransfersV1_KeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	for _, q := range []string{
		`CREATE TABLE transfers (tick INTEGER NOT NULL, seq INTEGER NOT NULL, world_id TEXT NOT NULL, item TEXT NOT NULL, count INTEGER NOT NULL, from_x INTEGER NOT NULL, from_y INTEGER NOT NULL, from_z INTEGER NOT NULL, to_x INTEGER NOT NULL, to_y INTEGER NOT NULL, to_z INTEGER NOT NULL, path_len INTEGER NOT NULL, PRIMARY KEY (tick, seq))`,
		`INSERT INTO transfers VALUES(1,0,'w','DIAMOND',5,0,0,0,1,0,0,2)`,
	} {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	_ = db.Close()

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()
	_ = idx.WriteItemMoved(moved(1, "w", "DIAMOND", 2))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got, err := idx.TransferTotals(ctx)
	if err != nil {
		t.Fatalf("TransferTotals: %v", err)
	}
	if len(got) != 1 || got[0].Count != 7 || got[0].Transfers != 2 {
		t.Fatalf("totals=%+v", got)
	}
}

func TestSQLiteIndex_CountsOnCommitAndCommitsOnTimer(t *testing.T) {
	idx, err := openSQLite(filepath.Join(t.TempDir(), "index.db"), 16, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	defer idx.Close()

	_ = idx.WriteItemMoved(moved(1, "w", "DIAMOND", 1))
	_ = idx.WriteItemMoved(moved(1, "w", "DIAMOND", 1))

	// No Sync and no further writes: the commit timer alone must land the rows.
	deadline := time.Now().Add(5 * time.Second)
	for idx.Stats().WrittenTotal != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("WrittenTotal=%d, rows never committed", idx.Stats().WrittenTotal)
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := idx.TransferTotals(ctx)
	if err != nil {
		t.Fatalf("TransferTotals: %v", err)
	}
	if len(got) != 1 || got[0].Count != 2 {
		t.Fatalf("totals=%+v", got)
	}
}

func TestSQLiteIndex_UncommittedRowsAreNotCounted(t *testing.T) {
	idx, err := openSQLite(filepath.Join(t.TempDir(), "index.db"), 16, time.Hour)
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	defer idx.Close()

	_ = idx.WriteItemMoved(moved(1, "w", "DIAMOND", 1))
	deadline := time.Now().Add(5 * time.Second)
	for len(idx.ch) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("writer never picked up the record")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := idx.Stats().WrittenTotal; n != 0 {
		t.Fatalf("WrittenTotal=%d before commit", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n := idx.Stats().WrittenTotal; n != 1 {
		t.Fatalf("WrittenTotal=%d after commit", n)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error")
	}
}
