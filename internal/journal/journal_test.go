package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/nrcsync/internal/dispatch"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/operations"
	"github.com/xtxerr/nrcsync/internal/orchestrator"
	"github.com/xtxerr/nrcsync/internal/production"
)

func newJournal(t *testing.T, flushSize int) *Journal {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "journal"))
	cfg.FlushSize = flushSize
	j, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return j
}

func TestFlushAndReadDir(t *testing.T) {
	j := newJournal(t, 100)

	j.Observe(dispatch.Outcome{
		Kind:              operations.KindUpdateRundown,
		RundownExternalID: "rd0",
		StartedAt:         time.UnixMilli(1700000000000),
		Duration:          1500 * time.Microsecond,
		Result: &orchestrator.Result{
			OperationID: "op-1",
			Action:      operations.ActionUpdate,
			Summary:     production.Summary{Changed: 2, Renamed: 1},
			Resynced:    true,
		},
	})
	j.Observe(dispatch.Outcome{
		Kind:              operations.KindRemoveRundown,
		RundownExternalID: "rd1",
		Err:               errors.ErrLockTimeout,
	})
	if got := j.Pending(); got != 2 {
		t.Fatalf("Pending = %d, want 2", got)
	}

	path, err := j.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if path == "" {
		t.Fatal("Flush wrote no file")
	}
	if j.Pending() != 0 {
		t.Error("buffer should be empty after flush")
	}

	records, err := ReadDir(j.cfg.Dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	r := records[0]
	if r.OperationID != "op-1" || r.Kind != operations.KindUpdateRundown || r.RundownExternalID != "rd0" {
		t.Errorf("unexpected identity: %+v", r)
	}
	if r.StartedAtMs != 1700000000000 || r.DurationMs != 1.5 {
		t.Errorf("unexpected timing: started %d duration %v", r.StartedAtMs, r.DurationMs)
	}
	if r.SegmentsChanged != 2 || r.SegmentsRenamed != 1 || !r.Resynced || r.Action != "update" {
		t.Errorf("unexpected summary: %+v", r)
	}

	failed := records[1]
	if failed.ErrorCode != errors.CodeLockTimeout || failed.Error == "" {
		t.Errorf("unexpected error fields: code %d error %q", failed.ErrorCode, failed.Error)
	}
}

func TestFlushEmptyWritesNothing(t *testing.T) {
	j := newJournal(t, 100)

	path, err := j.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if path != "" {
		t.Errorf("Flush wrote %s for an empty buffer", path)
	}
	files, _ := Files(j.cfg.Dir)
	if len(files) != 0 {
		t.Errorf("got %d files, want 0", len(files))
	}
}

func TestFilesAreOrderedAcrossFlushes(t *testing.T) {
	j := newJournal(t, 100)
	j.now = func() time.Time { return time.UnixMilli(1700000000000) }

	for i := 0; i < 3; i++ {
		j.Append(Record{Kind: fmt.Sprintf("k%d", i)})
		if _, err := j.Flush(); err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
	}

	files, err := Files(j.cfg.Dir)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3", len(files))
	}

	records, err := ReadDir(j.cfg.Dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for i, r := range records {
		if want := fmt.Sprintf("k%d", i); r.Kind != want {
			t.Errorf("record %d kind = %s, want %s", i, r.Kind, want)
		}
	}
}

func TestFlushSizeTriggersLoop(t *testing.T) {
	j := newJournal(t, 2)
	j.cfg.FlushInterval = time.Hour
	j.Start()
	defer j.Close()

	j.Append(Record{Kind: "a"})
	j.Append(Record{Kind: "b"})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if files, _ := Files(j.cfg.Dir); len(files) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("flush size did not trigger a flush")
}

func TestCloseFlushesAndDropsLateRecords(t *testing.T) {
	j := newJournal(t, 100)
	j.Start()

	j.Append(Record{Kind: "a"})
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	j.Append(Record{Kind: "late"})

	records, err := ReadDir(j.cfg.Dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(records) != 1 || records[0].Kind != "a" {
		t.Errorf("got %+v, want the single record a", records)
	}
}

func TestReadDirMissing(t *testing.T) {
	records, err := ReadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records from a missing dir", len(records))
	}
}

func TestTempFilesAreIgnored(t *testing.T) {
	j := newJournal(t, 100)
	if err := os.WriteFile(filepath.Join(j.cfg.Dir, "journal-0000000000001-000001.parquet.tmp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	files, err := Files(j.cfg.Dir)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("temp file listed: %v", files)
	}
}
