package job

import (
	"path/filepath"
	"testing"
)

func TestLedgerRoundTrip(t *testing.T) {
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "resume.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	fp := Fingerprint("book.epub", "piper", "amy")
	other := Fingerprint("book.epub", "piper", "joe")
	if fp == other {
		t.Fatal("fingerprints for different voices collide")
	}

	if ledger.Done(fp, "key-1") {
		t.Error("Done() = true before MarkDone")
	}
	if err := ledger.MarkDone(fp, "key-1"); err != nil {
		t.Fatal(err)
	}
	if err := ledger.MarkDone(fp, "key-2"); err != nil {
		t.Fatal(err)
	}
	if !ledger.Done(fp, "key-1") {
		t.Error("Done() = false after MarkDone")
	}
	if ledger.Done(other, "key-1") {
		t.Error("progress leaked across fingerprints")
	}
	if got := ledger.DoneCount(fp); got != 2 {
		t.Errorf("DoneCount() = %d, want 2", got)
	}

	if err := ledger.Forget(fp); err != nil {
		t.Fatal(err)
	}
	if got := ledger.DoneCount(fp); got != 0 {
		t.Errorf("DoneCount() after Forget = %d, want 0", got)
	}
	if err := ledger.Forget(fp); err != nil {
		t.Errorf("Forget() on empty fingerprint = %v, want nil", err)
	}
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	ledger, err := OpenLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	fp := Fingerprint("book.pdf", "gtts", "")
	if err := ledger.MarkDone(fp, "key-1"); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if !reopened.Done(fp, "key-1") {
		t.Error("progress lost across reopen")
	}
}
