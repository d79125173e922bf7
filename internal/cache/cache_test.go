package cache

import (
	"bytes"
	"errors"
	"testing"
)

func TestKeyDistinguishesInputs(t *testing.T) {
	base := Key("piper", "lessac", "hello world")
	if base == Key("piper", "lessac", "hello worlds") {
		t.Error("different text must change the key")
	}
	if base == Key("gtts", "lessac", "hello world") {
		t.Error("different engine must change the key")
	}
	if base == Key("piper", "amy", "hello world") {
		t.Error("different voice must change the key")
	}
	if base != Key("piper", "lessac", "hello world") {
		t.Error("key is not deterministic")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	fc, err := Open(t.TempDir(), 1<<20, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	key := Key("mock", "", "some utterance")
	payload := bytes.Repeat([]byte{1, 2, 3, 4}, 2048) // compressible

	if _, ok := fc.Get(key); ok {
		t.Fatal("Get on empty cache returned a value")
	}
	if err := fc.Put(key, payload); err != nil {
		t.Fatal(err)
	}
	if !fc.Contains(key) {
		t.Error("Contains = false after Put")
	}
	got, ok := fc.Get(key)
	if !ok {
		t.Fatal("Get missed after Put")
	}
	if !bytes.Equal(got, payload) {
		t.Error("cached payload mangled")
	}

	stats := fc.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.ItemCount != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, 1 item", stats)
	}
}

func TestPutRejectsOversizeItem(t *testing.T) {
	fc, err := Open(t.TempDir(), 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	err = fc.Put(Key("mock", "", "big"), make([]byte, 200))
	if !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("oversize Put error = %v, want ErrItemTooLarge", err)
	}
}

func TestEviction(t *testing.T) {
	// Compression off so sizes are predictable. Capacity fits two entries.
	fc, err := Open(t.TempDir(), 2048, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	keys := []string{
		Key("mock", "", "first"),
		Key("mock", "", "second"),
		Key("mock", "", "third"),
	}
	for _, k := range keys {
		if err := fc.Put(k, make([]byte, 1024)); err != nil {
			t.Fatal(err)
		}
	}

	if fc.Contains(keys[0]) {
		t.Error("oldest entry survived eviction")
	}
	if !fc.Contains(keys[2]) {
		t.Error("newest entry was evicted")
	}
	if stats := fc.Stats(); stats.Evictions == 0 {
		t.Error("eviction not counted")
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	key := Key("mock", "", "persistent utterance")
	payload := []byte("pcm bytes here")

	fc, err := Open(dir, 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Put(key, payload); err != nil {
		t.Fatal(err)
	}
	if err := fc.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir, 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, ok := reopened.Get(key)
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mangled across reopen")
	}
}

func TestClear(t *testing.T) {
	fc, err := Open(t.TempDir(), 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	if err := fc.Put(Key("mock", "", "gone soon"), []byte("data")); err != nil {
		t.Fatal(err)
	}
	if err := fc.Clear(); err != nil {
		t.Fatal(err)
	}
	if stats := fc.Stats(); stats.ItemCount != 0 || stats.Size != 0 {
		t.Errorf("stats after Clear = %+v", stats)
	}
}
