package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

// ErrItemTooLarge is returned when a single fragment exceeds the cache
// capacity and can never fit.
var ErrItemTooLarge = errors.New("cache: item larger than cache capacity")

const (
	indexFile       = "fragments.index"
	compressMinSize = 1024
)

// Key derives the cache key for a synthesized utterance. Two utterances
// share audio exactly when engine, voice and text all match.
func Key(engine, voice, text string) string {
	h := sha256.New()
	h.Write([]byte(engine))
	h.Write([]byte{0})
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// FragmentCache persists synthesized PCM on disk so re-runs of a book skip
// utterances that were already rendered. Entries are zstd-compressed when
// that wins, and the least recently used entries are evicted once the
// capacity is hit. The index survives restarts via a gob file.
type FragmentCache struct {
	basePath string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*fragmentEntry
	mu    sync.Mutex

	stats Stats
}

type fragmentEntry struct {
	Key          string
	FilePath     string
	Size         int64
	OriginalSize int64
	Timestamp    time.Time
	LastAccess   time.Time
	Compressed   bool
}

// Stats describes cache effectiveness for one run.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
	ItemCount int64
	Capacity  int64
}

func (s Stats) String() string {
	total := s.Hits + s.Misses
	rate := 0.0
	if total > 0 {
		rate = float64(s.Hits) / float64(total)
	}
	return fmt.Sprintf("%d items, %s of %s, %.0f%% hit rate",
		s.ItemCount,
		humanize.Bytes(uint64(s.Size)),
		humanize.Bytes(uint64(s.Capacity)),
		rate*100)
}

// Open loads or creates the fragment cache at basePath. capacity is the
// maximum bytes kept on disk; compressionLevel <= 0 disables compression.
func Open(basePath string, capacity int64, compressionLevel int) (*FragmentCache, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	fc := &FragmentCache{
		basePath: basePath,
		capacity: capacity,
		index:    make(map[string]*fragmentEntry),
		stats:    Stats{Capacity: capacity},
	}

	if compressionLevel > 0 {
		var err error
		fc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		fc.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
	}

	// A corrupt index is not fatal; start over with an empty cache.
	if err := fc.loadIndex(); err != nil {
		fc.index = make(map[string]*fragmentEntry)
	}
	for _, entry := range fc.index {
		fc.size += entry.Size
	}

	return fc, nil
}

// Get returns the cached PCM for key, or false when absent. Entries whose
// backing file vanished or fails to decompress are dropped from the index.
func (fc *FragmentCache) Get(key string) ([]byte, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	entry, ok := fc.index[key]
	if !ok {
		fc.stats.Misses++
		return nil, false
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		fc.drop(entry)
		fc.stats.Misses++
		return nil, false
	}

	if entry.Compressed {
		if fc.decoder == nil {
			fc.drop(entry)
			fc.stats.Misses++
			return nil, false
		}
		decompressed, err := fc.decoder.DecodeAll(data, nil)
		if err != nil {
			fc.drop(entry)
			fc.stats.Misses++
			return nil, false
		}
		data = decompressed
	}

	entry.LastAccess = time.Now()
	fc.stats.Hits++
	return data, true
}

// Put stores PCM under key, evicting least recently used entries as needed.
func (fc *FragmentCache) Put(key string, pcm []byte) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	originalSize := int64(len(pcm))
	dataToWrite := pcm
	compressed := false
	if fc.encoder != nil && originalSize > compressMinSize {
		candidate := fc.encoder.EncodeAll(pcm, nil)
		if len(candidate) < len(pcm) {
			dataToWrite = candidate
			compressed = true
		}
	}
	diskSize := int64(len(dataToWrite))

	if existing, ok := fc.index[key]; ok {
		fc.drop(existing)
	}
	if diskSize > fc.capacity {
		return ErrItemTooLarge
	}
	for fc.size+diskSize > fc.capacity && len(fc.index) > 0 {
		fc.evictOldest()
	}

	filePath := filepath.Join(fc.basePath, key[:32]+".frag")
	if err := writeAtomic(filePath, dataToWrite); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}

	now := time.Now()
	fc.index[key] = &fragmentEntry{
		Key:          key,
		FilePath:     filePath,
		Size:         diskSize,
		OriginalSize: originalSize,
		Timestamp:    now,
		LastAccess:   now,
		Compressed:   compressed,
	}
	fc.size += diskSize
	return nil
}

// Contains reports whether key is cached without touching access order.
func (fc *FragmentCache) Contains(key string) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	_, ok := fc.index[key]
	return ok
}

// Clear removes every entry and its backing file.
func (fc *FragmentCache) Clear() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	for _, entry := range fc.index {
		os.Remove(entry.FilePath)
	}
	fc.index = make(map[string]*fragmentEntry)
	fc.size = 0
	return fc.saveIndex()
}

// Stats returns a snapshot of cache statistics.
func (fc *FragmentCache) Stats() Stats {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	stats := fc.stats
	stats.Size = fc.size
	stats.ItemCount = int64(len(fc.index))
	return stats
}

// Close persists the index.
func (fc *FragmentCache) Close() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.saveIndex()
}

// drop removes an entry from the index and disk. Caller holds fc.mu.
func (fc *FragmentCache) drop(entry *fragmentEntry) {
	os.Remove(entry.FilePath)
	fc.size -= entry.Size
	delete(fc.index, entry.Key)
}

func (fc *FragmentCache) evictOldest() {
	var oldest *fragmentEntry
	for _, entry := range fc.index {
		if oldest == nil || entry.LastAccess.Before(oldest.LastAccess) {
			oldest = entry
		}
	}
	if oldest != nil {
		fc.drop(oldest)
		fc.stats.Evictions++
	}
}

func (fc *FragmentCache) loadIndex() error {
	file, err := os.Open(filepath.Join(fc.basePath, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	return gob.NewDecoder(file).Decode(&fc.index)
}

func (fc *FragmentCache) saveIndex() error {
	indexPath := filepath.Join(fc.basePath, indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(file).Encode(fc.index)
	closeErr := file.Close()
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}
	return os.Rename(tempPath, indexPath)
}

// writeAtomic writes data via a temp file and rename so readers never see a
// partial fragment.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	_, err = file.Write(data)
	closeErr := file.Close()
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}
	return os.Rename(tempPath, path)
}
