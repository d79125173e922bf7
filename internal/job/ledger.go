package job

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs = []byte("jobs")
	bucketDone = []byte("done")
)

// Ledger records synthesis progress in a bbolt file so an interrupted
// conversion can resume without re-rendering utterances that already landed
// in the fragment cache. Each job gets a sub-bucket of completed fragment
// cache keys, identified by a fingerprint of source, engine and voice.
type Ledger struct {
	db *bolt.DB
}

// OpenLedger opens or creates the resume ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open resume ledger: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDone)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init resume ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Fingerprint identifies one source+engine+voice combination. Progress is
// only reusable when all three match.
func Fingerprint(source, engine, voice string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(engine))
	h.Write([]byte{0})
	h.Write([]byte(voice))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// MarkDone records that the fragment identified by cacheKey finished for the
// given job fingerprint.
func (l *Ledger) MarkDone(fingerprint, cacheKey string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketDone).CreateBucketIfNotExists([]byte(fingerprint))
		if err != nil {
			return err
		}
		return b.Put([]byte(cacheKey), []byte{1})
	})
}

// Done reports whether cacheKey was recorded for the job fingerprint.
func (l *Ledger) Done(fingerprint, cacheKey string) bool {
	var found bool
	l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDone).Bucket([]byte(fingerprint))
		if b != nil {
			found = b.Get([]byte(cacheKey)) != nil
		}
		return nil
	})
	return found
}

// DoneCount returns how many fragments were recorded for the fingerprint.
func (l *Ledger) DoneCount(fingerprint string) int {
	var count int
	l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDone).Bucket([]byte(fingerprint))
		if b != nil {
			count = b.Stats().KeyN
		}
		return nil
	})
	return count
}

// Forget drops all progress for the fingerprint. Called on successful
// completion so a later re-run starts clean.
func (l *Ledger) Forget(fingerprint string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketDone).DeleteBucket([]byte(fingerprint))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
