package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/comet/pkg/types"
	bolt "go.etcd.io/bbolt"
)

const (
	// DBFileName is the ledger file created under the configured root
	DBFileName = "ivorn.db"

	// openTimeout bounds waiting for the file lock held by another process
	openTimeout = 2 * time.Second
)

// bucketNoAuthority holds IVORNs that have no ivo:// authority
var bucketNoAuthority = []byte("_")

// BoltLedger implements Ledger using BoltDB. IVORNs are sharded into one
// bucket per authority; the value is the JSON-encoded Entry.
type BoltLedger struct {
	db   *bolt.DB
	path string
	now  func() time.Time
}

// NewBoltLedger opens (creating if needed) the ledger under root.
// Failure here means the root is unusable and is fatal to startup.
func NewBoltLedger(root string) (*BoltLedger, error) {
	if root == "" {
		return nil, fmt.Errorf("ivorn ledger root is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger root %s: %w", root, err)
	}

	dbPath := filepath.Join(root, DBFileName)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// Prove the file is writable before the broker starts accepting events
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNoAuthority); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketNoAuthority, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltLedger{db: db, path: dbPath, now: time.Now}, nil
}

// Path returns the database file location
func (l *BoltLedger) Path() string {
	return l.path
}

// Close closes the database
func (l *BoltLedger) Close() error {
	return l.db.Close()
}

func bucketFor(ivorn string) []byte {
	if authority := types.Authority(ivorn); authority != "" {
		return []byte(authority)
	}
	return bucketNoAuthority
}

func (l *BoltLedger) Seen(ivorn string) (bool, error) {
	seen := false
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFor(ivorn))
		if b == nil {
			return nil
		}
		seen = b.Get([]byte(ivorn)) != nil
		return nil
	})
	return seen, err
}

func (l *BoltLedger) Record(ivorn string) error {
	_, err := l.CheckAndRecord(ivorn)
	return err
}

func (l *BoltLedger) CheckAndRecord(ivorn string) (bool, error) {
	if ivorn == "" {
		return false, fmt.Errorf("cannot record empty ivorn")
	}

	inserted := false
	err := l.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketFor(ivorn))
		if err != nil {
			return fmt.Errorf("failed to create bucket for %s: %w", ivorn, err)
		}
		if b.Get([]byte(ivorn)) != nil {
			return nil
		}
		data, err := json.Marshal(Entry{IVORN: ivorn, FirstSeen: l.now().UTC()})
		if err != nil {
			return err
		}
		if err := b.Put([]byte(ivorn), data); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (l *BoltLedger) Get(ivorn string) (*Entry, error) {
	var entry Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFor(ivorn))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, ivorn)
		}
		data := b.Get([]byte(ivorn))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, ivorn)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (l *BoltLedger) Count() (int, error) {
	count := 0
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, b *bolt.Bucket) error {
			count += b.Stats().KeyN
			return nil
		})
	})
	return count, err
}

// Authorities lists the authority buckets present in the ledger
func (l *BoltLedger) Authorities() ([]string, error) {
	var names []string
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if string(name) == string(bucketNoAuthority) && b.Stats().KeyN == 0 {
				return nil
			}
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}
