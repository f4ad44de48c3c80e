// Package kv defines a BoltDB implementation of the coredrain database,
// storing bridge transfers, anchor transactions, and watched-address cursors
// under the buckets laid out in schema.go.
package kv

import (
	"context"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	prombbolt "github.com/prysmaticlabs/prombbolt"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var log = logrus.WithField("prefix", "db")

// DatabaseFileName is the name of the coredrain database file.
const DatabaseFileName = "coredrain.db"

const boltAllocSize = 8 * 1024 * 1024

// Store defines an implementation of the coredrain Database interface using
// BoltDB as the underlying persistent kv-store.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewKVStore initializes a new boltDB key-value store at the directory path
// specified, creates the kv-buckets based on the schema, and stores an open
// connection db object as a property of the Store struct. Bucket creation
// doubles as the startup schema verification: failure here is fatal to the
// caller, and key uniqueness within the entity buckets is what enforces the
// coreHash and internalHash uniqueness invariants.
func NewKVStore(ctx context.Context, dirPath string) (*Store, error) {
	hasDir, err := fileExists(dirPath)
	if err != nil {
		return nil, err
	}
	if !hasDir {
		if err := os.MkdirAll(dirPath, 0700); err != nil {
			return nil, err
		}
	}
	datafile := path.Join(dirPath, DatabaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{
		Timeout:         1 * time.Second,
		InitialMmapSize: 10e6,
	})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	boltDB.AllocSize = boltAllocSize

	kv := &Store{
		db:           boltDB,
		databasePath: dirPath,
	}
	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			transfersBucket,
			transferPendingIndexBucket,
			anchorsBucket,
			anchorTimeIndexBucket,
			anchorMatchIndexBucket,
			addressesBucket,
		)
	}); err != nil {
		return nil, errors.Wrap(err, "could not verify database schema")
	}
	if err := prometheus.Register(createBoltCollector(kv.db)); err != nil {
		log.WithError(err).Debug("Could not register bolt metrics collector")
	}
	return kv, nil
}

// ClearDB removes the previously stored database in the data directory.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	prometheus.Unregister(createBoltCollector(s.db))
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close db prior to clearing")
	}
	return os.Remove(path.Join(s.databasePath, DatabaseFileName))
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	prometheus.Unregister(createBoltCollector(s.db))
	return s.db.Close()
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}

// createBoltCollector returns a prometheus collector specifically configured for boltdb.
func createBoltCollector(db *bolt.DB) prometheus.Collector {
	return prombbolt.New("coredrain_db", db)
}

func fileExists(filename string) (bool, error) {
	info, err := os.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info != nil, nil
}
