package kv

import (
	"fmt"
	"time"

	. "github.com/stevegt/goadapt"
	bolt "go.etcd.io/bbolt"
)

// Db is a small key-value database with buckets.  Keys and bucket
// names are strings.  Values are byte slices.  This struct is an
// adapter for bolt.
type Db struct {
	bdb *bolt.DB
}

// Open opens a database, creating it if it doesn't exist.
func Open(path string) (db *Db, err error) {
	defer Return(&err)
	db = &Db{}
	opts := &bolt.Options{Timeout: 10 * time.Second}
	db.bdb, err = bolt.Open(path, 0600, opts)
	Ck(err, "opening %s", path)
	return
}

// Close closes the db.
func (db *Db) Close() (err error) {
	defer Return(&err)
	err = db.bdb.Close()
	Ck(err)
	return
}

// Path returns the filename of the db.
func (db *Db) Path() string {
	return db.bdb.Path()
}

// Begin starts a transaction.
func (db *Db) Begin(writable bool) (tx *Tx, err error) {
	defer Return(&err)
	btx, err := db.bdb.Begin(writable)
	Ck(err)
	tx = &Tx{btx}
	return
}

// Update runs fn in a writable transaction, committing if fn returns
// nil and rolling back otherwise.
func (db *Db) Update(fn func(tx *Tx) error) error {
	return db.bdb.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx})
	})
}

// View runs fn in a read-only transaction.
func (db *Db) View(fn func(tx *Tx) error) error {
	return db.bdb.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx})
	})
}

// Tx is a transaction.  This struct is an adapter for bolt.
type Tx struct {
	btx *bolt.Tx
}

// Rollback rolls back a transaction.
func (tx *Tx) Rollback() (err error) {
	defer Return(&err)
	err = tx.btx.Rollback()
	Ck(err)
	return
}

// Commit commits a transaction.
func (tx *Tx) Commit() (err error) {
	defer Return(&err)
	err = tx.btx.Commit()
	Ck(err)
	return
}

// Put adds or replaces a record in the given bucket, creating the
// bucket if needed.
func (tx *Tx) Put(bucket string, key string, value []byte) (err error) {
	defer Return(&err)
	Assert(key != "", "empty key")
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		Debug("creating bucket %s", bucket)
		b, err = tx.MakeBucket(bucket)
		Ck(err)
	}
	err = b.Put([]byte(key), value)
	Ck(err)
	return
}

// Get retrieves a record from the given bucket.  Returns a nil value
// if the key or bucket does not exist or if the key is a nested
// bucket.  The returned slice is a copy and remains valid after the
// transaction ends.
func (tx *Tx) Get(bucket string, key string) (value []byte, err error) {
	defer Return(&err)
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	v := b.Get([]byte(key))
	if v == nil {
		return
	}
	value = append([]byte{}, v...)
	return
}

// Delete removes a record from the given bucket.  Deleting a missing
// key is not an error.
func (tx *Tx) Delete(bucket string, key string) (err error) {
	defer Return(&err)
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	err = b.Delete([]byte(key))
	Ck(err)
	return
}

// List returns all keys in the given bucket in byte order.
func (tx *Tx) List(bucket string) (keys []string, err error) {
	defer Return(&err)
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	err = b.ForEach(func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	Ck(err)
	return
}

// MakeBucket creates a new bucket if it does not already exist.
func (tx *Tx) MakeBucket(bucket string) (b *bolt.Bucket, err error) {
	defer Return(&err)
	if !tx.btx.Writable() {
		err = fmt.Errorf("cannot create bucket %s in a read-only transaction", bucket)
		return
	}
	b, err = tx.btx.CreateBucketIfNotExists([]byte(bucket))
	Ck(err)
	return
}
