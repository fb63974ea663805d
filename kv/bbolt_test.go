package kv

import (
	"path/filepath"
	"testing"

	. "github.com/stevegt/goadapt"
)

func newDb(t *testing.T) (db *Db) {
	fn := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(fn)
	Tassert(t, err == nil, "open: %v", err)
	Tassert(t, db != nil)
	return
}

// As a caller, I want to be able to create a new database.
func TestOpen(t *testing.T) {
	db := newDb(t)
	defer db.Close()
	Tassert(t, filepath.Base(db.Path()) == "test.db", "path: %s", db.Path())
}

// As a caller, I want to put a record and get it back in a later
// transaction.  If the bucket doesn't exist, it should be created.
func TestPut(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	tx, err := db.Begin(true)
	Tassert(t, err == nil)
	err = tx.Put("bucket1", "key1", []byte("Hello, world!"))
	Tassert(t, err == nil, "put: %v", err)
	err = tx.Commit()
	Tassert(t, err == nil)

	tx, err = db.Begin(false)
	Tassert(t, err == nil)
	data, err := tx.Get("bucket1", "key1")
	Tassert(t, err == nil)
	Tassert(t, string(data) == "Hello, world!", "got %q", data)
	err = tx.Rollback()
	Tassert(t, err == nil)

	// the value must survive the end of the transaction
	Tassert(t, string(data) == "Hello, world!", "got %q", data)
}

// As a caller, I want Get on a missing bucket or key to return nil
// without an error.
func TestGetMissing(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	err := db.View(func(tx *Tx) error {
		v, err := tx.Get("nope", "nope")
		Tassert(t, err == nil)
		Tassert(t, v == nil)
		return nil
	})
	Tassert(t, err == nil)
}

// As a caller, I want to delete a record and list the remaining keys.
func TestDeleteAndList(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	err := db.Update(func(tx *Tx) error {
		for _, k := range []string{"b", "a", "c"} {
			err := tx.Put("bucket", k, []byte(k))
			if err != nil {
				return err
			}
		}
		return nil
	})
	Tassert(t, err == nil, "update: %v", err)

	err = db.Update(func(tx *Tx) error {
		return tx.Delete("bucket", "b")
	})
	Tassert(t, err == nil)

	var keys []string
	err = db.View(func(tx *Tx) (err error) {
		keys, err = tx.List("bucket")
		return
	})
	Tassert(t, err == nil)
	Tassert(t, len(keys) == 2 && keys[0] == "a" && keys[1] == "c", "keys: %v", keys)
}

// As a caller, I want MakeBucket to fail in a read-only transaction
// instead of panicking.
func TestMakeBucketReadOnly(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	tx, err := db.Begin(false)
	Tassert(t, err == nil)
	defer tx.Rollback()
	_, err = tx.MakeBucket("bucket")
	Tassert(t, err != nil, "expected error")
}
