package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/sonarchat/kv"
)

const profileBucket = "profiles"

// ErrNoProfile is returned by Load for an unknown profile name.
var ErrNoProfile = errors.New("no such profile")

// Profiles is a store of named forms.  Only configuration inputs are
// stored; credentials and transcripts never are.
type Profiles struct {
	db *kv.Db
}

// OpenProfiles opens or creates the profile store at path.
func OpenProfiles(path string) (p *Profiles, err error) {
	defer Return(&err)
	db, err := kv.Open(path)
	Ck(err)
	p = &Profiles{db: db}
	return
}

// Close closes the store.
func (p *Profiles) Close() error {
	return p.db.Close()
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("profile name %q contains whitespace", name)
	}
	return nil
}

// Save validates form and stores it under name, replacing any
// existing profile of that name.
func (p *Profiles) Save(name string, form Form) (err error) {
	defer Return(&err)
	err = checkName(name)
	Ck(err)
	_, err = Build(form)
	if err != nil {
		return
	}
	buf, err := json.Marshal(form)
	Ck(err)
	err = p.db.Update(func(tx *kv.Tx) error {
		return tx.Put(profileBucket, name, buf)
	})
	Ck(err)
	Debug("saved profile %s", name)
	return
}

// Load returns the form stored under name.
func (p *Profiles) Load(name string) (form Form, err error) {
	defer Return(&err)
	err = checkName(name)
	Ck(err)
	var buf []byte
	err = p.db.View(func(tx *kv.Tx) (err error) {
		buf, err = tx.Get(profileBucket, name)
		return
	})
	Ck(err)
	if buf == nil {
		err = fmt.Errorf("%w: %s", ErrNoProfile, name)
		return
	}
	form = Defaults()
	err = json.Unmarshal(buf, &form)
	Ck(err, "decoding profile %s", name)
	if form.SearchDomainFilter == nil {
		form.SearchDomainFilter = DomainFilter{}
	}
	return
}

// List returns the profile names in sorted order.
func (p *Profiles) List() (names []string, err error) {
	defer Return(&err)
	err = p.db.View(func(tx *kv.Tx) (err error) {
		names, err = tx.List(profileBucket)
		return
	})
	Ck(err)
	return
}

// Delete removes a profile.  Deleting an unknown profile returns
// ErrNoProfile.
func (p *Profiles) Delete(name string) (err error) {
	defer Return(&err)
	err = checkName(name)
	Ck(err)
	tx, err := p.db.Begin(true)
	Ck(err)
	done := false
	defer func() {
		if !done {
			tx.Rollback()
		}
	}()
	v, err := tx.Get(profileBucket, name)
	Ck(err)
	if v == nil {
		err = fmt.Errorf("%w: %s", ErrNoProfile, name)
		return
	}
	err = tx.Delete(profileBucket, name)
	Ck(err)
	err = tx.Commit()
	Ck(err)
	done = true
	Debug("deleted profile %s", name)
	return
}

// Path returns the filename of the store.
func (p *Profiles) Path() string {
	return p.db.Path()
}
