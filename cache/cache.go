// Copyright 2024 The cnbphp Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache persists installation plans keyed by their input digest,
// so a rebuild with unchanged inputs skips resolution entirely.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sirupsen/logrus"
)

var (
	plansBucket    = []byte("plans")
	projectsBucket = []byte("projects")
)

// memEntries bounds the in-process front cache.
const memEntries = 128

// Entry is one cached plan with the normalized inputs it was computed
// from.
type Entry struct {
	Plan   []byte `json:"plan"`
	Inputs string `json:"inputs"`
}

// Store is a plan cache backed by a bolt file with an in-memory LRU in
// front. Writers across processes are serialized by a file lock.
type Store struct {
	dir      string
	dbPath   string
	lockPath string
	mem      *lru.Cache[string, Entry]

	Logger logrus.FieldLogger
}

// Open prepares a store rooted at dir, creating it if needed.
func Open(dir string, logger logrus.FieldLogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create cache directory %s", dir)
	}
	mem, err := lru.New[string, Entry](memEntries)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize memory cache")
	}
	return &Store{
		dir:      dir,
		dbPath:   filepath.Join(dir, "plans.db"),
		lockPath: filepath.Join(dir, "plans.lock"),
		mem:      mem,
		Logger:   logger,
	}, nil
}

// Get returns the cached entry for key, if present.
func (s *Store) Get(key string) (Entry, bool, error) {
	if e, ok := s.mem.Get(key); ok {
		return e, true, nil
	}

	if _, err := os.Stat(s.dbPath); os.IsNotExist(err) {
		return Entry{}, false, nil
	}
	db, err := bolt.Open(s.dbPath, 0644, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "could not open plan cache %s", s.dbPath)
	}
	defer db.Close()

	var e Entry
	found := false
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(plansBucket)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			return errors.Wrapf(err, "corrupt cache entry for %s", key)
		}
		found = true
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	if found {
		s.mem.Add(key, e)
	}
	return e, found, nil
}

// Put stores a plan under its key. Puts are write-once: an existing entry
// for the key wins, since identical inputs must produce identical plans.
// project names the source tree, so a changed key for the same project
// can be explained.
func (s *Store) Put(key, project string, plan []byte, inputs string) error {
	lock := flock.New(s.lockPath)
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "could not lock plan cache %s", s.lockPath)
	}
	defer lock.Unlock()

	db, err := bolt.Open(s.dbPath, 0644, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return errors.Wrapf(err, "could not open plan cache %s", s.dbPath)
	}
	defer db.Close()

	entry := Entry{Plan: plan, Inputs: inputs}
	err = db.Update(func(tx *bolt.Tx) error {
		plans, err := tx.CreateBucketIfNotExists(plansBucket)
		if err != nil {
			return errors.Wrap(err, "could not create plans bucket")
		}
		projects, err := tx.CreateBucketIfNotExists(projectsBucket)
		if err != nil {
			return errors.Wrap(err, "could not create projects bucket")
		}

		if existing := plans.Get([]byte(key)); existing != nil {
			var prior Entry
			if err := json.Unmarshal(existing, &prior); err == nil {
				entry = prior
			}
			return nil
		}

		if project != "" {
			if oldKey := projects.Get([]byte(project)); oldKey != nil && string(oldKey) != key {
				s.explainMismatch(plans, string(oldKey), key, inputs)
			}
			if err := projects.Put([]byte(project), []byte(key)); err != nil {
				return errors.Wrap(err, "could not record project key")
			}
		}

		raw, err := json.Marshal(entry)
		if err != nil {
			return errors.Wrap(err, "could not encode cache entry")
		}
		return errors.Wrap(plans.Put([]byte(key), raw), "could not write cache entry")
	})
	if err != nil {
		return err
	}

	s.mem.Add(key, entry)
	return nil
}

// explainMismatch debug-logs what changed between the inputs behind a
// project's previous key and the current ones.
func (s *Store) explainMismatch(plans *bolt.Bucket, oldKey, newKey, newInputs string) {
	log := s.logger()
	raw := plans.Get([]byte(oldKey))
	if raw == nil {
		log.WithFields(logrus.Fields{"old": oldKey, "new": newKey}).
			Debug("plan key changed; previous entry already evicted")
		return
	}
	var prior Entry
	if err := json.Unmarshal(raw, &prior); err != nil {
		return
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(prior.Inputs, newInputs, false)
	log.WithFields(logrus.Fields{"old": oldKey, "new": newKey}).
		Debugf("plan inputs changed:\n%s", dmp.DiffPrettyText(diffs))
}

func (s *Store) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}
