// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

// Package state persists the qmanager catalog in a boltdb file.
package state

import (
	"encoding/binary"
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"go.etcd.io/bbolt"

	"github.com/freebsd/qmanager/qmanager/structs"
)

/*
The catalog is a single boltdb file. The schema:

meta/
|--> version -> '1' (not msgpack encoded)
acl/
|--> <name> -> structs.ACLRow
machines/
|--> <name> -> structs.MachineRow
jobs/
|--> <id, 8 byte big endian> -> structs.JobRow

Job ids come from the jobs bucket sequence, so they are monotonic and
never reused even after rows are deleted.
*/

var (
	metaBucketName     = []byte("meta")
	metaVersionKey     = []byte("version")
	metaVersion        = []byte{'1'}
	aclBucketName      = []byte("acl")
	machinesBucketName = []byte("machines")
	jobsBucketName     = []byte("jobs")
)

// Store persists ACL rules, machines, and jobs. All methods are safe
// for concurrent access, though the scheduler is the only writer.
type Store struct {
	db     *bbolt.DB
	logger hclog.Logger
}

// Open creates or opens the catalog file.
func Open(path string, logger hclog.Logger) (*Store, error) {
	// Timeout to force failure when the file is held by another
	// qmanager process.
	opts := &bbolt.Options{Timeout: 5 * time.Second}

	db, err := bbolt.Open(path, 0o600, opts)
	if err == bbolt.ErrTimeout {
		return nil, fmt.Errorf("timed out opening %s, is another qmanager running?", path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.Named("state"),
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{aclBucketName, machinesBucketName, jobsBucketName} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucketName)
		if err != nil {
			return err
		}
		ver := meta.Get(metaVersionKey)
		if ver == nil {
			return meta.Put(metaVersionKey, metaVersion)
		}
		if string(ver) != string(metaVersion) {
			return fmt.Errorf("catalog schema version %q is not supported", ver)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}

	return s, nil
}

// Close releases the catalog file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Name returns the path of the backing file.
func (s *Store) Name() string {
	return s.db.Path()
}

func jobKey(id uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], id)
	return key[:]
}

// LoadACLs returns every ACL row.
func (s *Store) LoadACLs() ([]*structs.ACLRow, error) {
	var rows []*structs.ACLRow
	var mErr multierror.Error

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(aclBucketName).ForEach(func(k, v []byte) error {
			var row structs.ACLRow
			if err := structs.Decode(v, &row); err != nil {
				mErr.Errors = append(mErr.Errors, fmt.Errorf("acl %q: %w", k, err))
				return nil
			}
			rows = append(rows, &row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, mErr.ErrorOrNil()
}

// LoadMachines returns every machine row in name order.
func (s *Store) LoadMachines() ([]*structs.MachineRow, error) {
	var rows []*structs.MachineRow
	var mErr multierror.Error

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(machinesBucketName).ForEach(func(k, v []byte) error {
			var row structs.MachineRow
			if err := structs.Decode(v, &row); err != nil {
				mErr.Errors = append(mErr.Errors, fmt.Errorf("machine %q: %w", k, err))
				return nil
			}
			rows = append(rows, &row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, mErr.ErrorOrNil()
}

// LoadJobs returns every job row in id order.
func (s *Store) LoadJobs() ([]*structs.JobRow, error) {
	var rows []*structs.JobRow
	var mErr multierror.Error

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucketName).ForEach(func(k, v []byte) error {
			var row structs.JobRow
			if err := structs.Decode(v, &row); err != nil {
				mErr.Errors = append(mErr.Errors, fmt.Errorf("job %d: %w", binary.BigEndian.Uint64(k), err))
				return nil
			}
			rows = append(rows, &row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, mErr.ErrorOrNil()
}

// PutACL inserts or replaces an ACL row in one transaction.
func (s *Store) PutACL(row *structs.ACLRow) error {
	buf, err := structs.Encode(row)
	if err != nil {
		return fmt.Errorf("failed to encode acl %q: %w", row.Name, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(aclBucketName).Put([]byte(row.Name), buf)
	})
}

// DeleteACL removes an ACL row.
func (s *Store) DeleteACL(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(aclBucketName).Delete([]byte(name))
	})
}

// PutMachine inserts or replaces a machine row in one transaction.
func (s *Store) PutMachine(row *structs.MachineRow) error {
	buf, err := structs.Encode(row)
	if err != nil {
		return fmt.Errorf("failed to encode machine %q: %w", row.Name, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(machinesBucketName).Put([]byte(row.Name), buf)
	})
}

// DeleteMachine removes a machine row.
func (s *Store) DeleteMachine(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(machinesBucketName).Delete([]byte(name))
	})
}

// NextJobID allocates the next job id from the catalog sequence.
func (s *Store) NextJobID() (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		id, err = tx.Bucket(jobsBucketName).NextSequence()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate job id: %w", err)
	}
	return id, nil
}

// PutJob inserts or replaces a job row in one transaction.
func (s *Store) PutJob(row *structs.JobRow) error {
	buf, err := structs.Encode(row)
	if err != nil {
		return fmt.Errorf("failed to encode job %d: %w", row.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucketName).Put(jobKey(row.ID), buf)
	})
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(id uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucketName).Delete(jobKey(id))
	})
}

// PurgeJobs deletes every persisted job row and returns how many were
// removed. Called at startup: blocked jobs do not survive a restart,
// clients are expected to reconnect with fresh acquires. The id
// sequence is left untouched so ids are never reused.
func (s *Store) PurgeJobs() (int, error) {
	purged := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(jobsBucketName)
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			id := binary.BigEndian.Uint64(k)
			s.logger.Info("deleting stale job", "job_id", id)
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("job %d: %w", id, err)
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return purged, nil
}
