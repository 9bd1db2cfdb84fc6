// -----------------------------------------------------------------------
// Job Store - Durable job records on raw badger keys
// -----------------------------------------------------------------------

package queue

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/models"
)

const jobKeyPrefix = "jobqueue:job:"

// JobStore persists job records to badger so job history survives a
// restart. The in-memory job table stays authoritative while the process
// runs; the store is write-through.
type JobStore struct {
	db     *badger.DB
	logger arbor.ILogger
}

// NewJobStore creates a job store on an open badger database
func NewJobStore(db *badger.DB, logger arbor.ILogger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

// Save writes one job record
func (s *JobStore) Save(job *models.AuditJob) error {
	data, err := job.ToJSON()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.jobKey(job.ID), data)
	})
}

// Load returns every persisted job record
func (s *JobStore) Load() ([]*models.AuditJob, error) {
	var jobs []*models.AuditJob

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var job models.AuditJob
				if err := json.Unmarshal(val, &job); err != nil {
					s.logger.Warn().
						Err(err).
						Str("key", string(it.Item().Key())).
						Msg("Skipping undecodable job record")
					return nil
				}
				jobs = append(jobs, &job)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load job records: %w", err)
	}
	return jobs, nil
}

// Delete removes one job record
func (s *JobStore) Delete(jobID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.jobKey(jobID))
	})
}

func (s *JobStore) jobKey(jobID string) []byte {
	return []byte(jobKeyPrefix + jobID)
}
