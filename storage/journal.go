package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/colorbot/remediation"
)

// Bucket names in bbolt
var (
	bucketRuns = []byte("runs")
	bucketMeta = []byte("meta")

	keyRecorded = []byte("runs_recorded")
)

// RunRecord is a finished remediation run as persisted
type RunRecord struct {
	ID         string              `json:"id"`
	GuildID    string              `json:"guild_id"`
	Kind       string              `json:"kind"`
	Total      int                 `json:"total"`
	Succeeded  int                 `json:"succeeded"`
	Failed     int                 `json:"failed"`
	Outcome    remediation.Outcome `json:"outcome"`
	Message    string              `json:"message,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Duration is how long the run took to reach its terminal state
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// guildRun orders the in-memory index by guild, then run id
type guildRun struct {
	GuildID string
	RunID   string
}

func lessGuildRun(a, b guildRun) bool {
	if a.GuildID != b.GuildID {
		return a.GuildID < b.GuildID
	}
	return a.RunID < b.RunID
}

// RunJournal stores finished runs in bbolt. Run ids are ULIDs, so key order
// is chronological.
type RunJournal struct {
	mu sync.RWMutex

	// In-memory per-guild index
	index *btree.BTreeG[guildRun]

	db       *bbolt.DB
	recorded int64
}

var _ remediation.Journal = (*RunJournal)(nil)

// OpenRunJournal opens (or creates) the journal in dir
func OpenRunJournal(dir string) (*RunJournal, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	dbPath := filepath.Join(dir, "colorbot.db")

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &RunJournal{
		index: btree.NewG[guildRun](32, lessGuildRun),
		db:    db,
	}

	if err := j.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	return j, nil
}

// Close closes the journal
func (j *RunJournal) Close() error {
	return j.db.Close()
}

// Record persists a finished run
func (j *RunJournal) Record(summary remediation.RunSummary) error {
	record := RunRecord{
		ID:         summary.ID,
		GuildID:    summary.GuildID,
		Kind:       summary.Kind,
		Total:      summary.Total,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Outcome:    summary.Outcome,
		Message:    summary.Message,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
	}
	if record.ID == "" {
		return fmt.Errorf("run record has no id")
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", record.ID, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	err = j.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put([]byte(record.ID), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyRecorded, int64ToBytes(j.recorded+1))
	})
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", record.ID, err)
	}

	j.recorded++
	j.index.ReplaceOrInsert(guildRun{GuildID: record.GuildID, RunID: record.ID})
	return nil
}

// Get returns one run by id
func (j *RunJournal) Get(runID string) (*RunRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var record *RunRecord
	err := j.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketRuns).Get([]byte(runID))
		if value == nil {
			return fmt.Errorf("run %s not found", runID)
		}
		record = &RunRecord{}
		return json.Unmarshal(value, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Recent returns up to n runs, newest first
func (j *RunJournal) Recent(n int) ([]RunRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var records []RunRecord
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var record RunRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to decode run %s: %w", k, err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ForGuild returns up to n runs for one guild, newest first
func (j *RunJournal) ForGuild(guildID string, n int) ([]RunRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var ids []string
	j.index.DescendLessOrEqual(guildRun{GuildID: guildID, RunID: "\xff"}, func(item guildRun) bool {
		if item.GuildID != guildID || len(ids) >= n {
			return false
		}
		ids = append(ids, item.RunID)
		return true
	})

	records := make([]RunRecord, 0, len(ids))
	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		for _, id := range ids {
			value := bucket.Get([]byte(id))
			if value == nil {
				continue
			}
			var record RunRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("failed to decode run %s: %w", id, err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Recorded returns the number of runs ever recorded
func (j *RunJournal) Recorded() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.recorded
}

// Prune removes the oldest runs, keeping the newest keep
func (j *RunJournal) Prune(keep int) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var removed []guildRun
	deleted := 0
	err := j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		excess := bucket.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}

		c := bucket.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil && len(toDelete) < excess; k, v = c.Next() {
			var record RunRecord
			if err := json.Unmarshal(v, &record); err == nil {
				removed = append(removed, guildRun{GuildID: record.GuildID, RunID: record.ID})
			}
			toDelete = append(toDelete, append([]byte(nil), k...))
		}

		for _, key := range toDelete {
			if err := bucket.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, item := range removed {
		j.index.Delete(item)
	}
	return deleted, nil
}

func (j *RunJournal) rebuildIndex() error {
	return j.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyRecorded); data != nil {
			j.recorded = bytesToInt64(data)
		}

		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var record RunRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to decode run %s: %w", k, err)
			}
			j.index.ReplaceOrInsert(guildRun{GuildID: record.GuildID, RunID: record.ID})
			return nil
		})
	})
}

func int64ToBytes(n int64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func bytesToInt64(b []byte) int64 {
	var n int64
	_, _ = fmt.Sscanf(string(b), "%d", &n)
	return n
}
