package diagnose

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/herdctl/herd/pkg/types"
)

var bucketDiagnostics = []byte("diagnostics")

// historyLimit bounds the per-instance ring.
const historyLimit = 100

// History persists the bounded per-instance diagnostic ring in bbolt.
// One sub-bucket per instance, keyed by a monotonically increasing
// sequence number; the oldest entries are pruned past the limit.
type History struct {
	db *bolt.DB
}

// OpenHistory opens (or creates) the diagnostic history database.
func OpenHistory(path string) (*History, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDiagnostics)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history bucket: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Append stores one diagnostic and prunes the ring to the limit.
func (h *History) Append(d *types.Diagnostic) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketDiagnostics)
		b, err := root.CreateBucketIfNotExists([]byte(d.InstanceID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		// Prune oldest past the ring limit.
		c := b.Cursor()
		count := b.Stats().KeyN + 1 // KeyN is pre-commit
		for k, _ := c.First(); k != nil && count > historyLimit; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

// Recent returns up to n most recent diagnostics, newest first.
func (h *History) Recent(instanceID string, n int) ([]*types.Diagnostic, error) {
	var out []*types.Diagnostic
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDiagnostics).Bucket([]byte(instanceID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var d types.Diagnostic
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}
			out = append(out, &d)
		}
		return nil
	})
	return out, err
}

// Drop removes the entire ring for an instance.
func (h *History) Drop(instanceID string) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketDiagnostics)
		if root.Bucket([]byte(instanceID)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(instanceID))
	})
}

// Trend summarizes the retained history of one instance.
type Trend struct {
	InstanceID   string                  `json:"instance_id"`
	Entries      int                     `json:"entries"`
	HealthyRatio float64                 `json:"healthy_ratio"`
	ByCategory   map[types.Category]int  `json:"issues_by_category"`
	OldestAt     *time.Time              `json:"oldest_at,omitempty"`
	NewestAt     *time.Time              `json:"newest_at,omitempty"`
}

// TrendReport aggregates the retained diagnostics into a trend summary.
func (h *History) TrendReport(instanceID string) (*Trend, error) {
	entries, err := h.Recent(instanceID, historyLimit)
	if err != nil {
		return nil, err
	}
	trend := &Trend{
		InstanceID: instanceID,
		Entries:    len(entries),
		ByCategory: make(map[types.Category]int),
	}
	if len(entries) == 0 {
		return trend, nil
	}

	healthy := 0
	for _, d := range entries {
		if d.OverallHealthy {
			healthy++
		}
		for _, issue := range d.CriticalIssues {
			trend.ByCategory[issue.Category]++
		}
	}
	trend.HealthyRatio = float64(healthy) / float64(len(entries))
	newest := entries[0].Timestamp
	oldest := entries[len(entries)-1].Timestamp
	trend.NewestAt = &newest
	trend.OldestAt = &oldest
	return trend, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
