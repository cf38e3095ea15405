package history

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/extraction"
)

const bucketName = "history"

// Record is an immutable snapshot of an accepted extraction result plus the
// originating invoice identity and acceptance timestamp
type Record struct {
	ID                 uint64                      `json:"id"`
	InvoiceID          int64                       `json:"invoice_id"`
	InvoiceName        string                      `json:"invoice_name"`
	Result             extraction.ExtractionResult `json:"result"`
	AcceptedWithIssues bool                        `json:"accepted_with_issues"`
	AcceptedAt         time.Time                   `json:"accepted_at"`
}

// NewRecord builds a record from an accepted extraction result. The result is
// deep-copied so later mutations cannot reach the snapshot.
func NewRecord(invoiceID int64, invoiceName string, result *extraction.ExtractionResult, acceptedAt time.Time) *Record {
	snapshot := *result
	snapshot.LineItems = append([]extraction.LineItem(nil), result.LineItems...)
	snapshot.CoherenceFlags = append([]string(nil), result.CoherenceFlags...)

	return &Record{
		InvoiceID:          invoiceID,
		InvoiceName:        invoiceName,
		Result:             snapshot,
		AcceptedWithIssues: result.AcceptedWithIssues,
		AcceptedAt:         acceptedAt,
	}
}

// Store defines the interface for the durable history of accepted results
type Store interface {
	// Append adds a record to the history and assigns its id
	Append(record *Record) error

	// Get retrieves a record by id
	Get(id uint64) (*Record, error)

	// List returns all records, most recent first
	List() ([]*Record, error)

	// Close closes the store
	Close() error
}

// BoltStore implements the Store interface using BoltDB
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltStore instance
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// recordKey formats a record id so bbolt's lexicographic key order matches
// acceptance order
func recordKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%016d", id))
}

// Append adds a record to the history, assigning it the next acceptance
// sequence number
func (b *BoltStore) Append(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))

		id, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating record id: %w", err)
		}
		record.ID = id

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put(recordKey(id), data)
	})
}

// Get retrieves a record by id
func (b *BoltStore) Get(id uint64) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get(recordKey(id))
		if data == nil {
			return fmt.Errorf("record not found: %d", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List returns all records, most recent first
func (b *BoltStore) List() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record %s: %w", k, err)
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
