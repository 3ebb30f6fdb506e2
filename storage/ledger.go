package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"housewatch/models"
	"housewatch/utils"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// maxLogEntries bounds the in-memory activity trail; oldest entries are
// evicted first.
const maxLogEntries = 500

// ErrDuplicateFingerprint reports an append of a record whose dedup key is
// already indexed. Callers treat it as "already recorded", not a failure.
var ErrDuplicateFingerprint = errors.New("duplicate fingerprint")

var engineLog = utils.Log.WithComponent("monitor")

// Ledger is the append-only store of classified email records plus the
// derived aggregate counters, the activity log ring and the per-account poll
// watermarks. It is the single writer path for all of them.
type Ledger struct {
	db *bbolt.DB

	mu           sync.RWMutex
	fingerprints map[string]bool
	counters     counters
	lastCheck    *time.Time
	logs         []models.LogEntry
}

type counters struct {
	Total      int
	Household  int
	AccessCode int
	Clicked    int
	Errors     int
}

// NewLedger opens the ledger and rebuilds the cached counters and the
// fingerprint index by scanning the persisted records.
func NewLedger(db *bbolt.DB) (*Ledger, error) {
	l := &Ledger{
		db:           db,
		fingerprints: make(map[string]bool),
	}

	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmails).ForEach(func(k, v []byte) error {
			var rec models.EmailRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %v", k, err)
			}
			l.fingerprints[rec.Fingerprint()] = true
			l.count(&rec, 1)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return l, nil
}

// count applies a record to the cached counters with the given sign
func (l *Ledger) count(rec *models.EmailRecord, sign int) {
	l.counters.Total += sign
	switch rec.EmailType {
	case models.EmailTypeHousehold:
		l.counters.Household += sign
	case models.EmailTypeTempAccess:
		l.counters.AccessCode += sign
	}
	switch rec.Status {
	case models.StatusClicked:
		l.counters.Clicked += sign
	case models.StatusError:
		l.counters.Errors += sign
	}
}

// Append stores a newly detected record. Appending a record whose
// fingerprint already exists returns an error so re-polls stay idempotent.
func (l *Ledger) Append(rec *models.EmailRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.StatusDetected
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fp := rec.Fingerprint()
	if l.fingerprints[fp] {
		return ErrDuplicateFingerprint
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %v", err)
	}
	err = l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmails).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return err
	}

	l.fingerprints[fp] = true
	l.count(rec, 1)
	return nil
}

// Resolve applies the single permitted forward transition of a record from
// detected to a terminal status. Resolving an already-terminal record is
// rejected.
func (l *Ledger) Resolve(id string, status models.EmailStatus, clickResponse string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEmails)
		data := bucket.Get([]byte(id))
		if data == nil {
			return errors.New("record not found")
		}
		var rec models.EmailRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %v", err)
		}
		if rec.Status.IsTerminal() {
			return fmt.Errorf("record %s already resolved to %s", id, rec.Status)
		}

		l.count(&rec, -1)
		rec.Status = status
		rec.ClickResponse = clickResponse
		l.count(&rec, 1)

		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %v", err)
		}
		return bucket.Put([]byte(id), updated)
	})
}

// HasFingerprint reports whether a record with this dedup key already exists
func (l *Ledger) HasFingerprint(fp string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fingerprints[fp]
}

// List returns the most recent records, newest first, optionally filtered by
// type. A limit of 0 defaults to 50.
func (l *Ledger) List(limit int, emailType models.EmailType) ([]models.EmailRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []models.EmailRecord
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmails).ForEach(func(k, v []byte) error {
			var rec models.EmailRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %v", k, err)
			}
			if emailType != "" && rec.EmailType != emailType {
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ProcessedAt.After(records[j].ProcessedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Clear deletes all records and resets the derived counters. Irreversible.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketEmails); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketEmails)
		return err
	})
	if err != nil {
		return err
	}

	l.fingerprints = make(map[string]bool)
	l.counters = counters{}
	return nil
}

// Stats snapshots the cached aggregate counters
func (l *Ledger) Stats() models.Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return models.Stats{
		TotalEmails:      l.counters.Total,
		HouseholdEmails:  l.counters.Household,
		AccessCodeEmails: l.counters.AccessCode,
		LinksClicked:     l.counters.Clicked,
		Errors:           l.counters.Errors,
		LastCheck:        l.lastCheck,
	}
}

// SetLastCheck records the completion time of a poll cycle
func (l *Ledger) SetLastCheck(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t = t.UTC()
	l.lastCheck = &t
}

// AddLog appends to the operator-visible activity trail and mirrors the line
// to the process logger
func (l *Ledger) AddLog(level models.LogLevel, format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	switch level {
	case models.LogWarning:
		engineLog.Warn("%s", message)
	case models.LogError:
		engineLog.Error("%s", message)
	default:
		engineLog.Info("%s", message)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, models.LogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	})
	if len(l.logs) > maxLogEntries {
		l.logs = l.logs[len(l.logs)-maxLogEntries:]
	}
}

// Logs returns the most recent entries, newest last. A limit of 0 defaults
// to 100.
func (l *Ledger) Logs(limit int) []models.LogEntry {
	if limit <= 0 {
		limit = 100
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if len(l.logs) > limit {
		start = len(l.logs) - limit
	}
	out := make([]models.LogEntry, len(l.logs)-start)
	copy(out, l.logs[start:])
	return out
}

// ClearLogs empties the activity trail
func (l *Ledger) ClearLogs() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = nil
}

// Watermark returns the last mailbox UID already processed for an account,
// or 0 when the account has never been polled
func (l *Ledger) Watermark(accountID string) (uint32, error) {
	var uid uint32
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketWatermarks).Get([]byte(accountID))
		if len(data) == 8 {
			uid = uint32(binary.BigEndian.Uint64(data))
		}
		return nil
	})
	return uid, err
}

// AdvanceWatermark moves an account's watermark forward. Called only after a
// poll batch has been fully processed, so a crash mid-batch re-processes the
// batch instead of skipping it.
func (l *Ledger) AdvanceWatermark(accountID string, uid uint32) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWatermarks)
		data := bucket.Get([]byte(accountID))
		if len(data) == 8 && uint32(binary.BigEndian.Uint64(data)) >= uid {
			return nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(uid))
		return bucket.Put([]byte(accountID), buf)
	})
}
