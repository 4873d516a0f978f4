package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const maxTxnConflictRetries = 5

// badgerEntry is the stored record. Fingerprint doubles as the badgerhold key.
type badgerEntry struct {
	Fingerprint     string
	Text            string
	OCRInput        int64
	OCROutput       int64
	CorrectionInput int64
	CorrectionOut   int64
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	AccessCount     int64
	SizeBytes       int64
}

func (r *badgerEntry) payload() Payload {
	p := Payload{Text: r.Text}
	p.OCRUsage.Input, p.OCRUsage.Output = r.OCRInput, r.OCROutput
	p.CorrectionUsage.Input, p.CorrectionUsage.Output = r.CorrectionInput, r.CorrectionOut
	return p
}

func (r *badgerEntry) setPayload(p Payload) {
	r.Text = p.Text
	r.OCRInput, r.OCROutput = p.OCRUsage.Input, p.OCRUsage.Output
	r.CorrectionInput, r.CorrectionOut = p.CorrectionUsage.Input, p.CorrectionUsage.Output
	r.SizeBytes = p.Size()
}

func (r *badgerEntry) entry() Entry {
	return Entry{
		Fingerprint:    r.Fingerprint,
		Payload:        r.payload(),
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
		AccessCount:    r.AccessCount,
		SizeBytes:      r.SizeBytes,
	}
}

// BadgerStore is the embedded, on-disk cache backend.
type BadgerStore struct {
	store *badgerhold.Store
	now   func() time.Time
}

// OpenBadger opens (or creates) a badger database in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = nil

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &BadgerStore{store: store, now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests.
func (s *BadgerStore) WithClock(now func() time.Time) *BadgerStore {
	s.now = now
	return s
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (s *BadgerStore) Ping(_ context.Context) error {
	if s.store.Badger().IsClosed() {
		return unavailable("ping", errors.New("database closed"))
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.store.Close()
}

func (s *BadgerStore) Lookup(ctx context.Context, fp string) (*Entry, bool, error) {
	var rec badgerEntry
	err := s.store.Get(fp, &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("lookup", err)
	}

	// The payload is already read intact; a lost access bump is harmless.
	now := s.now().UTC()
	_ = s.update(func(tx *badger.Txn) error {
		var cur badgerEntry
		if err := s.store.TxGet(tx, fp, &cur); err != nil {
			return err
		}
		cur.AccessCount++
		cur.LastAccessedAt = now
		if err := s.store.TxUpsert(tx, fp, cur); err != nil {
			return err
		}
		rec = cur
		return nil
	})

	e := rec.entry()
	return &e, true, nil
}

func (s *BadgerStore) Put(ctx context.Context, fp string, p Payload) error {
	now := s.now().UTC()
	err := s.update(func(tx *badger.Txn) error {
		var cur badgerEntry
		err := s.store.TxGet(tx, fp, &cur)
		switch {
		case errors.Is(err, badgerhold.ErrNotFound):
			cur = badgerEntry{Fingerprint: fp, CreatedAt: now}
		case err != nil:
			return err
		case cur.payload().Equal(p):
			return nil
		}
		cur.setPayload(p)
		cur.LastAccessedAt = now
		return s.store.TxUpsert(tx, fp, cur)
	})
	if err != nil {
		return unavailable("store", err)
	}
	return nil
}

func (s *BadgerStore) all() ([]Entry, error) {
	var recs []badgerEntry
	if err := s.store.Find(&recs, nil); err != nil {
		return nil, err
	}
	out := make([]Entry, len(recs))
	for i := range recs {
		out[i] = recs[i].entry()
	}
	return out, nil
}

func (s *BadgerStore) Evict(ctx context.Context, policy EvictPolicy) (EvictReport, error) {
	entries, err := s.all()
	if err != nil {
		return EvictReport{}, unavailable("evict", err)
	}

	expired, lru := planEviction(entries, policy, s.now().UTC())
	var report EvictReport
	for _, e := range expired {
		if err := s.store.Delete(e.Fingerprint, badgerEntry{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return report, unavailable("evict", err)
		}
		report.RemovedExpired++
		report.BytesFreed += e.SizeBytes
	}
	for _, e := range lru {
		if err := s.store.Delete(e.Fingerprint, badgerEntry{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return report, unavailable("evict", err)
		}
		report.RemovedLRU++
		report.BytesFreed += e.SizeBytes
	}
	return report, nil
}

func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.all()
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return summarize(entries), nil
}

func (s *BadgerStore) Clear(ctx context.Context) (int, error) {
	entries, err := s.all()
	if err != nil {
		return 0, unavailable("clear", err)
	}
	if err := s.store.DeleteMatching(badgerEntry{}, nil); err != nil {
		return 0, unavailable("clear", err)
	}
	return len(entries), nil
}

// update runs fn in a read-write transaction, retrying on write conflicts
// with concurrent writers of the same key.
func (s *BadgerStore) update(fn func(tx *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnConflictRetries; i++ {
		err = s.store.Badger().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

var _ Store = (*BadgerStore)(nil)
