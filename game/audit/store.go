package audit

import (
	"container/list"
	"sync"
	"time"

	"github.com/kestrelgames/taleweaver/internal/strutil"
	"github.com/kestrelgames/taleweaver/game/metrics"
)

// Sanitization bounds applied on store.
const (
	narrativePreviewLimit = 500
	actionPreviewLimit    = 200
)

// Config bounds the in-memory store.
type Config struct {
	MaxEntries         int           // default 10000
	TTL                time.Duration // default 1 hour
	RecentPerCharacter int           // ring size per character, default 50
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:         10000,
		TTL:                time.Hour,
		RecentPerCharacter: 50,
	}
}

type storedRecord struct {
	rec       *Record
	expiresAt time.Time
}

// Store is a bounded keyed map of turn records with a per-character
// ring of recent turn ids. Eviction follows insertion order, not
// access order: reading a record does not extend its retention.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	records  map[string]*list.Element
	order    *list.List // front = newest insert
	rings    map[string]*idRing
	nowFunc  func() time.Time
	exporter *metrics.PrometheusExporter
}

// NewStore creates a store; exporter may be nil.
func NewStore(cfg Config, exporter *metrics.PrometheusExporter) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.RecentPerCharacter <= 0 {
		cfg.RecentPerCharacter = DefaultConfig().RecentPerCharacter
	}
	return &Store{
		cfg:      cfg,
		records:  make(map[string]*list.Element),
		order:    list.New(),
		rings:    make(map[string]*idRing),
		nowFunc:  time.Now,
		exporter: exporter,
	}
}

// Put sanitizes and stores a copy of the record. Expired entries are
// dropped first; if the store is still full the oldest insert goes.
func (s *Store) Put(rec *Record) {
	if rec == nil || rec.TurnID == "" {
		return
	}
	now := s.nowFunc()
	stored := sanitize(rec, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropExpired(now)

	if el, ok := s.records[stored.TurnID]; ok {
		s.order.Remove(el)
		delete(s.records, stored.TurnID)
	}
	for len(s.records) >= s.cfg.MaxEntries {
		s.evictOldest()
	}

	el := s.order.PushFront(&storedRecord{rec: stored, expiresAt: now.Add(s.cfg.TTL)})
	s.records[stored.TurnID] = el

	ring := s.rings[stored.CharacterID]
	if ring == nil {
		ring = newIDRing(s.cfg.RecentPerCharacter)
		s.rings[stored.CharacterID] = ring
	}
	ring.push(stored.TurnID)

	s.updateGauge()
}

// GetTurn returns the record for a turn id, or false when it was never
// stored, expired, or has been evicted.
func (s *Store) GetTurn(turnID string) (*Record, bool) {
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.records[turnID]
	if !ok {
		return nil, false
	}
	sr := el.Value.(*storedRecord)
	if now.After(sr.expiresAt) {
		s.removeElement(el, "expired")
		return nil, false
	}
	return sr.rec, true
}

// GetRecentTurns returns up to n live records for a character, newest
// first. Ids whose records have been evicted are skipped.
func (s *Store) GetRecentTurns(characterID string, n int) []*Record {
	if n <= 0 {
		return nil
	}
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	ring := s.rings[characterID]
	if ring == nil {
		return nil
	}
	var out []*Record
	for _, id := range ring.all() {
		el, ok := s.records[id]
		if !ok {
			continue
		}
		sr := el.Value.(*storedRecord)
		if now.After(sr.expiresAt) {
			continue
		}
		out = append(out, sr.rec)
		if len(out) == n {
			break
		}
	}
	return out
}

// List returns live records matching the filter, newest insert first,
// up to limit (0 = unlimited).
func (s *Store) List(f *Filter, limit int) []*Record {
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for el := s.order.Front(); el != nil; el = el.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		sr := el.Value.(*storedRecord)
		if now.After(sr.expiresAt) {
			continue
		}
		if !f.Matches(sr.rec) {
			continue
		}
		out = append(out, sr.rec)
	}
	return out
}

// Size returns the number of held records, expired included until the
// next sweep touches them.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep removes expired records and returns how many went.
func (s *Store) Sweep() int {
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropExpired(now)
}

func (s *Store) dropExpired(now time.Time) int {
	dropped := 0
	// Oldest entries sit at the back; inserts share one TTL, so the
	// first live entry ends the scan.
	for el := s.order.Back(); el != nil; {
		sr := el.Value.(*storedRecord)
		if !now.After(sr.expiresAt) {
			break
		}
		prev := el.Prev()
		s.removeElement(el, "expired")
		el = prev
		dropped++
	}
	if dropped > 0 {
		s.updateGauge()
	}
	return dropped
}

func (s *Store) evictOldest() {
	oldest := s.order.Back()
	if oldest == nil {
		return
	}
	s.removeElement(oldest, "capacity")
}

func (s *Store) removeElement(el *list.Element, reason string) {
	sr := el.Value.(*storedRecord)
	s.order.Remove(el)
	delete(s.records, sr.rec.TurnID)
	if s.exporter != nil {
		s.exporter.RecordAuditEviction(reason)
	}
}

func (s *Store) updateGauge() {
	if s.exporter != nil {
		s.exporter.SetAuditEntries(len(s.records))
	}
}

// sanitize copies the record with preview bounds applied, leaving the
// caller's record untouched.
func sanitize(rec *Record, now time.Time) *Record {
	dup := *rec
	dup.Narrative = strutil.Truncate(dup.Narrative, narrativePreviewLimit)
	dup.PlayerAction = strutil.Truncate(dup.PlayerAction, actionPreviewLimit)
	dup.Extensions = nil
	if dup.CreatedAt.IsZero() {
		dup.CreatedAt = now
	}
	return &dup
}

// idRing is a fixed-size ring of the most recent turn ids for one
// character. Writes overwrite the oldest slot.
type idRing struct {
	ids  []string
	next int
	size int
}

func newIDRing(capacity int) *idRing {
	return &idRing{ids: make([]string, capacity)}
}

func (r *idRing) push(id string) {
	r.ids[r.next] = id
	r.next = (r.next + 1) % len(r.ids)
	if r.size < len(r.ids) {
		r.size++
	}
}

// all returns the held ids, newest first.
func (r *idRing) all() []string {
	out := make([]string, 0, r.size)
	for i := 1; i <= r.size; i++ {
		out = append(out, r.ids[(r.next-i+len(r.ids))%len(r.ids)])
	}
	return out
}
