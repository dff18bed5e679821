package quota

import (
	"context"
	"sync"
	"time"

	"VKMBot/model"
)

// HistoryEntry is one committed download kept by MemoryStore.
type HistoryEntry struct {
	UserID   int64
	Title    string
	Duration string
	At       time.Time
}

// MemoryStore is a Store for tests and single-process CLI runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[int64]*model.QuotaRecord
	history []HistoryEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]*model.QuotaRecord)}
}

func (s *MemoryStore) record(userID int64) *model.QuotaRecord {
	r, ok := s.records[userID]
	if !ok {
		r = &model.QuotaRecord{UserID: userID, Tier: model.TierFree}
		s.records[userID] = r
	}
	return r
}

func (s *MemoryStore) GetQuota(_ context.Context, userID int64) (*model.QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[userID]; ok {
		cp := *r
		return &cp, nil
	}
	return &model.QuotaRecord{UserID: userID, Tier: model.TierFree}, nil
}

func (s *MemoryStore) Reserve(_ context.Context, userID int64, now time.Time, freeLimit int) (*model.QuotaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(userID)
	ok := r.TryReserve(now, freeLimit)
	cp := *r
	return &cp, ok, nil
}

func (s *MemoryStore) CommitDownload(_ context.Context, userID int64, title, duration string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(userID).TotalDownloads++
	s.history = append(s.history, HistoryEntry{UserID: userID, Title: title, Duration: duration, At: time.Now()})
	return nil
}

func (s *MemoryStore) ReleaseReservation(_ context.Context, userID int64, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(userID).ReleaseReservation(day)
	return nil
}

// SetTier sets a user's tier and optional premium expiry.
func (s *MemoryStore) SetTier(userID int64, tier model.Tier, expires *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(userID)
	r.Tier = tier
	r.PremiumExpiresAt = expires
}

// SetDownloadsToday seeds the daily counter for day.
func (s *MemoryStore) SetDownloadsToday(userID int64, n int, day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(userID)
	r.DownloadsToday = n
	r.LastResetDate = day
}

// History returns a copy of the committed downloads.
func (s *MemoryStore) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}
