package quota

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"VKMBot/logger"
	"VKMBot/model"
)

// ErrReservationSettled is returned when a reservation is committed or
// released twice.
var ErrReservationSettled = errors.New("reservation already settled")

// Decision is the outcome of CheckAndReserve.
type Decision struct {
	Allowed     bool
	Reservation *Reservation
	Tier        model.Tier
	Limit       int
	// Remaining is the number of downloads left today after this one, or
	// -1 for unlimited tiers.
	Remaining  int
	RetryAfter time.Duration
}

// Reservation is a provisional download slot. It must be committed or
// released exactly once.
type Reservation struct {
	UserID  int64
	Day     string
	Tier    model.Tier
	settled atomic.Bool
}

// Manager enforces daily download limits.
type Manager struct {
	store        Store
	freeLimit    int
	premiumLimit int
	clock        func() time.Time
	locks        *keyedMutex
}

type Option func(*Manager)

// WithClock replaces time.Now, for tests and day-boundary handling.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

func NewManager(store Store, freeLimit, premiumLimit int, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		freeLimit:    freeLimit,
		premiumLimit: premiumLimit,
		clock:        time.Now,
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) FreeLimit() int { return m.freeLimit }

// CheckAndReserve decides whether userID may download now and, if so,
// counts the download immediately so concurrent attempts observe it.
func (m *Manager) CheckAndReserve(ctx context.Context, userID int64) (Decision, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	now := m.clock()
	record, allowed, err := m.store.Reserve(ctx, userID, now, m.freeLimit)
	if err != nil {
		return Decision{}, fmt.Errorf("quota check for user %d: %w", userID, err)
	}

	tier := record.EffectiveTier(now)
	d := Decision{
		Allowed:   allowed,
		Tier:      tier,
		Limit:     m.limitFor(tier),
		Remaining: record.Remaining(now, m.freeLimit),
	}
	if !allowed {
		d.RetryAfter = model.NextMidnight(now).Sub(now)
		logger.Info("[Quota] daily limit reached",
			logger.Int64("userId", userID),
			logger.Int("downloadsToday", record.DownloadsToday),
			logger.Duration("retryAfter", d.RetryAfter))
		return d, nil
	}

	d.Reservation = &Reservation{UserID: userID, Day: record.LastResetDate, Tier: tier}
	if tier == model.TierPremium && record.DownloadsToday > m.premiumLimit {
		logger.Warn("[Quota] premium user above nominal limit",
			logger.Int64("userId", userID),
			logger.Int("downloadsToday", record.DownloadsToday))
	}
	return d, nil
}

// Commit finalizes a reservation after a successful delivery.
func (m *Manager) Commit(ctx context.Context, res *Reservation, title, duration string) error {
	if res == nil || !res.settled.CompareAndSwap(false, true) {
		return ErrReservationSettled
	}
	unlock := m.locks.Lock(res.UserID)
	defer unlock()

	if err := m.store.CommitDownload(ctx, res.UserID, title, duration); err != nil {
		return fmt.Errorf("quota commit for user %d: %w", res.UserID, err)
	}
	return nil
}

// Release returns an unused reservation. A reservation from a day that
// has since rolled over is discarded without touching today's counter.
func (m *Manager) Release(ctx context.Context, res *Reservation) error {
	if res == nil || !res.settled.CompareAndSwap(false, true) {
		return ErrReservationSettled
	}
	unlock := m.locks.Lock(res.UserID)
	defer unlock()

	if err := m.store.ReleaseReservation(ctx, res.UserID, res.Day); err != nil {
		return fmt.Errorf("quota release for user %d: %w", res.UserID, err)
	}
	return nil
}

// Status reports the user's quota as of now without reserving.
func (m *Manager) Status(ctx context.Context, userID int64) (*Snapshot, error) {
	record, err := m.store.GetQuota(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("quota status for user %d: %w", userID, err)
	}
	now := m.clock()
	tier := record.EffectiveTier(now)
	used := record.DownloadsToday
	if record.LastResetDate != model.DayOf(now) {
		used = 0
	}
	return &Snapshot{
		UserID:           userID,
		Tier:             tier,
		Limit:            m.limitFor(tier),
		UsedToday:        used,
		Remaining:        record.Remaining(now, m.freeLimit),
		TotalDownloads:   record.TotalDownloads,
		PremiumExpiresAt: record.PremiumExpiresAt,
		ResetsIn:         model.NextMidnight(now).Sub(now),
	}, nil
}

func (m *Manager) limitFor(tier model.Tier) int {
	if tier == model.TierPremium {
		return m.premiumLimit
	}
	return m.freeLimit
}

// Snapshot is a read-only view of a user's quota.
type Snapshot struct {
	UserID           int64         `json:"userId"`
	Tier             model.Tier    `json:"tier"`
	Limit            int           `json:"limit"`
	UsedToday        int           `json:"usedToday"`
	Remaining        int           `json:"remaining"`
	TotalDownloads   int           `json:"totalDownloads"`
	PremiumExpiresAt *time.Time    `json:"premiumExpiresAt,omitempty"`
	ResetsIn         time.Duration `json:"resetsIn"`
}
