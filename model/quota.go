package model

import "time"

// Tier is a user's quota class.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// DayLayout is the calendar-date format used for quota days.
const DayLayout = "2006-01-02"

// DayOf returns the server-local calendar date of t.
func DayOf(t time.Time) string {
	return t.Format(DayLayout)
}

// NextMidnight returns the first instant of the local day after t.
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// QuotaRecord is the per-user quota state.
type QuotaRecord struct {
	UserID           int64      `json:"userId"`
	Tier             Tier       `json:"tier"`
	DownloadsToday   int        `json:"downloadsToday"`
	LastResetDate    string     `json:"lastResetDate"`
	TotalDownloads   int        `json:"totalDownloads"`
	PremiumExpiresAt *time.Time `json:"premiumExpiresAt,omitempty"`
}

// EffectiveTier treats an expired premium subscription as free.
func (q *QuotaRecord) EffectiveTier(now time.Time) Tier {
	if q.Tier != TierPremium {
		return TierFree
	}
	if q.PremiumExpiresAt != nil && !q.PremiumExpiresAt.After(now) {
		return TierFree
	}
	return TierPremium
}

// Rollover resets the daily counter when day differs from the last reset date.
func (q *QuotaRecord) Rollover(day string) {
	if q.LastResetDate != day {
		q.LastResetDate = day
		q.DownloadsToday = 0
	}
}

// TryReserve applies the daily limit for the day of now and, when allowed, counts one
// download against it. Premium users are always allowed.
func (q *QuotaRecord) TryReserve(now time.Time, freeLimit int) bool {
	q.Rollover(DayOf(now))
	if q.EffectiveTier(now) == TierFree && q.DownloadsToday >= freeLimit {
		return false
	}
	q.DownloadsToday++
	return true
}

// ReleaseReservation undoes a reservation made on day. A reservation from a
// previous day has already been discarded by the rollover.
func (q *QuotaRecord) ReleaseReservation(day string) bool {
	if q.LastResetDate != day || q.DownloadsToday == 0 {
		return false
	}
	q.DownloadsToday--
	return true
}

// Remaining returns how many downloads are left today, or -1 when unlimited.
func (q *QuotaRecord) Remaining(now time.Time, freeLimit int) int {
	if q.EffectiveTier(now) == TierPremium {
		return -1
	}
	used := q.DownloadsToday
	if q.LastResetDate != DayOf(now) {
		used = 0
	}
	if used >= freeLimit {
		return 0
	}
	return freeLimit - used
}
