package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{UnknownDuration, "Unknown"},
		{0, "Unknown"},
		{5 * time.Second, "0:05"},
		{225 * time.Second, "3:45"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatDuration(tc.in), tc.in.String())
	}
}

func TestSecondsToDuration(t *testing.T) {
	assert.Equal(t, UnknownDuration, SecondsToDuration(0))
	assert.Equal(t, UnknownDuration, SecondsToDuration(-3))
	assert.Equal(t, 212500*time.Millisecond, SecondsToDuration(212.5))
}

func TestTryReserveFreeLimit(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local)
	q := &QuotaRecord{UserID: 1, Tier: TierFree, DownloadsToday: 4, LastResetDate: DayOf(now)}

	require.True(t, q.TryReserve(now, 5))
	assert.Equal(t, 5, q.DownloadsToday)
	assert.False(t, q.TryReserve(now, 5))
	assert.Equal(t, 5, q.DownloadsToday)
	assert.Equal(t, 0, q.Remaining(now, 5))
}

func TestTryReserveRollsOverOnNewDay(t *testing.T) {
	yesterday := time.Date(2026, 3, 9, 23, 59, 0, 0, time.Local)
	today := yesterday.Add(2 * time.Minute)
	q := &QuotaRecord{Tier: TierFree, DownloadsToday: 5, LastResetDate: DayOf(yesterday)}

	assert.Equal(t, 5, q.Remaining(today, 5))
	require.True(t, q.TryReserve(today, 5))
	assert.Equal(t, 1, q.DownloadsToday)
	assert.Equal(t, DayOf(today), q.LastResetDate)
}

func TestReleaseReservationAfterMidnightIsNoop(t *testing.T) {
	day1 := time.Date(2026, 3, 9, 23, 59, 0, 0, time.Local)
	q := &QuotaRecord{Tier: TierFree}
	require.True(t, q.TryReserve(day1, 5))

	day2 := day1.Add(2 * time.Minute)
	require.True(t, q.TryReserve(day2, 5))

	assert.False(t, q.ReleaseReservation(DayOf(day1)))
	assert.Equal(t, 1, q.DownloadsToday)
	assert.True(t, q.ReleaseReservation(DayOf(day2)))
	assert.Equal(t, 0, q.DownloadsToday)
}

func TestEffectiveTierHonoursExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	q := &QuotaRecord{Tier: TierPremium}
	assert.Equal(t, TierPremium, q.EffectiveTier(now))

	q.PremiumExpiresAt = &future
	assert.Equal(t, TierPremium, q.EffectiveTier(now))
	assert.Equal(t, -1, q.Remaining(now, 5))

	q.PremiumExpiresAt = &past
	assert.Equal(t, TierFree, q.EffectiveTier(now))
}

func TestPremiumAlwaysReserves(t *testing.T) {
	now := time.Now()
	q := &QuotaRecord{Tier: TierPremium, DownloadsToday: 250, LastResetDate: DayOf(now)}
	assert.True(t, q.TryReserve(now, 5))
	assert.Equal(t, 251, q.DownloadsToday)
}

func TestNextMidnight(t *testing.T) {
	now := time.Date(2026, 12, 31, 22, 30, 0, 0, time.Local)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.Local), NextMidnight(now))
}

func TestJobToken(t *testing.T) {
	a := NewDownloadJob(1, Candidate{Title: "x"}, TierFree)
	b := NewDownloadJob(1, Candidate{Title: "x"}, TierFree)

	assert.Len(t, a.Token(), 8)
	assert.NotEqual(t, a.Token(), b.Token())
	assert.Equal(t, JobPending, a.Status)
	assert.False(t, a.IsFinished())
}

func TestUserQuotaProjection(t *testing.T) {
	u := &User{ID: 7, IsPremium: true, DailyDownloads: 2, LastResetDate: "2026-03-10", TotalDownloads: 9}
	q := u.QuotaRecord()
	assert.Equal(t, TierPremium, q.Tier)
	assert.Equal(t, 2, q.DownloadsToday)

	q.DownloadsToday = 3
	q.TotalDownloads = 10
	u.ApplyQuota(q)
	assert.Equal(t, 3, u.DailyDownloads)
	assert.Equal(t, 10, u.TotalDownloads)
}
