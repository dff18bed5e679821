package quota

import (
	"context"
	"time"

	"VKMBot/model"
)

// Store persists per-user quota records. Each method must be atomic with
// respect to the others for the same user.
type Store interface {
	GetQuota(ctx context.Context, userID int64) (*model.QuotaRecord, error)
	// Reserve applies the daily rollover and, when the limit allows,
	// counts one download for now's day.
	Reserve(ctx context.Context, userID int64, now time.Time, freeLimit int) (*model.QuotaRecord, bool, error)
	// CommitDownload bumps the lifetime total and appends history.
	CommitDownload(ctx context.Context, userID int64, title, duration string) error
	// ReleaseReservation returns a reservation made on day.
	ReleaseReservation(ctx context.Context, userID int64, day string) error
}
