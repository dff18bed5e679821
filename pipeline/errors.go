package pipeline

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidQuery     = errors.New("invalid search query")
	ErrSearchFailure    = errors.New("search failed")
	ErrExpiredSelection = errors.New("selection expired or out of range")
	ErrDeliveryFailure  = errors.New("delivery failed")
	ErrBusy             = errors.New("a download is already in progress")
	ErrInternal         = errors.New("internal pipeline failure")
)

// QuotaExceededError is returned when the daily limit denies a download.
type QuotaExceededError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily limit of %d downloads reached, retry after %s", e.Limit, e.RetryAfter.Round(time.Second))
}
