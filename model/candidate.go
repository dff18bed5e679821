package model

import (
	"fmt"
	"time"
)

// UnknownDuration marks a candidate whose provider did not report a length.
const UnknownDuration time.Duration = -1

// Candidate is one search result offered to the user.
type Candidate struct {
	Title      string        `json:"title"`
	Locator    string        `json:"locator"`
	Duration   time.Duration `json:"duration"`
	Uploader   string        `json:"uploader"`
	Popularity int64         `json:"popularity"`
}

// DurationKnown reports whether the provider supplied a length.
func (c Candidate) DurationKnown() bool {
	return c.Duration > 0
}

// FormatDuration renders d as m:ss or h:mm:ss. Unknown or non-positive
// lengths render as "Unknown".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "Unknown"
	}
	total := int64(d.Round(time.Second) / time.Second)
	if total == 0 {
		total = 1
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// SecondsToDuration converts a provider-reported length in seconds.
// Absent or non-positive values become UnknownDuration.
func SecondsToDuration(secs float64) time.Duration {
	if secs <= 0 {
		return UnknownDuration
	}
	return time.Duration(secs * float64(time.Second))
}
