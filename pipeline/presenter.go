package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"VKMBot/model"
)

// Presenter is the transport that shows pipeline output to a user.
type Presenter interface {
	PresentCandidates(ctx context.Context, userID int64, candidates []CandidateView) error
	PresentStatus(ctx context.Context, userID int64, status Status) error
	PresentArtifact(ctx context.Context, userID int64, artifact *model.Artifact) error
}

// ProgressPresenter is implemented by transports that can show download
// progress.
type ProgressPresenter interface {
	PresentProgress(ctx context.Context, userID int64, progress Progress) error
}

type Progress struct {
	JobID      string `json:"jobId"`
	Title      string `json:"title"`
	Downloaded int64  `json:"downloaded"`
	Total      int64  `json:"total"`
}

const maxViewTitleRunes = 50

// CandidateView is a candidate prepared for display.
type CandidateView struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Duration string `json:"duration"`
	Uploader string `json:"uploader"`
}

func NewCandidateViews(candidates []model.Candidate) []CandidateView {
	views := make([]CandidateView, len(candidates))
	for i, c := range candidates {
		views[i] = CandidateView{
			Index:    i,
			Title:    truncateRunes(c.Title, maxViewTitleRunes),
			Duration: model.FormatDuration(c.Duration),
			Uploader: c.Uploader,
		}
	}
	return views
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

type StatusKind int

const (
	StatusInvalidQuery StatusKind = iota
	StatusSearching
	StatusNoResults
	StatusSearchFailed
	StatusExpired
	StatusBusy
	StatusQuotaExceeded
	StatusDownloading
	StatusDownloadFailed
	StatusTrackUnavailable
	StatusDeliveryFailed
	StatusDelivered
	StatusInternal
)

var statusNames = map[StatusKind]string{
	StatusInvalidQuery:     "invalid_query",
	StatusSearching:        "searching",
	StatusNoResults:        "no_results",
	StatusSearchFailed:     "search_failed",
	StatusExpired:          "expired",
	StatusBusy:             "busy",
	StatusQuotaExceeded:    "quota_exceeded",
	StatusDownloading:      "downloading",
	StatusDownloadFailed:   "download_failed",
	StatusTrackUnavailable: "track_unavailable",
	StatusDeliveryFailed:   "delivery_failed",
	StatusDelivered:        "delivered",
	StatusInternal:         "internal",
}

func (k StatusKind) String() string {
	if name, ok := statusNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k StatusKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsFailure reports whether the status ends an operation unsuccessfully.
func (k StatusKind) IsFailure() bool {
	switch k {
	case StatusInvalidQuery, StatusSearchFailed, StatusExpired, StatusBusy,
		StatusQuotaExceeded, StatusDownloadFailed, StatusTrackUnavailable,
		StatusDeliveryFailed, StatusInternal:
		return true
	}
	return false
}

// Status is a user-facing message with a machine-readable kind.
type Status struct {
	Kind       StatusKind    `json:"kind"`
	Text       string        `json:"text"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	// Remaining is downloads left today; -1 means unlimited.
	Remaining int `json:"remaining"`
}

func newStatus(kind StatusKind, text string) Status {
	return Status{Kind: kind, Text: text}
}

func invalidQueryStatus() Status {
	return newStatus(StatusInvalidQuery, "Send a song or artist name of at least 2 characters to search.")
}

func searchingStatus(query string) Status {
	return newStatus(StatusSearching, fmt.Sprintf("Searching for %q...", truncateRunes(query, maxViewTitleRunes)))
}

func noResultsStatus() Status {
	return newStatus(StatusNoResults, "Nothing found. Try another query.")
}

func searchFailedStatus() Status {
	return newStatus(StatusSearchFailed, "Search failed. Please try again later.")
}

func expiredStatus() Status {
	return newStatus(StatusExpired, "Search results expired. Please search again.")
}

func busyStatus() Status {
	return newStatus(StatusBusy, "A download is already in progress. Please wait for it to finish.")
}

func quotaExceededStatus(limit int, retryAfter time.Duration) Status {
	s := newStatus(StatusQuotaExceeded, fmt.Sprintf(
		"Daily limit of %d tracks reached. It resets in %s. Premium lifts the limit.",
		limit, formatWait(retryAfter)))
	s.RetryAfter = retryAfter
	s.Remaining = 0
	return s
}

func downloadingStatus(title string) Status {
	return newStatus(StatusDownloading, fmt.Sprintf("Downloading %q...", truncateRunes(title, maxViewTitleRunes)))
}

func downloadFailedStatus() Status {
	return newStatus(StatusDownloadFailed, "Download failed. Please try again later.")
}

func trackUnavailableStatus() Status {
	return newStatus(StatusTrackUnavailable, "This track is unavailable. Try another result.")
}

func deliveryFailedStatus() Status {
	return newStatus(StatusDeliveryFailed, "Could not deliver the file. Please try again.")
}

func deliveredStatus(remaining int) Status {
	text := "Done."
	if remaining >= 0 {
		text = fmt.Sprintf("Done. Downloads left today: %d.", remaining)
	}
	s := newStatus(StatusDelivered, text)
	s.Remaining = remaining
	return s
}

func internalStatus() Status {
	return newStatus(StatusInternal, "Something went wrong. Please try again.")
}

// formatWait renders a wait as "2h05m" or "17m", rounding up to a minute.
func formatWait(d time.Duration) string {
	if d <= 0 {
		return "less than a minute"
	}
	mins := int((d + time.Minute - 1) / time.Minute)
	if mins >= 60 {
		return fmt.Sprintf("%dh%02dm", mins/60, mins%60)
	}
	return fmt.Sprintf("%dm", mins)
}
