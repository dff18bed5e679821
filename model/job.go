package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus tracks a download job through retrieval.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobFetching JobStatus = "fetching"
	JobReady    JobStatus = "ready"
	JobFailed   JobStatus = "failed"
)

// DownloadJob is a single retrieval attempt for a selected candidate.
type DownloadJob struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"userId"`
	Candidate    Candidate `json:"candidate"`
	Tier         Tier      `json:"tier"`
	Status       JobStatus `json:"status"`
	ArtifactPath string    `json:"artifactPath,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func NewDownloadJob(userID int64, candidate Candidate, tier Tier) *DownloadJob {
	return &DownloadJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		Candidate: candidate,
		Tier:      tier,
		Status:    JobPending,
		CreatedAt: time.Now(),
	}
}

// Token is a short job-unique suffix for artifact names.
func (j *DownloadJob) Token() string {
	hex := strings.ReplaceAll(j.ID, "-", "")
	if len(hex) > 8 {
		return hex[:8]
	}
	return hex
}

func (j *DownloadJob) IsFinished() bool {
	return j.Status == JobReady || j.Status == JobFailed
}

// Artifact is a retrieved audio file on local disk.
type Artifact struct {
	Path     string        `json:"path"`
	Title    string        `json:"title"`
	Uploader string        `json:"uploader"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration"`
}
