package model

import "time"

// User is the persisted quota row for one messenger user.
type User struct {
	ID               int64      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Username         string     `json:"username" gorm:"size:100"`
	FirstName        string     `json:"firstName" gorm:"size:100"`
	IsPremium        bool       `json:"isPremium" gorm:"not null;default:false;index"`
	PremiumExpiresAt *time.Time `json:"premiumExpiresAt,omitempty"`
	TotalDownloads   int        `json:"totalDownloads" gorm:"not null;default:0"`
	DailyDownloads   int        `json:"dailyDownloads" gorm:"not null;default:0"`
	LastResetDate    string     `json:"lastResetDate" gorm:"size:10"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// QuotaRecord projects the row onto the quota view.
func (u *User) QuotaRecord() *QuotaRecord {
	tier := TierFree
	if u.IsPremium {
		tier = TierPremium
	}
	return &QuotaRecord{
		UserID:           u.ID,
		Tier:             tier,
		DownloadsToday:   u.DailyDownloads,
		LastResetDate:    u.LastResetDate,
		TotalDownloads:   u.TotalDownloads,
		PremiumExpiresAt: u.PremiumExpiresAt,
	}
}

// ApplyQuota copies counter fields back from a quota view.
func (u *User) ApplyQuota(q *QuotaRecord) {
	u.DailyDownloads = q.DownloadsToday
	u.LastResetDate = q.LastResetDate
	u.TotalDownloads = q.TotalDownloads
}

// Download is one delivered track in a user's history.
type Download struct {
	ID           uint64    `json:"id" gorm:"primaryKey"`
	UserID       int64     `json:"userId" gorm:"not null;index"`
	Title        string    `json:"title" gorm:"size:500"`
	Duration     string    `json:"duration" gorm:"size:20"`
	DownloadedAt time.Time `json:"downloadedAt" gorm:"autoCreateTime;index"`
}

func (Download) TableName() string {
	return "downloads"
}
