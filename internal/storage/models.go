package storage

import "time"

const (
	PlatformTelegram  = "telegram"
	PlatformWhatsApp  = "whatsapp"
	PlatformInstagram = "instagram"
)

// ValidPlatform reports whether p names a supported messaging platform.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformTelegram, PlatformWhatsApp, PlatformInstagram:
		return true
	}
	return false
}

type User struct {
	ID              string
	Email           *string
	FirstName       *string
	LastName        *string
	ProfileImageURL *string
	PasswordHash    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Bot struct {
	ID         int64
	UserID     string
	Platform   string
	Name       string
	EncToken   *string
	WebhookURL *string
	IsActive   bool
	ConfigJSON string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type KnowledgeFile struct {
	ID           int64
	UserID       string
	FileName     string
	OriginalName string
	FilePath     string
	FileSize     int64
	MimeType     string
	IsProcessed  bool
	CreatedAt    time.Time
}

type MessageLog struct {
	ID             int64
	BotID          int64
	Platform       string
	MessageID      *string
	SenderID       *string
	MessageText    *string
	ResponseText   *string
	ResponseTimeMs *int64
	IsAutoResponse bool
	CreatedAt      time.Time
}
