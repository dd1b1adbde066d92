package models

import "time"

// Auth providers.
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// User owns positions and transactions. Password is nil for identities
// authenticated by an external provider.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"user_id"`
	Name      string    `gorm:"type:varchar(50);not null" json:"name"`
	Email     string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"email"`
	Password  *string   `gorm:"type:varchar(255)" json:"-"`
	Provider  string    `gorm:"type:varchar(50);not null;default:local" json:"provider"`
	CreatedAt time.Time `json:"-"`
}
