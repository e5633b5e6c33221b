package models

import (
	"time"
)

// UserRole defines the platform-level role of a user.
type UserRole string

const (
	RoleUser      UserRole = "user"
	RoleModerator UserRole = "moderator"
	RoleAdmin     UserRole = "admin"
)

// User represents a registered user. Phone is the unique natural key; email
// is optional and not guaranteed unique. Users are never hard-deleted.
type User struct {
	Base         `bson:",inline"`
	Phone        string    `bson:"phone" json:"phone"`
	Name         string    `bson:"name" json:"name"`
	About        string    `bson:"about,omitempty" json:"about,omitempty"`
	Email        string    `bson:"email,omitempty" json:"email,omitempty"`
	AvatarURL    string    `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	PasswordHash string    `bson:"password" json:"-"` // Store hash, not plaintext
	Role         UserRole  `bson:"role" json:"role"`
	Verified     bool      `bson:"verified" json:"verified"`
	Rating       float64   `bson:"rating" json:"rating"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
	Deleted      bool      `bson:"deleted" json:"-"` // Soft delete flag
}

// PublicProfile is the author info attached to decorated listings. It never
// exposes phone, email or soft-delete state.
type PublicProfile struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Verified  bool    `json:"verified"`
	Rating    float64 `json:"rating"`
}

// Public returns the user's public profile view.
func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:        u.ID.Hex(),
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Verified:  u.Verified,
		Rating:    u.Rating,
	}
}

// UserPatch is a partial profile update. A nil field means "leave as is";
// there is no way to null a field out through a patch.
type UserPatch struct {
	Name      *string `json:"name,omitempty"`
	About     *string `json:"about,omitempty"`
	Email     *string `json:"email,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.About == nil && p.Email == nil && p.AvatarURL == nil
}
