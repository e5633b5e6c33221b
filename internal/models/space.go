package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SpaceType controls who may join a space.
type SpaceType string

const (
	SpacePublic  SpaceType = "public"
	SpacePrivate SpaceType = "private"
)

// MemberRole is a user's role within a space.
type MemberRole string

const (
	MemberOwner  MemberRole = "owner"
	MemberAdmin  MemberRole = "admin"
	MemberMember MemberRole = "member"
)

// Space is a community scope (e.g. a residential complex) under which
// listings are created and visible. Slug is globally unique. OwnerID is
// immutable except through ownership transfer, which keeps it equal to the
// single owner-role member row.
type Space struct {
	Base        `bson:",inline"`
	Name        string    `bson:"name" json:"name"`
	Slug        string    `bson:"slug" json:"slug"`
	Description string    `bson:"description,omitempty" json:"description,omitempty"`
	LogoURL     string    `bson:"logo_url,omitempty" json:"logo_url,omitempty"`
	Type        SpaceType `bson:"type" json:"type"`
	// InviteCode is required to join when Type is private. It is kept (but
	// ignored) while the space is public, so flipping private -> public ->
	// private re-uses the same code.
	InviteCode string             `bson:"invite_code,omitempty" json:"-"`
	OwnerID    primitive.ObjectID `bson:"owner_id" json:"owner_id"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
	Deleted    bool               `bson:"deleted" json:"-"`

	// MembersCount is derived: count(space_members where space_id), computed
	// on every read, never stored.
	MembersCount int64 `bson:"-" json:"members_count"`
}

// SpaceMember joins (space, user) with a role. The (SpaceID, UserID) pair is
// unique; exactly one member per space holds the owner role.
type SpaceMember struct {
	Base     `bson:",inline"`
	SpaceID  primitive.ObjectID `bson:"space_id" json:"space_id"`
	UserID   primitive.ObjectID `bson:"user_id" json:"user_id"`
	Role     MemberRole         `bson:"role" json:"role"`
	JoinedAt time.Time          `bson:"joined_at" json:"joined_at"`
}

// SpacePatch is a partial space-settings update. Slug and owner are not
// patchable; ownership moves only through TransferOwnership.
type SpacePatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	LogoURL     *string    `json:"logo_url,omitempty"`
	Type        *SpaceType `json:"type,omitempty"`
}

func (p SpacePatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.LogoURL == nil && p.Type == nil
}
