package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ListingKind distinguishes the two listing variants.
type ListingKind string

const (
	KindProduct ListingKind = "product"
	KindService ListingKind = "service"
)

// ListingStatus is the lifecycle state of a listing. Products move
// active -> sold or active -> archived, both terminal. Services toggle
// active <-> inactive.
type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusSold     ListingStatus = "sold"
	StatusArchived ListingStatus = "archived"
	StatusInactive ListingStatus = "inactive"
)

// Condition applies to products only.
type Condition string

const (
	ConditionNew  Condition = "new"
	ConditionUsed Condition = "used"
)

// Listing represents a product or service entry. A listing belongs to
// exactly one space and one author, and references a category whose kind
// matches the listing's kind.
type Listing struct {
	Base        `bson:",inline"`
	Kind        ListingKind        `bson:"kind" json:"kind"`
	SpaceID     primitive.ObjectID `bson:"space_id" json:"space_id"`
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	CategoryID  primitive.ObjectID `bson:"category_id" json:"category_id"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description" json:"description"`
	Images      []string           `bson:"images" json:"images"` // Ordered opaque URLs
	Status      ListingStatus      `bson:"status" json:"status"`
	Views       int64              `bson:"views" json:"views"`

	// Product-only fields. Price keeps no omitempty: a free product is
	// price 0 and must persist so $gte range filters still match it.
	Price     float64   `bson:"price" json:"price,omitempty"`
	Condition Condition `bson:"condition,omitempty" json:"condition,omitempty"`

	// Service-only field: numeric string or free text like "negotiable".
	PriceText string `bson:"price_text,omitempty" json:"price_text,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
	Deleted   bool      `bson:"deleted" json:"-"`              // Soft delete flag
	DeletedAt time.Time `bson:"deleted_at,omitempty" json:"-"` // Set on soft delete, drives purge
}

// CanTransition reports whether a status change is legal for the listing's
// kind. Staying put is always allowed (idempotent patch).
func (l *Listing) CanTransition(to ListingStatus) bool {
	if l.Status == to {
		return true
	}
	switch l.Kind {
	case KindProduct:
		// sold and archived are terminal.
		return l.Status == StatusActive && (to == StatusSold || to == StatusArchived)
	case KindService:
		return (l.Status == StatusActive && to == StatusInactive) ||
			(l.Status == StatusInactive && to == StatusActive)
	}
	return false
}

// ValidStatus reports whether the status value is meaningful for the kind.
func ValidStatus(kind ListingKind, s ListingStatus) bool {
	switch kind {
	case KindProduct:
		return s == StatusActive || s == StatusSold || s == StatusArchived
	case KindService:
		return s == StatusActive || s == StatusInactive
	}
	return false
}

// ListingPatch is a partial listing update. Nil means "leave as is".
// Status changes are validated against the kind's state machine.
type ListingPatch struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	CategoryID  *string        `json:"category_id,omitempty"`
	Images      *[]string      `json:"images,omitempty"`
	Status      *ListingStatus `json:"status,omitempty"`
	Price       *float64       `json:"price,omitempty"`
	Condition   *Condition     `json:"condition,omitempty"`
	PriceText   *string        `json:"price_text,omitempty"`
}

func (p ListingPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.CategoryID == nil &&
		p.Images == nil && p.Status == nil && p.Price == nil &&
		p.Condition == nil && p.PriceText == nil
}

// DecoratedListing is a listing joined with its author's public profile,
// category info and (for products, authenticated principals only) the
// caller's favorite flag.
type DecoratedListing struct {
	Listing  `bson:",inline"`
	Author   *PublicProfile `json:"author,omitempty"`
	Category *Category      `json:"category,omitempty"`
	Favorite bool           `json:"favorite"`
}

// ListingPage is one page of a filtered listing view.
type ListingPage struct {
	Items      []DecoratedListing `json:"items"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`
}
