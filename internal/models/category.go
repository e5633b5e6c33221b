package models

// Category is a flat listing category. A listing's category kind must match
// the listing's kind.
type Category struct {
	Base `bson:",inline"`
	Name string      `bson:"name" json:"name"`
	Kind ListingKind `bson:"kind" json:"kind"`
}
