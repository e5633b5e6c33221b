package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Favorite marks a product listing as favorited by a user. The
// (UserID, ProductID) pair is unique; favorites apply to products only and
// are never visible to other users.
type Favorite struct {
	Base      `bson:",inline"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	ProductID primitive.ObjectID `bson:"product_id" json:"product_id"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
