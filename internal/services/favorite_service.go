package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kvartal/market/internal/db"
	"kvartal/market/internal/models"
)

// IFavoriteService defines the per-user favorite overlay on product
// listings. Favorites never alter the underlying listing documents and are
// never visible to other users.
type IFavoriteService interface {
	Add(ctx context.Context, userID, productID primitive.ObjectID) error
	Remove(ctx context.Context, userID, productID primitive.ObjectID) error
	IsFavorite(ctx context.Context, userID, productID primitive.ObjectID) (bool, error)
	Annotate(ctx context.Context, userID primitive.ObjectID, productIDs []primitive.ObjectID) (map[primitive.ObjectID]bool, error)
	ListProductIDs(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error)
}

const favoritesCollection = "favorites"

type favoriteService struct {
	db *mongo.Database
}

// NewFavoriteService creates a new FavoriteService.
func NewFavoriteService(db *mongo.Database) IFavoriteService {
	return &favoriteService{db: db}
}

// Add marks a product as favorited. Adding twice is a success: the unique
// (user_id, product_id) index rejects the duplicate row and the conflict is
// absorbed rather than surfaced.
func (s *favoriteService) Add(ctx context.Context, userID, productID primitive.ObjectID) error {
	fav := &models.Favorite{
		Base:      models.NewBase(),
		UserID:    userID,
		ProductID: productID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Collection(favoritesCollection).InsertOne(ctx, fav)
	if err != nil && !db.IsMongoDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert favorite for product %s: %w", productID.Hex(), err)
	}
	return nil
}

// Remove unmarks a product. Removing a product that was never favorited is a
// no-op success, not an error.
func (s *favoriteService) Remove(ctx context.Context, userID, productID primitive.ObjectID) error {
	_, err := s.db.Collection(favoritesCollection).
		DeleteOne(ctx, bson.M{"user_id": userID, "product_id": productID})
	if err != nil {
		return fmt.Errorf("failed to remove favorite for product %s: %w", productID.Hex(), err)
	}
	return nil
}

// IsFavorite reports whether the user has favorited the product.
func (s *favoriteService) IsFavorite(ctx context.Context, userID, productID primitive.ObjectID) (bool, error) {
	err := db.TryRead(func() error {
		return s.db.Collection(favoritesCollection).
			FindOne(ctx, bson.M{"user_id": userID, "product_id": productID}).Err()
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, db.Translate(err, "favorite")
	}
	return true, nil
}

// Annotate returns the subset of productIDs the user has favorited, as a
// set. One $in query regardless of page size.
func (s *favoriteService) Annotate(ctx context.Context, userID primitive.ObjectID, productIDs []primitive.ObjectID) (map[primitive.ObjectID]bool, error) {
	set := make(map[primitive.ObjectID]bool, len(productIDs))
	if len(productIDs) == 0 || userID.IsZero() {
		return set, nil
	}

	filter := bson.M{"user_id": userID, "product_id": bson.M{"$in": productIDs}}
	cursor, err := s.db.Collection(favoritesCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query favorites: %w", err)
	}
	defer cursor.Close(ctx)

	var favs []models.Favorite
	if err := cursor.All(ctx, &favs); err != nil {
		return nil, fmt.Errorf("failed to decode favorites: %w", err)
	}
	for _, f := range favs {
		set[f.ProductID] = true
	}
	return set, nil
}

// ListProductIDs returns all product ids the user has favorited, newest first.
func (s *favoriteService) ListProductIDs(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.db.Collection(favoritesCollection).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	defer cursor.Close(ctx)

	var favs []models.Favorite
	if err := cursor.All(ctx, &favs); err != nil {
		return nil, fmt.Errorf("failed to decode favorites: %w", err)
	}
	ids := make([]primitive.ObjectID, 0, len(favs))
	for _, f := range favs {
		ids = append(ids, f.ProductID)
	}
	return ids, nil
}
