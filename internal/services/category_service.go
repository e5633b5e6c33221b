package services

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kvartal/market/internal/apperr"
	"kvartal/market/internal/db"
	"kvartal/market/internal/models"
)

// ICategoryService defines the interface for category operations.
type ICategoryService interface {
	Create(ctx context.Context, name string, kind models.ListingKind) (*models.Category, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Category, error)
	ListByKind(ctx context.Context, kind models.ListingKind) ([]models.Category, error)
}

const categoriesCollection = "categories"

type categoryService struct {
	db *mongo.Database
}

// NewCategoryService creates a new CategoryService.
func NewCategoryService(db *mongo.Database) ICategoryService {
	return &categoryService{db: db}
}

func (s *categoryService) Create(ctx context.Context, name string, kind models.ListingKind) (*models.Category, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Validation("category name is required")
	}
	if kind != models.KindProduct && kind != models.KindService {
		return nil, apperr.Validation("category kind must be product or service")
	}

	cat := &models.Category{Base: models.NewBase(), Name: name, Kind: kind}
	if _, err := s.db.Collection(categoriesCollection).InsertOne(ctx, cat); err != nil {
		return nil, fmt.Errorf("failed to insert category: %w", err)
	}
	return cat, nil
}

func (s *categoryService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Category, error) {
	var cat models.Category
	err := db.TryRead(func() error {
		return s.db.Collection(categoriesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&cat)
	})
	if err != nil {
		return nil, db.Translate(err, "category")
	}
	return &cat, nil
}

func (s *categoryService) ListByKind(ctx context.Context, kind models.ListingKind) ([]models.Category, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := s.db.Collection(categoriesCollection).Find(ctx, bson.M{"kind": kind}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer cursor.Close(ctx)

	var cats []models.Category
	if err := cursor.All(ctx, &cats); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	return cats, nil
}
