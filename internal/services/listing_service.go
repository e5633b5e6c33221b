package services

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kvartal/market/internal/access"
	"kvartal/market/internal/apperr"
	"kvartal/market/internal/config"
	"kvartal/market/internal/db"
	"kvartal/market/internal/models"
)

// IListingService defines the interface for listing operations, including
// the filtered/paginated query engine.
type IListingService interface {
	Create(ctx context.Context, p access.Principal, spec CreateListingSpec) (*models.Listing, error)
	GetByID(ctx context.Context, p access.Principal, listingID primitive.ObjectID) (*models.DecoratedListing, error)
	FindVisible(ctx context.Context, p access.Principal, listingID primitive.ObjectID) (*models.Listing, error)
	Update(ctx context.Context, p access.Principal, listingID primitive.ObjectID, patch models.ListingPatch) (*models.Listing, error)
	Delete(ctx context.Context, p access.Principal, listingID primitive.ObjectID) error
	IncrementViews(ctx context.Context, listingID primitive.ObjectID) error
	ListByFilter(ctx context.Context, p access.Principal, filter ListingFilter) (*models.ListingPage, error)
	ListFavorites(ctx context.Context, p access.Principal, page, pageSize int) (*models.ListingPage, error)
	AttachImage(ctx context.Context, listingID primitive.ObjectID, imageURL string) error
}

// CreateListingSpec carries the fields for creating a listing.
type CreateListingSpec struct {
	Kind        models.ListingKind `json:"kind"`
	SpaceID     primitive.ObjectID `json:"space_id"`
	CategoryID  primitive.ObjectID `json:"category_id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Images      []string           `json:"images"`
	Price       float64            `json:"price"`      // products
	Condition   models.Condition   `json:"condition"`  // products
	PriceText   string             `json:"price_text"` // services
}

// ListingFilter is the query engine input. Nil optional fields mean "no
// constraint". Page is 1-based.
type ListingFilter struct {
	Kind       models.ListingKind
	SpaceID    primitive.ObjectID
	CategoryID *primitive.ObjectID
	Status     *models.ListingStatus
	Condition  *models.Condition
	MinPrice   *float64
	MaxPrice   *float64
	Search     string
	Page       int
	PageSize   int
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db          *mongo.Database
	cfg         *config.Config
	spaceSvc    ISpaceService
	categorySvc ICategoryService
	favoriteSvc IFavoriteService
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config, spaceSvc ISpaceService, categorySvc ICategoryService, favoriteSvc IFavoriteService) IListingService {
	return &listingService{
		db:          db,
		cfg:         cfg,
		spaceSvc:    spaceSvc,
		categorySvc: categorySvc,
		favoriteSvc: favoriteSvc,
	}
}

// Create inserts a new active listing into a space the principal is a member
// of. The category's kind must match the listing's kind.
func (s *listingService) Create(ctx context.Context, p access.Principal, spec CreateListingSpec) (*models.Listing, error) {
	if !p.Authenticated {
		return nil, apperr.Unauthorized("authentication required")
	}
	if strings.TrimSpace(spec.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	switch spec.Kind {
	case models.KindProduct:
		if spec.Price < 0 {
			return nil, apperr.Validation("price cannot be negative")
		}
		if spec.Condition != models.ConditionNew && spec.Condition != models.ConditionUsed {
			return nil, apperr.Validation("condition must be new or used")
		}
	case models.KindService:
		if strings.TrimSpace(spec.PriceText) == "" {
			return nil, apperr.Validation("price text is required for services")
		}
		if spec.Condition != "" {
			return nil, apperr.Validation("condition does not apply to services")
		}
	default:
		return nil, apperr.Validation("kind must be product or service")
	}

	space, role, err := s.resolveSpace(ctx, p, spec.SpaceID)
	if err != nil {
		return nil, err
	}
	if d := access.Authorize(p, access.ActionCreateListing, access.Resource{Space: space, Role: role}); !d.Allowed {
		return nil, d.Reason
	}

	cat, err := s.categorySvc.FindByID(ctx, spec.CategoryID)
	if err != nil {
		return nil, err
	}
	if cat.Kind != spec.Kind {
		return nil, apperr.Validation("category %q is for %s listings", cat.Name, cat.Kind)
	}

	images := spec.Images
	if images == nil {
		images = []string{}
	}

	now := time.Now().UTC()
	listing := &models.Listing{
		Base:        models.NewBase(),
		Kind:        spec.Kind,
		SpaceID:     spec.SpaceID,
		UserID:      p.ID,
		CategoryID:  spec.CategoryID,
		Title:       spec.Title,
		Description: spec.Description,
		Images:      images,
		Status:      models.StatusActive,
		Views:       0,
		Price:       spec.Price,
		Condition:   spec.Condition,
		PriceText:   spec.PriceText,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.db.Collection(listingsCollection).InsertOne(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to insert listing for user %s: %w", p.ID.Hex(), err)
	}
	return listing, nil
}

// resolveSpace loads the listing's space and the principal's role in it.
func (s *listingService) resolveSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) (*models.Space, models.MemberRole, error) {
	var space models.Space
	err := db.TryRead(func() error {
		return s.db.Collection(spacesCollection).
			FindOne(ctx, bson.M{"_id": spaceID, "deleted": false}).Decode(&space)
	})
	if err != nil {
		return nil, "", db.Translate(err, "space")
	}
	role, err := s.spaceSvc.RoleOf(ctx, p.ID, spaceID)
	if err != nil {
		return nil, "", err
	}
	return &space, role, nil
}

// findListing fetches a non-deleted listing without visibility checks.
func (s *listingService) findListing(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	var listing models.Listing
	err := db.TryRead(func() error {
		return s.db.Collection(listingsCollection).
			FindOne(ctx, bson.M{"_id": listingID, "deleted": false}).Decode(&listing)
	})
	if err != nil {
		return nil, db.Translate(err, "listing")
	}
	return &listing, nil
}

// FindVisible fetches a listing after applying space visibility rules but
// without counting a view. Pre-checks (favoriting, image uploads) go through
// here so they never inflate the counter.
func (s *listingService) FindVisible(ctx context.Context, p access.Principal, listingID primitive.ObjectID) (*models.Listing, error) {
	listing, err := s.findListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	space, role, err := s.resolveSpace(ctx, p, listing.SpaceID)
	if err != nil {
		return nil, err
	}
	if d := access.Authorize(p, access.ActionViewListing, access.Resource{Space: space, Listing: listing, Role: role}); !d.Allowed {
		return nil, d.Reason
	}
	return listing, nil
}

// GetByID returns a decorated listing, applying space visibility rules. A
// detail fetch by anyone but the author counts a view; the counter bump is
// a storage-level $inc so concurrent viewers never lose updates.
func (s *listingService) GetByID(ctx context.Context, p access.Principal, listingID primitive.ObjectID) (*models.DecoratedListing, error) {
	listing, err := s.FindVisible(ctx, p, listingID)
	if err != nil {
		return nil, err
	}

	if !p.Authenticated || p.ID != listing.UserID {
		if err := s.IncrementViews(ctx, listingID); err != nil {
			return nil, err
		}
		listing.Views++
	}

	decorated, err := s.decorate(ctx, p, []models.Listing{*listing})
	if err != nil {
		return nil, err
	}
	return &decorated[0], nil
}

// Update applies the non-nil fields of the patch. Author only (staff may
// moderate). Status changes run through the kind's state machine; an illegal
// transition is rejected, never silently clamped.
func (s *listingService) Update(ctx context.Context, p access.Principal, listingID primitive.ObjectID, patch models.ListingPatch) (*models.Listing, error) {
	listing, err := s.findListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	space, role, err := s.resolveSpace(ctx, p, listing.SpaceID)
	if err != nil {
		return nil, err
	}
	if d := access.Authorize(p, access.ActionUpdateListing, access.Resource{Space: space, Listing: listing, Role: role}); !d.Allowed {
		return nil, d.Reason
	}
	if patch.IsEmpty() {
		return listing, nil
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return nil, apperr.Validation("title cannot be empty")
		}
		set["title"] = *patch.Title
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Images != nil {
		set["images"] = *patch.Images
	}
	if patch.CategoryID != nil {
		catID, err := primitive.ObjectIDFromHex(*patch.CategoryID)
		if err != nil {
			return nil, apperr.Validation("invalid category id")
		}
		cat, err := s.categorySvc.FindByID(ctx, catID)
		if err != nil {
			return nil, err
		}
		if cat.Kind != listing.Kind {
			return nil, apperr.Validation("category %q is for %s listings", cat.Name, cat.Kind)
		}
		set["category_id"] = catID
	}
	if patch.Status != nil {
		if !models.ValidStatus(listing.Kind, *patch.Status) {
			return nil, apperr.Validation("status %q does not apply to %s listings", *patch.Status, listing.Kind)
		}
		if !listing.CanTransition(*patch.Status) {
			return nil, apperr.InvalidState("cannot transition %s listing from %s to %s", listing.Kind, listing.Status, *patch.Status)
		}
		set["status"] = *patch.Status
	}
	if patch.Price != nil {
		if listing.Kind != models.KindProduct {
			return nil, apperr.Validation("price applies to products only")
		}
		if *patch.Price < 0 {
			return nil, apperr.Validation("price cannot be negative")
		}
		set["price"] = *patch.Price
	}
	if patch.Condition != nil {
		if listing.Kind != models.KindProduct {
			return nil, apperr.Validation("condition applies to products only")
		}
		if *patch.Condition != models.ConditionNew && *patch.Condition != models.ConditionUsed {
			return nil, apperr.Validation("condition must be new or used")
		}
		set["condition"] = *patch.Condition
	}
	if patch.PriceText != nil {
		if listing.Kind != models.KindService {
			return nil, apperr.Validation("price text applies to services only")
		}
		set["price_text"] = *patch.PriceText
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Listing
	err = s.db.Collection(listingsCollection).
		FindOneAndUpdate(ctx, bson.M{"_id": listingID, "deleted": false}, bson.M{"$set": set}, opts).
		Decode(&updated)
	if err != nil {
		return nil, db.Translate(err, "listing")
	}
	return &updated, nil
}

// Delete performs a soft delete. Author only (staff may moderate).
func (s *listingService) Delete(ctx context.Context, p access.Principal, listingID primitive.ObjectID) error {
	listing, err := s.findListing(ctx, listingID)
	if err != nil {
		return err
	}
	space, role, err := s.resolveSpace(ctx, p, listing.SpaceID)
	if err != nil {
		return err
	}
	if d := access.Authorize(p, access.ActionDeleteListing, access.Resource{Space: space, Listing: listing, Role: role}); !d.Allowed {
		return d.Reason
	}

	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"deleted": true, "deleted_at": now, "updated_at": now}}
	if _, err := s.db.Collection(listingsCollection).UpdateOne(ctx, bson.M{"_id": listingID}, update); err != nil {
		return fmt.Errorf("failed to delete listing %s: %w", listingID.Hex(), err)
	}
	return nil
}

// IncrementViews bumps the view counter atomically at the storage layer.
// Never read-modify-write: concurrent viewers must all be counted.
func (s *listingService) IncrementViews(ctx context.Context, listingID primitive.ObjectID) error {
	_, err := s.db.Collection(listingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID, "deleted": false},
		bson.M{"$inc": bson.M{"views": 1}})
	if err != nil {
		return fmt.Errorf("failed to increment views for listing %s: %w", listingID.Hex(), err)
	}
	return nil
}

// AttachImage appends a processed image URL to a listing's ordered image
// list, skipping duplicates. Called by the image-processing worker.
func (s *listingService) AttachImage(ctx context.Context, listingID primitive.ObjectID, imageURL string) error {
	update := bson.M{
		"$addToSet": bson.M{"images": imageURL},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}
	result, err := s.db.Collection(listingsCollection).
		UpdateOne(ctx, bson.M{"_id": listingID, "deleted": false}, update)
	if err != nil {
		return fmt.Errorf("failed to attach image to listing %s: %w", listingID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("listing not found")
	}
	return nil
}

// ListByFilter is the query engine: a stable, filtered, paginated view over
// one space's listings of one kind.
//
// Ordering is (created_at desc, _id desc) so that pages remain disjoint and
// exhaustive while new listings are inserted between page fetches.
func (s *listingService) ListByFilter(ctx context.Context, p access.Principal, filter ListingFilter) (*models.ListingPage, error) {
	if err := s.validateFilter(filter); err != nil {
		return nil, err
	}

	space, role, err := s.resolveSpace(ctx, p, filter.SpaceID)
	if err != nil {
		return nil, err
	}
	if d := access.Authorize(p, access.ActionViewListing, access.Resource{Space: space, Role: role}); !d.Allowed {
		return nil, d.Reason
	}

	query := bson.M{
		"kind":     filter.Kind,
		"space_id": filter.SpaceID,
		"deleted":  false,
	}
	if filter.CategoryID != nil {
		// An unknown category id simply matches nothing.
		query["category_id"] = *filter.CategoryID
	}
	if filter.Status != nil {
		query["status"] = *filter.Status
	}
	if filter.Condition != nil {
		query["condition"] = *filter.Condition
	}
	if filter.MinPrice != nil || filter.MaxPrice != nil {
		price := bson.M{}
		if filter.MinPrice != nil {
			price["$gte"] = *filter.MinPrice
		}
		if filter.MaxPrice != nil {
			price["$lte"] = *filter.MaxPrice
		}
		query["price"] = price
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		query["$or"] = bson.A{
			bson.M{"title": re},
			bson.M{"description": re},
		}
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	return s.fetchPage(queryCtx, p, query, filter.Page, filter.PageSize)
}

func (s *listingService) validateFilter(filter ListingFilter) error {
	if filter.Kind != models.KindProduct && filter.Kind != models.KindService {
		return apperr.Validation("kind must be product or service")
	}
	if filter.Page < 1 {
		return apperr.Validation("page must be >= 1")
	}
	if filter.PageSize < 1 || filter.PageSize > s.cfg.MaxPageSize {
		return apperr.Validation("page size must be between 1 and %d", s.cfg.MaxPageSize)
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		return apperr.Validation("min price %v exceeds max price %v", *filter.MinPrice, *filter.MaxPrice)
	}
	if filter.Status != nil && !models.ValidStatus(filter.Kind, *filter.Status) {
		return apperr.Validation("status %q does not apply to %s listings", *filter.Status, filter.Kind)
	}
	if filter.Condition != nil && filter.Kind != models.KindProduct {
		return apperr.Validation("condition filter applies to products only")
	}
	return nil
}

// fetchPage runs the count + find + decorate steps shared by ListByFilter
// and ListFavorites.
func (s *listingService) fetchPage(ctx context.Context, p access.Principal, query bson.M, page, pageSize int) (*models.ListingPage, error) {
	collection := s.db.Collection(listingsCollection)

	var total int64
	err := db.TryRead(func() error {
		var countErr error
		total, countErr = collection.CountDocuments(ctx, query)
		return countErr
	})
	if err != nil {
		return nil, db.Translate(err, "listings")
	}

	result := &models.ListingPage{
		Items:      []models.DecoratedListing{},
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}

	offset := int64(page-1) * int64(pageSize)
	if offset >= total {
		// Out-of-range page: empty items, correct totals, not an error.
		return result, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(offset).
		SetLimit(int64(pageSize))

	var listings []models.Listing
	err = db.TryRead(func() error {
		cursor, findErr := collection.Find(ctx, query, opts)
		if findErr != nil {
			return findErr
		}
		defer cursor.Close(ctx)
		listings = nil
		return cursor.All(ctx, &listings)
	})
	if err != nil {
		return nil, db.Translate(err, "listings")
	}

	decorated, err := s.decorate(ctx, p, listings)
	if err != nil {
		return nil, err
	}
	result.Items = decorated
	return result, nil
}

// ListFavorites returns the principal's favorited products as a decorated
// page. Favorites are private, so the overlay is only ever joined for the
// requesting user.
func (s *listingService) ListFavorites(ctx context.Context, p access.Principal, page, pageSize int) (*models.ListingPage, error) {
	if !p.Authenticated {
		return nil, apperr.Unauthorized("authentication required")
	}
	if page < 1 {
		return nil, apperr.Validation("page must be >= 1")
	}
	if pageSize < 1 || pageSize > s.cfg.MaxPageSize {
		return nil, apperr.Validation("page size must be between 1 and %d", s.cfg.MaxPageSize)
	}

	ids, err := s.favoriteSvc.ListProductIDs(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &models.ListingPage{Items: []models.DecoratedListing{}, Page: page, PageSize: pageSize}, nil
	}

	query := bson.M{"_id": bson.M{"$in": ids}, "deleted": false}
	return s.fetchPage(ctx, p, query, page, pageSize)
}

// decorate joins listings with author public profiles, categories and the
// principal's favorite flags. Authors and categories are fetched with one
// $in query each.
func (s *listingService) decorate(ctx context.Context, p access.Principal, listings []models.Listing) ([]models.DecoratedListing, error) {
	decorated := make([]models.DecoratedListing, 0, len(listings))
	if len(listings) == 0 {
		return decorated, nil
	}

	userIDs := make([]primitive.ObjectID, 0, len(listings))
	categoryIDs := make([]primitive.ObjectID, 0, len(listings))
	productIDs := make([]primitive.ObjectID, 0, len(listings))
	for _, l := range listings {
		userIDs = append(userIDs, l.UserID)
		categoryIDs = append(categoryIDs, l.CategoryID)
		if l.Kind == models.KindProduct {
			productIDs = append(productIDs, l.ID)
		}
	}

	authors := map[primitive.ObjectID]models.PublicProfile{}
	userCursor, err := s.db.Collection(usersCollection).Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, fmt.Errorf("failed to load listing authors: %w", err)
	}
	var users []models.User
	if err := userCursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode listing authors: %w", err)
	}
	for i := range users {
		authors[users[i].ID] = users[i].Public()
	}

	categories := map[primitive.ObjectID]models.Category{}
	catCursor, err := s.db.Collection(categoriesCollection).Find(ctx, bson.M{"_id": bson.M{"$in": categoryIDs}})
	if err != nil {
		return nil, fmt.Errorf("failed to load listing categories: %w", err)
	}
	var cats []models.Category
	if err := catCursor.All(ctx, &cats); err != nil {
		return nil, fmt.Errorf("failed to decode listing categories: %w", err)
	}
	for i := range cats {
		categories[cats[i].ID] = cats[i]
	}

	favorites := map[primitive.ObjectID]bool{}
	if p.Authenticated && len(productIDs) > 0 {
		favorites, err = s.favoriteSvc.Annotate(ctx, p.ID, productIDs)
		if err != nil {
			return nil, err
		}
	}

	for _, l := range listings {
		d := models.DecoratedListing{Listing: l, Favorite: favorites[l.ID]}
		if author, ok := authors[l.UserID]; ok {
			a := author
			d.Author = &a
		}
		if cat, ok := categories[l.CategoryID]; ok {
			c := cat
			d.Category = &c
		}
		decorated = append(decorated, d)
	}
	return decorated, nil
}
