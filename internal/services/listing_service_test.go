package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"kvartal/market/internal/access"
	"kvartal/market/internal/apperr"
	"kvartal/market/internal/db"
	"kvartal/market/internal/models"
	"kvartal/market/internal/utils"
)

type listingFixture struct {
	db          *mongo.Database
	listingSvc  IListingService
	spaceSvc    ISpaceService
	categorySvc ICategoryService
	favoriteSvc IFavoriteService
	owner       access.Principal
	space       *models.Space
	productCat  *models.Category
	serviceCat  *models.Category
}

func setupListingFixture(t *testing.T, dbName string) *listingFixture {
	database := utils.SetupTestDB(t, dbName, "listings", "spaces", "space_members", "users", "categories", "favorites")
	require.NoError(t, db.EnsureIndexes(context.Background(), database))

	spaceSvc := NewSpaceService(database)
	categorySvc := NewCategoryService(database)
	favoriteSvc := NewFavoriteService(database)
	listingSvc := NewListingService(database, testConfig(), spaceSvc, categorySvc, favoriteSvc)

	ctx := context.Background()
	owner := createFixtureUser(t, database, "Owner")

	space, err := spaceSvc.CreateSpace(ctx, owner, CreateSpaceSpec{
		Name: "Central", Slug: "central", Type: models.SpacePublic,
	})
	require.NoError(t, err)

	productCat, err := categorySvc.Create(ctx, "Furniture", models.KindProduct)
	require.NoError(t, err)
	serviceCat, err := categorySvc.Create(ctx, "Repairs", models.KindService)
	require.NoError(t, err)

	return &listingFixture{
		db:          database,
		listingSvc:  listingSvc,
		spaceSvc:    spaceSvc,
		categorySvc: categorySvc,
		favoriteSvc: favoriteSvc,
		owner:       owner,
		space:       space,
		productCat:  productCat,
		serviceCat:  serviceCat,
	}
}

func createFixtureUser(t *testing.T, database *mongo.Database, name string) access.Principal {
	user := models.User{
		Base:      models.NewBase(),
		Phone:     fmt.Sprintf("+7900%07d", time.Now().UnixNano()%10000000),
		Name:      name,
		Role:      models.RoleUser,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := database.Collection("users").InsertOne(context.Background(), user)
	require.NoError(t, err)
	return access.User(user.ID, user.Role)
}

func (f *listingFixture) joinedUser(t *testing.T, name string) access.Principal {
	p := createFixtureUser(t, f.db, name)
	_, err := f.spaceSvc.Join(context.Background(), p, f.space.ID, "")
	require.NoError(t, err)
	return p
}

func (f *listingFixture) createProduct(t *testing.T, p access.Principal, title string, price float64) *models.Listing {
	listing, err := f.listingSvc.Create(context.Background(), p, CreateListingSpec{
		Kind: models.KindProduct, SpaceID: f.space.ID, CategoryID: f.productCat.ID,
		Title: title, Description: "desc of " + title, Price: price, Condition: models.ConditionUsed,
	})
	require.NoError(t, err)
	return listing
}

func TestListingService_CreateValidatesCategoryKind(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_create_category")
	ctx := context.Background()

	// Product with a service category is rejected.
	_, err := f.listingSvc.Create(ctx, f.owner, CreateListingSpec{
		Kind: models.KindProduct, SpaceID: f.space.ID, CategoryID: f.serviceCat.ID,
		Title: "Sofa", Price: 100, Condition: models.ConditionNew,
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	// Service is fine with its own category.
	svcListing, err := f.listingSvc.Create(ctx, f.owner, CreateListingSpec{
		Kind: models.KindService, SpaceID: f.space.ID, CategoryID: f.serviceCat.ID,
		Title: "Plumbing", PriceText: "negotiable",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, svcListing.Status)
	assert.Equal(t, int64(0), svcListing.Views)
	assert.Equal(t, svcListing.CreatedAt, svcListing.UpdatedAt)
}

func TestListingService_CreateRequiresMembership(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_create_membership")
	outsider := createFixtureUser(t, f.db, "Outsider")

	_, err := f.listingSvc.Create(context.Background(), outsider, CreateListingSpec{
		Kind: models.KindProduct, SpaceID: f.space.ID, CategoryID: f.productCat.ID,
		Title: "Sofa", Price: 100, Condition: models.ConditionNew,
	})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}

func TestListingService_UpdateAuthorOnly(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_update_author")
	ctx := context.Background()
	listing := f.createProduct(t, f.owner, "Sofa", 100)
	other := f.joinedUser(t, "Other")

	title := "Red Sofa"
	_, err := f.listingSvc.Update(ctx, other, listing.ID, models.ListingPatch{Title: &title})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	updated, err := f.listingSvc.Update(ctx, f.owner, listing.ID, models.ListingPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Red Sofa", updated.Title)
	assert.False(t, updated.UpdatedAt.Before(listing.UpdatedAt))
}

func TestListingService_StatusMachine(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_status")
	ctx := context.Background()

	product := f.createProduct(t, f.owner, "Sofa", 100)

	sold := models.StatusSold
	active := models.StatusActive
	updated, err := f.listingSvc.Update(ctx, f.owner, product.ID, models.ListingPatch{Status: &sold})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSold, updated.Status)

	// sold is terminal.
	_, err = f.listingSvc.Update(ctx, f.owner, product.ID, models.ListingPatch{Status: &active})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	// inactive is not even a product status.
	inactive := models.StatusInactive
	_, err = f.listingSvc.Update(ctx, f.owner, product.ID, models.ListingPatch{Status: &inactive})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	// Services toggle both ways.
	service, err := f.listingSvc.Create(ctx, f.owner, CreateListingSpec{
		Kind: models.KindService, SpaceID: f.space.ID, CategoryID: f.serviceCat.ID,
		Title: "Plumbing", PriceText: "500",
	})
	require.NoError(t, err)

	updated, err = f.listingSvc.Update(ctx, f.owner, service.ID, models.ListingPatch{Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, updated.Status)
	updated, err = f.listingSvc.Update(ctx, f.owner, service.ID, models.ListingPatch{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, updated.Status)
}

func TestListingService_ViewsCount(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_views")
	ctx := context.Background()
	listing := f.createProduct(t, f.owner, "Sofa", 100)
	viewer := f.joinedUser(t, "Viewer")

	// Author's own fetches do not count.
	_, err := f.listingSvc.GetByID(ctx, f.owner, listing.ID)
	require.NoError(t, err)

	// Two fetches by a non-author raise views by exactly 2.
	for i := 0; i < 2; i++ {
		_, err := f.listingSvc.GetByID(ctx, viewer, listing.ID)
		require.NoError(t, err)
	}
	got, err := f.listingSvc.GetByID(ctx, f.owner, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Views)
}

func TestListingService_FindVisibleDoesNotCountViews(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_find_visible")
	ctx := context.Background()
	listing := f.createProduct(t, f.owner, "Sofa", 100)
	viewer := f.joinedUser(t, "Viewer")

	// Pre-checks (favoriting, image uploads) go through FindVisible and
	// must never move the counter, no matter how often they repeat.
	for i := 0; i < 3; i++ {
		found, err := f.listingSvc.FindVisible(ctx, viewer, listing.ID)
		require.NoError(t, err)
		assert.Equal(t, listing.ID, found.ID)
	}

	var stored models.Listing
	err := f.db.Collection("listings").FindOne(ctx, bson.M{"_id": listing.ID}).Decode(&stored)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Views)

	// Visibility rules still apply.
	private, err := f.spaceSvc.CreateSpace(ctx, f.owner, CreateSpaceSpec{
		Name: "Back Room", Slug: "back-room", Type: models.SpacePrivate, InviteCode: "B1",
	})
	require.NoError(t, err)
	hidden, err := f.listingSvc.Create(ctx, f.owner, CreateListingSpec{
		Kind: models.KindProduct, SpaceID: private.ID, CategoryID: f.productCat.ID,
		Title: "Hidden Chair", Price: 50, Condition: models.ConditionUsed,
	})
	require.NoError(t, err)
	_, err = f.listingSvc.FindVisible(ctx, viewer, hidden.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestListingService_ConcurrentViewsLoseNoUpdates(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_views_concurrent")
	ctx := context.Background()
	listing := f.createProduct(t, f.owner, "Sofa", 100)

	const viewers = 50
	var wg sync.WaitGroup
	wg.Add(viewers)
	for i := 0; i < viewers; i++ {
		go func() {
			defer wg.Done()
			_ = f.listingSvc.IncrementViews(ctx, listing.ID)
		}()
	}
	wg.Wait()

	var stored models.Listing
	err := f.db.Collection("listings").FindOne(ctx, bson.M{"_id": listing.ID}).Decode(&stored)
	require.NoError(t, err)
	assert.Equal(t, int64(viewers), stored.Views)
}

func TestListingService_QueryEngineValidation(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_query_validation")
	ctx := context.Background()

	base := ListingFilter{Kind: models.KindProduct, SpaceID: f.space.ID, Page: 1, PageSize: 10}

	bad := base
	bad.PageSize = 0
	_, err := f.listingSvc.ListByFilter(ctx, f.owner, bad)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	bad = base
	bad.PageSize = -5
	_, err = f.listingSvc.ListByFilter(ctx, f.owner, bad)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	bad = base
	bad.PageSize = 101
	_, err = f.listingSvc.ListByFilter(ctx, f.owner, bad)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	bad = base
	bad.Page = 0
	_, err = f.listingSvc.ListByFilter(ctx, f.owner, bad)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	min, max := 10.0, 5.0
	bad = base
	bad.MinPrice, bad.MaxPrice = &min, &max
	_, err = f.listingSvc.ListByFilter(ctx, f.owner, bad)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	cond := models.ConditionNew
	bad = base
	bad.Kind = models.KindService
	bad.Condition = &cond
	_, err = f.listingSvc.ListByFilter(ctx, f.owner, bad)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestListingService_QueryEngineFilters(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_query_filters")
	ctx := context.Background()

	f.createProduct(t, f.owner, "Blue Sofa", 100)
	f.createProduct(t, f.owner, "Oak Table", 250)
	f.createProduct(t, f.owner, "Lamp", 40)
	f.createProduct(t, f.owner, "Free Chair", 0)

	// Price range is inclusive on both ends.
	min, max := 40.0, 100.0
	page, err := f.listingSvc.ListByFilter(ctx, f.owner, ListingFilter{
		Kind: models.KindProduct, SpaceID: f.space.ID, Page: 1, PageSize: 10,
		MinPrice: &min, MaxPrice: &max,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	// A free product persists price 0 and matches a minPrice=0 range.
	zero := 0.0
	page, err = f.listingSvc.ListByFilter(ctx, f.owner, ListingFilter{
		Kind: models.KindProduct, SpaceID: f.space.ID, Page: 1, PageSize: 10,
		MinPrice: &zero, MaxPrice: &max,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)

	// Case-insensitive substring search over title and description.
	page, err = f.listingSvc.ListByFilter(ctx, f.owner, ListingFilter{
		Kind: models.KindProduct, SpaceID: f.space.ID, Page: 1, PageSize: 10,
		Search: "sofa",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, "Blue Sofa", page.Items[0].Title)

	// Unknown category id yields an empty result, not an error.
	unknown := primitive.NewObjectID()
	page, err = f.listingSvc.ListByFilter(ctx, f.owner, ListingFilter{
		Kind: models.KindProduct, SpaceID: f.space.ID, Page: 1, PageSize: 10,
		CategoryID: &unknown,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.Total)
	assert.Empty(t, page.Items)
}

func TestListingService_PaginationIsStableAndExhaustive(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_query_pagination")
	ctx := context.Background()

	const n = 25
	for i := 0; i < n; i++ {
		f.createProduct(t, f.owner, fmt.Sprintf("Item %02d", i), float64(10+i))
	}

	seen := map[primitive.ObjectID]bool{}
	var prevCreated time.Time
	var prevID primitive.ObjectID
	first := true

	page1, err := f.listingSvc.ListByFilter(ctx, f.owner, ListingFilter{
		Kind: models.KindProduct, SpaceID: f.space.ID, Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(n), page1.Total)
	assert.Equal(t, 3, page1.TotalPages)

	for pageNum := 1; pageNum <= page1.TotalPages; pageNum++ {
		page, err := f.listingSvc.ListByFilter(ctx, f.owner, ListingFilter{
			Kind: models.KindProduct, SpaceID: f.space.ID, Page: pageNum, PageSize: 10,
		})
		require.NoError(t, err)
		for _, item := range page.Items {
			assert.False(t, seen[item.ID], "no duplicates across pages")
			seen[item.ID] = true
			if !first {
				// (created_at desc, _id desc) ordering across page boundaries.
				if item.CreatedAt.Equal(prevCreated) {
					assert.True(t, item.ID.Hex() < prevID.Hex())
				} else {
					assert.True(t, item.CreatedAt.Before(prevCreated))
				}
			}
			prevCreated, prevID, first = item.CreatedAt, item.ID, false
		}
	}
	assert.Len(t, seen, n, "no omissions across pages")

	// Out-of-range page: empty items, correct totals, no error.
	page, err := f.listingSvc.ListByFilter(ctx, f.owner, ListingFilter{
		Kind: models.KindProduct, SpaceID: f.space.ID, Page: 99, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(n), page.Total)
	assert.Equal(t, 3, page.TotalPages)
}

func TestListingService_DecorationIncludesFavorites(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_query_decorate")
	ctx := context.Background()

	l1 := f.createProduct(t, f.owner, "Sofa", 100)
	f.createProduct(t, f.owner, "Table", 200)
	viewer := f.joinedUser(t, "Viewer")
	require.NoError(t, f.favoriteSvc.Add(ctx, viewer.ID, l1.ID))

	page, err := f.listingSvc.ListByFilter(ctx, viewer, ListingFilter{
		Kind: models.KindProduct, SpaceID: f.space.ID, Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.Total)

	for _, item := range page.Items {
		require.NotNil(t, item.Author, "author decoration")
		assert.Equal(t, "Owner", item.Author.Name)
		require.NotNil(t, item.Category, "category decoration")
		assert.Equal(t, "Furniture", item.Category.Name)
		assert.Equal(t, item.ID == l1.ID, item.Favorite)
	}

	// Anonymous callers get no favorite overlay.
	page, err = f.listingSvc.ListByFilter(ctx, access.Anonymous(), ListingFilter{
		Kind: models.KindProduct, SpaceID: f.space.ID, Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	for _, item := range page.Items {
		assert.False(t, item.Favorite)
	}
}

func TestListingService_PrivateSpaceListingsInvisible(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_private_visibility")
	ctx := context.Background()

	private, err := f.spaceSvc.CreateSpace(ctx, f.owner, CreateSpaceSpec{
		Name: "Hidden", Slug: "hidden", Type: models.SpacePrivate, InviteCode: "X1",
	})
	require.NoError(t, err)

	listing, err := f.listingSvc.Create(ctx, f.owner, CreateListingSpec{
		Kind: models.KindProduct, SpaceID: private.ID, CategoryID: f.productCat.ID,
		Title: "Secret Sofa", Price: 100, Condition: models.ConditionNew,
	})
	require.NoError(t, err)

	outsider := createFixtureUser(t, f.db, "Outsider")

	_, err = f.listingSvc.GetByID(ctx, outsider, listing.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.listingSvc.ListByFilter(ctx, outsider, ListingFilter{
		Kind: models.KindProduct, SpaceID: private.ID, Page: 1, PageSize: 10,
	})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	// Mutate probes must not confirm the listing exists either.
	title := "Taken"
	_, err = f.listingSvc.Update(ctx, outsider, listing.ID, models.ListingPatch{Title: &title})
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "update probe leaked existence")
	err = f.listingSvc.Delete(ctx, outsider, listing.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "delete probe leaked existence")

	// A member sees it.
	member := createFixtureUser(t, f.db, "Member")
	_, err = f.spaceSvc.Join(ctx, member, private.ID, "X1")
	require.NoError(t, err)
	got, err := f.listingSvc.GetByID(ctx, member, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Secret Sofa", got.Title)
}

func TestListingService_ListFavorites(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_list_favorites")
	ctx := context.Background()

	l1 := f.createProduct(t, f.owner, "Sofa", 100)
	l2 := f.createProduct(t, f.owner, "Table", 200)
	f.createProduct(t, f.owner, "Lamp", 40)

	viewer := f.joinedUser(t, "Viewer")
	require.NoError(t, f.favoriteSvc.Add(ctx, viewer.ID, l1.ID))
	require.NoError(t, f.favoriteSvc.Add(ctx, viewer.ID, l2.ID))

	page, err := f.listingSvc.ListFavorites(ctx, viewer, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	for _, item := range page.Items {
		assert.True(t, item.Favorite)
	}

	_, err = f.listingSvc.ListFavorites(ctx, access.Anonymous(), 1, 10)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestListingService_SoftDelete(t *testing.T) {
	f := setupListingFixture(t, "testdb_listing_delete")
	ctx := context.Background()
	listing := f.createProduct(t, f.owner, "Sofa", 100)

	require.NoError(t, f.listingSvc.Delete(ctx, f.owner, listing.ID))

	_, err := f.listingSvc.GetByID(ctx, f.owner, listing.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	page, err := f.listingSvc.ListByFilter(ctx, f.owner, ListingFilter{
		Kind: models.KindProduct, SpaceID: f.space.ID, Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.Total)
}
