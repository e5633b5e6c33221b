package handlers_test

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kvartal/market/internal/access"
	"kvartal/market/internal/models"
	"kvartal/market/internal/services"
)

// --- Mocks ---

// MockUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, phone, password, name string) (*models.User, error) {
	args := m.Called(ctx, phone, password, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, phone, password string) (*models.User, string, error) {
	args := m.Called(ctx, phone, password)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*models.User), args.String(1), args.Error(2)
}

func (m *MockUserService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, userID primitive.ObjectID, patch models.UserPatch) (*models.User, error) {
	args := m.Called(ctx, userID, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// MockSpaceService
type MockSpaceService struct {
	mock.Mock
}

func (m *MockSpaceService) CreateSpace(ctx context.Context, p access.Principal, spec services.CreateSpaceSpec) (*models.Space, error) {
	args := m.Called(ctx, p, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Space), args.Error(1)
}

func (m *MockSpaceService) GetSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) (*models.Space, error) {
	args := m.Called(ctx, p, spaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Space), args.Error(1)
}

func (m *MockSpaceService) GetSpaceBySlug(ctx context.Context, p access.Principal, slug string) (*models.Space, error) {
	args := m.Called(ctx, p, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Space), args.Error(1)
}

func (m *MockSpaceService) UpdateSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID, patch models.SpacePatch) (*models.Space, error) {
	args := m.Called(ctx, p, spaceID, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Space), args.Error(1)
}

func (m *MockSpaceService) DeleteSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) error {
	args := m.Called(ctx, p, spaceID)
	return args.Error(0)
}

func (m *MockSpaceService) Join(ctx context.Context, p access.Principal, spaceID primitive.ObjectID, inviteCode string) (*models.SpaceMember, error) {
	args := m.Called(ctx, p, spaceID, inviteCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SpaceMember), args.Error(1)
}

func (m *MockSpaceService) Leave(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) error {
	args := m.Called(ctx, p, spaceID)
	return args.Error(0)
}

func (m *MockSpaceService) TransferOwnership(ctx context.Context, p access.Principal, spaceID, newOwnerID primitive.ObjectID) error {
	args := m.Called(ctx, p, spaceID, newOwnerID)
	return args.Error(0)
}

func (m *MockSpaceService) RoleOf(ctx context.Context, userID, spaceID primitive.ObjectID) (models.MemberRole, error) {
	args := m.Called(ctx, userID, spaceID)
	return args.Get(0).(models.MemberRole), args.Error(1)
}

func (m *MockSpaceService) ListMembers(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) ([]models.SpaceMember, error) {
	args := m.Called(ctx, p, spaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SpaceMember), args.Error(1)
}

// MockListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) Create(ctx context.Context, p access.Principal, spec services.CreateListingSpec) (*models.Listing, error) {
	args := m.Called(ctx, p, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) GetByID(ctx context.Context, p access.Principal, listingID primitive.ObjectID) (*models.DecoratedListing, error) {
	args := m.Called(ctx, p, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DecoratedListing), args.Error(1)
}

func (m *MockListingService) FindVisible(ctx context.Context, p access.Principal, listingID primitive.ObjectID) (*models.Listing, error) {
	args := m.Called(ctx, p, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) Update(ctx context.Context, p access.Principal, listingID primitive.ObjectID, patch models.ListingPatch) (*models.Listing, error) {
	args := m.Called(ctx, p, listingID, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) Delete(ctx context.Context, p access.Principal, listingID primitive.ObjectID) error {
	args := m.Called(ctx, p, listingID)
	return args.Error(0)
}

func (m *MockListingService) IncrementViews(ctx context.Context, listingID primitive.ObjectID) error {
	args := m.Called(ctx, listingID)
	return args.Error(0)
}

func (m *MockListingService) ListByFilter(ctx context.Context, p access.Principal, filter services.ListingFilter) (*models.ListingPage, error) {
	args := m.Called(ctx, p, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ListingPage), args.Error(1)
}

func (m *MockListingService) ListFavorites(ctx context.Context, p access.Principal, page, pageSize int) (*models.ListingPage, error) {
	args := m.Called(ctx, p, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ListingPage), args.Error(1)
}

func (m *MockListingService) AttachImage(ctx context.Context, listingID primitive.ObjectID, imageURL string) error {
	args := m.Called(ctx, listingID, imageURL)
	return args.Error(0)
}

// MockFavoriteService
type MockFavoriteService struct {
	mock.Mock
}

func (m *MockFavoriteService) Add(ctx context.Context, userID, productID primitive.ObjectID) error {
	args := m.Called(ctx, userID, productID)
	return args.Error(0)
}

func (m *MockFavoriteService) Remove(ctx context.Context, userID, productID primitive.ObjectID) error {
	args := m.Called(ctx, userID, productID)
	return args.Error(0)
}

func (m *MockFavoriteService) IsFavorite(ctx context.Context, userID, productID primitive.ObjectID) (bool, error) {
	args := m.Called(ctx, userID, productID)
	return args.Bool(0), args.Error(1)
}

func (m *MockFavoriteService) Annotate(ctx context.Context, userID primitive.ObjectID, productIDs []primitive.ObjectID) (map[primitive.ObjectID]bool, error) {
	args := m.Called(ctx, userID, productIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[primitive.ObjectID]bool), args.Error(1)
}

func (m *MockFavoriteService) ListProductIDs(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]primitive.ObjectID), args.Error(1)
}

// MockCategoryService
type MockCategoryService struct {
	mock.Mock
}

func (m *MockCategoryService) Create(ctx context.Context, name string, kind models.ListingKind) (*models.Category, error) {
	args := m.Called(ctx, name, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Category), args.Error(1)
}

func (m *MockCategoryService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Category, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Category), args.Error(1)
}

func (m *MockCategoryService) ListByKind(ctx context.Context, kind models.ListingKind) ([]models.Category, error) {
	args := m.Called(ctx, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Category), args.Error(1)
}

// MockMediaStorage implements storage.IMediaStorage
type MockMediaStorage struct {
	mock.Mock
}

func (m *MockMediaStorage) GeneratePresignedPutURL(ctx context.Context, userID, listingID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, userID, listingID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockMediaStorage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockMediaStorage) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	args := m.Called(ctx, key, contentType, body)
	return args.Error(0)
}

func (m *MockMediaStorage) PublicURL(key string) string {
	args := m.Called(key)
	return args.String(0)
}

// MockAsynqClient implements handlers.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	mockArgs := []interface{}{ctx, task}
	for _, opt := range opts {
		mockArgs = append(mockArgs, opt)
	}
	args := m.Called(mockArgs...)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
