package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"kvartal/market/internal/apperr"
	"kvartal/market/internal/auth"
	"kvartal/market/internal/config"
	"kvartal/market/internal/db"
	"kvartal/market/internal/models"
)

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	Register(ctx context.Context, phone, password, name string) (*models.User, error)
	Authenticate(ctx context.Context, phone, password string) (*models.User, string, error)
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID primitive.ObjectID, patch models.UserPatch) (*models.User, error)
}

const usersCollection = "users"

// phoneRe accepts E.164-shaped phone numbers.
var phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// userService implements IUserService.
type userService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database, cfg *config.Config) IUserService {
	return &userService{db: db, cfg: cfg}
}

// Register creates a new user keyed by phone number. A duplicate phone is a
// Conflict: the unique index is the source of truth, not a pre-check, so
// concurrent registrations cannot race past each other.
func (s *userService) Register(ctx context.Context, phone, password, name string) (*models.User, error) {
	phone = strings.TrimSpace(phone)
	if !phoneRe.MatchString(phone) {
		return nil, apperr.Validation("invalid phone number")
	}
	if name = strings.TrimSpace(name); name == "" {
		return nil, apperr.Validation("name is required")
	}
	if matched, _ := regexp.MatchString(s.cfg.PasswordRegexp, password); !matched {
		return nil, apperr.Validation("password does not meet requirements")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	newUser := &models.User{
		Base:         models.NewBase(),
		Phone:        phone,
		Name:         name,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Verified:     false,
		Rating:       0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.db.Collection(usersCollection).InsertOne(ctx, newUser); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, apperr.Conflict("phone already registered")
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return newUser, nil
}

// Authenticate resolves phone+password to the user and a signed JWT.
// Wrong phone and wrong password are indistinguishable to the caller.
func (s *userService) Authenticate(ctx context.Context, phone, password string) (*models.User, string, error) {
	user, err := s.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, "", apperr.Unauthorized("invalid credentials")
		}
		return nil, "", err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, "", apperr.Unauthorized("invalid credentials")
	}

	token, err := auth.GenerateJWT(user.ID, user.Role, s.cfg.JwtSecret, s.cfg.JwtTTL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token for user %s: %w", user.ID.Hex(), err)
	}
	return user, token, nil
}

// FindByID finds a non-deleted user by id.
func (s *userService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	filter := bson.M{"_id": userID, "deleted": false}

	err := db.TryRead(func() error {
		return s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&user)
	})
	if err != nil {
		return nil, db.Translate(err, "user")
	}
	return &user, nil
}

// FindByPhone finds a non-deleted user by their phone number.
func (s *userService) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	filter := bson.M{"phone": strings.TrimSpace(phone), "deleted": false}

	err := db.TryRead(func() error {
		return s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&user)
	})
	if err != nil {
		return nil, db.Translate(err, "user")
	}
	return &user, nil
}

// UpdateProfile applies the non-nil fields of the patch. An omitted field is
// a no-op, never a null-out. Any change bumps updated_at.
func (s *userService) UpdateProfile(ctx context.Context, userID primitive.ObjectID, patch models.UserPatch) (*models.User, error) {
	if patch.IsEmpty() {
		return s.FindByID(ctx, userID)
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
		set["name"] = *patch.Name
	}
	if patch.About != nil {
		set["about"] = *patch.About
	}
	if patch.Email != nil {
		set["email"] = *patch.Email
	}
	if patch.AvatarURL != nil {
		set["avatar_url"] = *patch.AvatarURL
	}

	filter := bson.M{"_id": userID, "deleted": false}
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("failed to update user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, apperr.NotFound("user not found")
	}
	return s.FindByID(ctx, userID)
}
