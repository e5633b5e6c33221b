package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kvartal/market/internal/access"
	"kvartal/market/internal/apperr"
	"kvartal/market/internal/db"
	"kvartal/market/internal/models"
)

// ISpaceService defines the interface for space and membership operations.
type ISpaceService interface {
	CreateSpace(ctx context.Context, p access.Principal, spec CreateSpaceSpec) (*models.Space, error)
	GetSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) (*models.Space, error)
	GetSpaceBySlug(ctx context.Context, p access.Principal, slug string) (*models.Space, error)
	UpdateSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID, patch models.SpacePatch) (*models.Space, error)
	DeleteSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) error
	Join(ctx context.Context, p access.Principal, spaceID primitive.ObjectID, inviteCode string) (*models.SpaceMember, error)
	Leave(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) error
	TransferOwnership(ctx context.Context, p access.Principal, spaceID, newOwnerID primitive.ObjectID) error
	RoleOf(ctx context.Context, userID, spaceID primitive.ObjectID) (models.MemberRole, error)
	ListMembers(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) ([]models.SpaceMember, error)
}

// CreateSpaceSpec carries the fields for creating a space.
type CreateSpaceSpec struct {
	Name        string           `json:"name"`
	Slug        string           `json:"slug"`
	Description string           `json:"description"`
	Type        models.SpaceType `json:"type"`
	InviteCode  string           `json:"invite_code"`
}

const (
	spacesCollection  = "spaces"
	membersCollection = "space_members"
)

var slugRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// spaceService implements ISpaceService.
type spaceService struct {
	db *mongo.Database
}

// NewSpaceService creates a new SpaceService.
func NewSpaceService(db *mongo.Database) ISpaceService {
	return &spaceService{db: db}
}

// CreateSpace inserts the space and its owner membership row. A space must
// never exist without its owner row, so a failed member insert compensates
// by removing the just-created space.
func (s *spaceService) CreateSpace(ctx context.Context, p access.Principal, spec CreateSpaceSpec) (*models.Space, error) {
	if !p.Authenticated {
		return nil, apperr.Unauthorized("authentication required")
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, apperr.Validation("space name is required")
	}
	if !slugRe.MatchString(spec.Slug) {
		return nil, apperr.Validation("slug must be lowercase letters, digits and hyphens")
	}
	if spec.Type != models.SpacePublic && spec.Type != models.SpacePrivate {
		return nil, apperr.Validation("space type must be public or private")
	}

	inviteCode := spec.InviteCode
	if spec.Type == models.SpacePrivate && inviteCode == "" {
		inviteCode = uuid.NewString()
	}

	now := time.Now().UTC()
	space := &models.Space{
		Base:        models.NewBase(),
		Name:        spec.Name,
		Slug:        spec.Slug,
		Description: spec.Description,
		Type:        spec.Type,
		InviteCode:  inviteCode,
		OwnerID:     p.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.db.Collection(spacesCollection).InsertOne(ctx, space); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, apperr.Conflict("slug %q already taken", spec.Slug)
		}
		return nil, fmt.Errorf("failed to insert space: %w", err)
	}

	owner := &models.SpaceMember{
		Base:     models.NewBase(),
		SpaceID:  space.ID,
		UserID:   p.ID,
		Role:     models.MemberOwner,
		JoinedAt: now,
	}
	if _, err := s.db.Collection(membersCollection).InsertOne(ctx, owner); err != nil {
		// Compensate: a space without its owner row must not survive.
		if _, delErr := s.db.Collection(spacesCollection).DeleteOne(ctx, bson.M{"_id": space.ID}); delErr != nil {
			log.Printf("CRITICAL: space %s created but owner membership insert failed and compensation failed: %v", space.ID.Hex(), delErr)
		}
		return nil, fmt.Errorf("failed to insert owner membership for space %s: %w", space.ID.Hex(), err)
	}

	space.MembersCount = 1
	return space, nil
}

// findSpace fetches a non-deleted space document without visibility checks.
func (s *spaceService) findSpace(ctx context.Context, filter bson.M) (*models.Space, error) {
	var space models.Space
	filter["deleted"] = false
	err := db.TryRead(func() error {
		return s.db.Collection(spacesCollection).FindOne(ctx, filter).Decode(&space)
	})
	if err != nil {
		return nil, db.Translate(err, "space")
	}
	return &space, nil
}

// countMembers recomputes the derived members count. It is never cached.
func (s *spaceService) countMembers(ctx context.Context, spaceID primitive.ObjectID) (int64, error) {
	return s.db.Collection(membersCollection).CountDocuments(ctx, bson.M{"space_id": spaceID})
}

// GetSpace returns a space with its recomputed members count, applying the
// visibility rule: a private space a principal is not a member of reads as
// not found.
func (s *spaceService) GetSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) (*models.Space, error) {
	return s.getVisibleSpace(ctx, p, bson.M{"_id": spaceID})
}

// GetSpaceBySlug is GetSpace keyed by slug.
func (s *spaceService) GetSpaceBySlug(ctx context.Context, p access.Principal, slug string) (*models.Space, error) {
	return s.getVisibleSpace(ctx, p, bson.M{"slug": slug})
}

func (s *spaceService) getVisibleSpace(ctx context.Context, p access.Principal, filter bson.M) (*models.Space, error) {
	space, err := s.findSpace(ctx, filter)
	if err != nil {
		return nil, err
	}

	role, err := s.RoleOf(ctx, p.ID, space.ID)
	if err != nil {
		return nil, err
	}
	if d := access.Authorize(p, access.ActionViewSpace, access.Resource{Space: space, Role: role}); !d.Allowed {
		return nil, d.Reason
	}

	count, err := s.countMembers(ctx, space.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count members of space %s: %w", space.ID.Hex(), err)
	}
	space.MembersCount = count
	return space, nil
}

// UpdateSpace applies the non-nil fields of the patch. Slug and owner are
// immutable; type may flip, keeping the invite code around (see DESIGN.md).
func (s *spaceService) UpdateSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID, patch models.SpacePatch) (*models.Space, error) {
	space, err := s.findSpace(ctx, bson.M{"_id": spaceID})
	if err != nil {
		return nil, err
	}
	role, err := s.RoleOf(ctx, p.ID, spaceID)
	if err != nil {
		return nil, err
	}
	if d := access.Authorize(p, access.ActionUpdateSpace, access.Resource{Space: space, Role: role}); !d.Allowed {
		return nil, d.Reason
	}
	if patch.IsEmpty() {
		return s.GetSpace(ctx, p, spaceID)
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, apperr.Validation("space name cannot be empty")
		}
		set["name"] = *patch.Name
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.LogoURL != nil {
		set["logo_url"] = *patch.LogoURL
	}
	if patch.Type != nil {
		if *patch.Type != models.SpacePublic && *patch.Type != models.SpacePrivate {
			return nil, apperr.Validation("space type must be public or private")
		}
		set["type"] = *patch.Type
		// A space going private must have an invite code to hand out.
		if *patch.Type == models.SpacePrivate && space.InviteCode == "" {
			set["invite_code"] = uuid.NewString()
		}
	}

	result, err := s.db.Collection(spacesCollection).UpdateOne(ctx, bson.M{"_id": spaceID, "deleted": false}, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("failed to update space %s: %w", spaceID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, apperr.NotFound("space not found")
	}
	return s.GetSpace(ctx, p, spaceID)
}

// DeleteSpace soft-deletes a space. Owner only.
func (s *spaceService) DeleteSpace(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) error {
	space, err := s.findSpace(ctx, bson.M{"_id": spaceID})
	if err != nil {
		return err
	}
	role, err := s.RoleOf(ctx, p.ID, spaceID)
	if err != nil {
		return err
	}
	if d := access.Authorize(p, access.ActionDeleteSpace, access.Resource{Space: space, Role: role}); !d.Allowed {
		return d.Reason
	}

	update := bson.M{"$set": bson.M{"deleted": true, "updated_at": time.Now().UTC()}}
	if _, err := s.db.Collection(spacesCollection).UpdateOne(ctx, bson.M{"_id": spaceID}, update); err != nil {
		return fmt.Errorf("failed to delete space %s: %w", spaceID.Hex(), err)
	}
	return nil
}

// Join adds the principal to a space. Public spaces are open to any
// authenticated principal; private spaces require the exact invite code.
// Re-joining is idempotent: the unique (space_id, user_id) index rejects the
// duplicate and the existing membership is returned instead.
func (s *spaceService) Join(ctx context.Context, p access.Principal, spaceID primitive.ObjectID, inviteCode string) (*models.SpaceMember, error) {
	if !p.Authenticated {
		return nil, apperr.Unauthorized("authentication required")
	}
	space, err := s.findSpace(ctx, bson.M{"_id": spaceID})
	if err != nil {
		return nil, err
	}
	if d := access.Authorize(p, access.ActionJoinSpace, access.Resource{Space: space, InviteCode: inviteCode}); !d.Allowed {
		return nil, d.Reason
	}

	member := &models.SpaceMember{
		Base:     models.NewBase(),
		SpaceID:  spaceID,
		UserID:   p.ID,
		Role:     models.MemberMember,
		JoinedAt: time.Now().UTC(),
	}
	_, err = s.db.Collection(membersCollection).InsertOne(ctx, member)
	if err != nil {
		if !db.IsMongoDuplicateKeyError(err) {
			return nil, fmt.Errorf("failed to insert membership for space %s: %w", spaceID.Hex(), err)
		}
		// Already a member: absorb the conflict and return the existing row.
		var existing models.SpaceMember
		findErr := s.db.Collection(membersCollection).
			FindOne(ctx, bson.M{"space_id": spaceID, "user_id": p.ID}).Decode(&existing)
		if findErr != nil {
			return nil, fmt.Errorf("failed to load existing membership for space %s: %w", spaceID.Hex(), findErr)
		}
		return &existing, nil
	}
	return member, nil
}

// Leave removes the principal's membership. The owner cannot leave without
// transferring ownership first.
func (s *spaceService) Leave(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) error {
	if !p.Authenticated {
		return apperr.Unauthorized("authentication required")
	}
	role, err := s.RoleOf(ctx, p.ID, spaceID)
	if err != nil {
		return err
	}
	if role == "" {
		return apperr.NotFound("membership not found")
	}
	if role == models.MemberOwner {
		return apperr.InvalidState("owner must transfer ownership before leaving")
	}

	if _, err := s.db.Collection(membersCollection).DeleteOne(ctx, bson.M{"space_id": spaceID, "user_id": p.ID}); err != nil {
		return fmt.Errorf("failed to remove membership for space %s: %w", spaceID.Hex(), err)
	}
	return nil
}

// TransferOwnership moves the owner role to another member: the old owner is
// demoted to admin, the target promoted to owner, and the space's owner_id
// updated to match. Each step is a conditional update so a half-applied
// transfer cannot produce two owners.
func (s *spaceService) TransferOwnership(ctx context.Context, p access.Principal, spaceID, newOwnerID primitive.ObjectID) error {
	space, err := s.findSpace(ctx, bson.M{"_id": spaceID})
	if err != nil {
		return err
	}
	role, err := s.RoleOf(ctx, p.ID, spaceID)
	if err != nil {
		return err
	}
	if d := access.Authorize(p, access.ActionTransferSpace, access.Resource{Space: space, Role: role}); !d.Allowed {
		return d.Reason
	}
	if newOwnerID == p.ID {
		return apperr.Validation("cannot transfer ownership to yourself")
	}

	targetRole, err := s.RoleOf(ctx, newOwnerID, spaceID)
	if err != nil {
		return err
	}
	if targetRole == "" {
		return apperr.NotFound("target user is not a member of the space")
	}

	now := time.Now().UTC()

	// Promote first: if this fails nothing has changed.
	res, err := s.db.Collection(membersCollection).UpdateOne(ctx,
		bson.M{"space_id": spaceID, "user_id": newOwnerID},
		bson.M{"$set": bson.M{"role": models.MemberOwner}})
	if err != nil || res.MatchedCount == 0 {
		return fmt.Errorf("failed to promote new owner for space %s: %w", spaceID.Hex(), err)
	}

	// Demote the old owner; condition on the owner role so a replayed
	// request is a no-op.
	if _, err := s.db.Collection(membersCollection).UpdateOne(ctx,
		bson.M{"space_id": spaceID, "user_id": p.ID, "role": models.MemberOwner},
		bson.M{"$set": bson.M{"role": models.MemberAdmin}}); err != nil {
		log.Printf("CRITICAL: space %s has promoted owner %s but old owner demotion failed: %v", spaceID.Hex(), newOwnerID.Hex(), err)
		return fmt.Errorf("failed to demote previous owner for space %s: %w", spaceID.Hex(), err)
	}

	if _, err := s.db.Collection(spacesCollection).UpdateOne(ctx,
		bson.M{"_id": spaceID},
		bson.M{"$set": bson.M{"owner_id": newOwnerID, "updated_at": now}}); err != nil {
		return fmt.Errorf("failed to update owner_id for space %s: %w", spaceID.Hex(), err)
	}
	return nil
}

// RoleOf returns the user's role in the space, or empty when not a member.
func (s *spaceService) RoleOf(ctx context.Context, userID, spaceID primitive.ObjectID) (models.MemberRole, error) {
	if userID.IsZero() {
		return "", nil
	}
	var member models.SpaceMember
	err := db.TryRead(func() error {
		return s.db.Collection(membersCollection).
			FindOne(ctx, bson.M{"space_id": spaceID, "user_id": userID}).Decode(&member)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", db.Translate(err, "membership")
	}
	return member.Role, nil
}

// ListMembers returns all members of a space ordered by joined_at ascending.
// Subject to the same visibility rule as GetSpace.
func (s *spaceService) ListMembers(ctx context.Context, p access.Principal, spaceID primitive.ObjectID) ([]models.SpaceMember, error) {
	space, err := s.findSpace(ctx, bson.M{"_id": spaceID})
	if err != nil {
		return nil, err
	}
	role, err := s.RoleOf(ctx, p.ID, spaceID)
	if err != nil {
		return nil, err
	}
	if d := access.Authorize(p, access.ActionViewSpace, access.Resource{Space: space, Role: role}); !d.Allowed {
		return nil, d.Reason
	}

	opts := options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}})
	cursor, err := s.db.Collection(membersCollection).Find(ctx, bson.M{"space_id": spaceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of space %s: %w", spaceID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var members []models.SpaceMember
	if err := cursor.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("failed to decode members of space %s: %w", spaceID.Hex(), err)
	}
	return members, nil
}
