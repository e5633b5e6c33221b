package access

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kvartal/market/internal/apperr"
	"kvartal/market/internal/models"
)

// Principal is the actor making a request: an authenticated user or anonymous.
// It is passed explicitly into every decision; the guard reads no ambient state.
type Principal struct {
	ID            primitive.ObjectID
	Role          models.UserRole
	Authenticated bool
}

// Anonymous returns the unauthenticated principal.
func Anonymous() Principal {
	return Principal{}
}

// User returns an authenticated principal for the given user id and role.
func User(id primitive.ObjectID, role models.UserRole) Principal {
	return Principal{ID: id, Role: role, Authenticated: true}
}

// IsStaff reports whether the principal holds a platform moderation role.
func (p Principal) IsStaff() bool {
	return p.Authenticated && (p.Role == models.RoleModerator || p.Role == models.RoleAdmin)
}

// Action names an operation submitted to the guard.
type Action string

const (
	ActionViewSpace     Action = "space:view"
	ActionJoinSpace     Action = "space:join"
	ActionUpdateSpace   Action = "space:update"
	ActionDeleteSpace   Action = "space:delete"
	ActionTransferSpace Action = "space:transfer"
	ActionViewListing   Action = "listing:view"
	ActionCreateListing Action = "listing:create"
	ActionUpdateListing Action = "listing:update"
	ActionDeleteListing Action = "listing:delete"
)

// Resource carries the state the guard needs to decide. Role is the
// principal's membership role in Resource.Space, empty when not a member.
// InviteCode is the code presented on a join attempt.
type Resource struct {
	Space      *models.Space
	Listing    *models.Listing
	Role       models.MemberRole
	InviteCode string
}

// Decision is the guard's verdict. Reason is nil on Allow and a taxonomy
// error on Deny; the boundary maps it to the transport status. Denials on
// resources the principal cannot even see come back as NotFound so that
// private-space existence does not leak.
type Decision struct {
	Allowed bool
	Reason  error
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason error) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Authorize evaluates the access rules in order; the first matching rule wins.
func Authorize(p Principal, action Action, res Resource) Decision {
	// Anonymous principals may only perform public-space reads.
	if !p.Authenticated {
		if isRead(action) && res.Space != nil && res.Space.Type == models.SpacePublic {
			return allow()
		}
		if isRead(action) {
			// Private space: hide existence from anonymous callers.
			return deny(apperr.NotFound("space not found"))
		}
		return deny(apperr.Unauthorized("authentication required"))
	}

	switch action {
	case ActionUpdateListing, ActionDeleteListing:
		if res.Listing == nil {
			return deny(apperr.NotFound("listing not found"))
		}
		if res.Listing.UserID == p.ID {
			return allow()
		}
		if p.IsStaff() {
			// Platform moderation may act on any listing.
			return allow()
		}
		// A non-member of a private space must not learn the listing
		// exists from a mutate attempt.
		return deny(hiddenOrForbidden(res, "only the author may modify this listing"))

	case ActionCreateListing:
		if res.Role == "" {
			return deny(hiddenOrForbidden(res, "must be a member of the space to post"))
		}
		return allow()

	case ActionUpdateSpace:
		if res.Role == models.MemberOwner || res.Role == models.MemberAdmin {
			return allow()
		}
		return deny(hiddenOrForbidden(res, "space settings require owner or admin role"))

	case ActionDeleteSpace, ActionTransferSpace:
		if res.Role == models.MemberOwner {
			return allow()
		}
		return deny(hiddenOrForbidden(res, "only the space owner may do this"))

	case ActionJoinSpace:
		if res.Space == nil {
			return deny(apperr.NotFound("space not found"))
		}
		if res.Space.Type == models.SpacePrivate && res.InviteCode != res.Space.InviteCode {
			return deny(apperr.Forbidden("invite code mismatch"))
		}
		return allow()

	case ActionViewSpace, ActionViewListing:
		if res.Space == nil {
			return deny(apperr.NotFound("space not found"))
		}
		if res.Space.Type == models.SpacePrivate && res.Role == "" && !p.IsStaff() {
			return deny(apperr.NotFound("space not found"))
		}
		return allow()
	}

	return deny(apperr.Forbidden("unknown action"))
}

// hiddenOrForbidden picks the deny kind: a non-member of a private space
// gets NotFound (the space is invisible to them), everyone else Forbidden.
func hiddenOrForbidden(res Resource, msg string) error {
	if res.Space != nil && res.Space.Type == models.SpacePrivate && res.Role == "" {
		if res.Listing != nil {
			return apperr.NotFound("listing not found")
		}
		return apperr.NotFound("space not found")
	}
	return apperr.Forbidden(msg)
}

func isRead(action Action) bool {
	return action == ActionViewSpace || action == ActionViewListing
}
