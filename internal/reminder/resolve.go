package reminder

import (
	"context"
	"fmt"
	"slices"
)

// RoleSuperAdmin is the role that sees every area.
const RoleSuperAdmin = "super_admin"

// PermServiceExpiry gates service-expiry reminders.
const PermServiceExpiry = "services.expiry-reminders"

// User is the slice of a user account the resolver needs.
type User struct {
	ID          int64
	Name        string
	Active      bool
	Roles       []string
	Permissions []string
}

// HasRole reports whether the user holds role.
func (u User) HasRole(role string) bool { return slices.Contains(u.Roles, role) }

// HasPermission reports whether the user holds perm, directly or via a role.
func (u User) HasPermission(perm string) bool { return slices.Contains(u.Permissions, perm) }

// Directory looks up users under the role/area visibility model.
type Directory interface {
	Users(ctx context.Context, ids []int64) ([]User, error)
	AreaManagers(ctx context.Context, areaID int64) ([]User, error)
	SuperAdmins(ctx context.Context) ([]User, error)
}

// Authorizer decides whether a user may receive a notification type.
type Authorizer interface {
	CanReceive(u User, notificationType string) bool
}

// PermissionAuthorizer requires a named permission for some notification
// types. Super-admins pass every check; inactive users pass none.
type PermissionAuthorizer struct {
	Required map[string]string // notification type -> permission
}

// DefaultAuthorizer gates service-expiry reminders behind PermServiceExpiry.
func DefaultAuthorizer() PermissionAuthorizer {
	return PermissionAuthorizer{Required: map[string]string{
		TypeServiceExpiry: PermServiceExpiry,
	}}
}

func (a PermissionAuthorizer) CanReceive(u User, notificationType string) bool {
	if !u.Active {
		return false
	}
	perm, gated := a.Required[notificationType]
	if !gated || u.HasRole(RoleSuperAdmin) {
		return true
	}
	return u.HasPermission(perm)
}

// Resolver maps an intent to its concrete recipients.
type Resolver struct {
	dir  Directory
	auth Authorizer
}

// NewResolver creates a Resolver. A nil auth falls back to DefaultAuthorizer.
func NewResolver(dir Directory, auth Authorizer) *Resolver {
	if auth == nil {
		auth = DefaultAuthorizer()
	}
	return &Resolver{dir: dir, auth: auth}
}

// Resolve returns the deliveries for an intent: owners and area managers
// under AudiencePrimary, then super-admins under AudienceAdmin when the
// target asks for the broadcast. Users already reached through the primary
// audience are not repeated in the broadcast. An empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, in Intent) ([]Delivery, error) {
	var candidates []User

	if len(in.Target.Owners) > 0 {
		owners, err := r.dir.Users(ctx, in.Target.Owners)
		if err != nil {
			return nil, fmt.Errorf("load owners: %w", err)
		}
		candidates = append(candidates, orderByIDs(owners, in.Target.Owners)...)
	}

	if in.Target.AreaID != 0 {
		managers, err := r.dir.AreaManagers(ctx, in.Target.AreaID)
		if err != nil {
			return nil, fmt.Errorf("load area managers: %w", err)
		}
		candidates = append(candidates, managers...)
	}

	seen := make(map[int64]bool)
	var out []Delivery
	for _, u := range candidates {
		if seen[u.ID] || !r.auth.CanReceive(u, in.Type) {
			continue
		}
		seen[u.ID] = true
		out = append(out, Delivery{UserID: u.ID, Audience: AudiencePrimary})
	}

	if !in.Target.NotifyAdmins {
		return out, nil
	}

	admins, err := r.dir.SuperAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("load super admins: %w", err)
	}
	for _, u := range admins {
		if seen[u.ID] || !r.auth.CanReceive(u, in.Type) {
			continue
		}
		seen[u.ID] = true
		out = append(out, Delivery{UserID: u.ID, Audience: AudienceAdmin})
	}
	return out, nil
}

// orderByIDs returns users in the order their ids were requested, dropping
// ids the directory did not return.
func orderByIDs(users []User, ids []int64) []User {
	byID := make(map[int64]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out
}
