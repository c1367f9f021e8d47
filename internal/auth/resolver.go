package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const defaultResolverTTL = 30 * time.Second

// Resolver answers authorization questions derived from role memberships and
// the role-form-permission matrix. All queries are total: unknown users or
// forms resolve to empty sets or false, never to an error. Resolved grants
// are cached per user for a short TTL; mutations go through Invalidate.
type Resolver struct {
	store Store
	cache *gocache.Cache
}

// NewResolver constructs a Resolver caching grants for ttl (a non-positive
// ttl falls back to the default).
func NewResolver(store Store, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultResolverTTL
	}
	return &Resolver{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// ResolveRoles returns the user's active roles: active membership rows joined
// to active roles. Unknown users yield an empty set.
func (r *Resolver) ResolveRoles(ctx context.Context, userID string) ([]Role, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	if cached, ok := r.cache.Get(roleKey(userID)); ok {
		return cached.([]Role), nil
	}
	roles, err := r.store.Roles().ActiveRolesForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: resolve roles: %v", ErrUnavailable, err)
	}
	r.cache.SetDefault(roleKey(userID), roles)
	return roles, nil
}

// ResolveAccessibleModules computes the distinct active modules reachable
// from the user's grants. A module is visible when any capability flag is
// true on any reachable form attached to it.
func (r *Resolver) ResolveAccessibleModules(ctx context.Context, userID string) ([]Module, error) {
	grants, err := r.grantsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	formSet := make(map[string]struct{})
	for _, g := range grants {
		if g.CanCreate || g.CanRead || g.CanUpdate || g.CanDelete {
			formSet[g.FormID] = struct{}{}
		}
	}
	if len(formSet) == 0 {
		return nil, nil
	}
	formIDs := make([]string, 0, len(formSet))
	for id := range formSet {
		formIDs = append(formIDs, id)
	}
	sort.Strings(formIDs)

	modules, err := r.store.Forms().ModulesForForms(ctx, formIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve modules: %v", ErrUnavailable, err)
	}
	return modules, nil
}

// CanPerform reports whether some active role of the user grants the
// operation on the form. Roles OR together; absence of a matching cell is a
// deny.
func (r *Resolver) CanPerform(ctx context.Context, userID, formID string, op Operation) (bool, error) {
	formID = strings.TrimSpace(formID)
	if formID == "" || !op.Valid() {
		return false, nil
	}
	grants, err := r.grantsForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g.FormID != formID {
			continue
		}
		if grantAllows(g, op) {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the cached resolution for one user. Call after any role
// or permission mutation affecting them.
func (r *Resolver) Invalidate(userID string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	r.cache.Delete(roleKey(userID))
	r.cache.Delete(grantKey(userID))
}

// InvalidateAll flushes the whole cache. Used after role-wide mutations
// whose affected user set is unknown.
func (r *Resolver) InvalidateAll() {
	r.cache.Flush()
}

func (r *Resolver) grantsForUser(ctx context.Context, userID string) ([]RoleFormPermission, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	if cached, ok := r.cache.Get(grantKey(userID)); ok {
		return cached.([]RoleFormPermission), nil
	}
	grants, err := r.store.Forms().ActiveGrantsForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: resolve grants: %v", ErrUnavailable, err)
	}
	r.cache.SetDefault(grantKey(userID), grants)
	return grants, nil
}

func grantAllows(g RoleFormPermission, op Operation) bool {
	switch op {
	case OpCreate:
		return g.CanCreate
	case OpRead:
		return g.CanRead
	case OpUpdate:
		return g.CanUpdate
	case OpDelete:
		return g.CanDelete
	}
	return false
}

func roleKey(userID string) string  { return "roles:" + userID }
func grantKey(userID string) string { return "grants:" + userID }
