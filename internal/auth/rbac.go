package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sgadmin.org/internal/ids"
)

// Capability category names seeded into the permission catalog.
const (
	PermissionCreate = "Create"
	PermissionRead   = "Read"
	PermissionUpdate = "Update"
	PermissionDelete = "Delete"
)

// BuiltinPermissions is the fixed permission catalog.
var BuiltinPermissions = []Permission{
	{Name: PermissionCreate, Description: "Create records on a form"},
	{Name: PermissionRead, Description: "Read records on a form"},
	{Name: PermissionUpdate, Description: "Update records on a form"},
	{Name: PermissionDelete, Description: "Delete records on a form"},
}

// GrantInput describes one matrix cell to set for a role on a form.
type GrantInput struct {
	FormID    string `json:"form_id"`
	CanCreate bool   `json:"can_create"`
	CanRead   bool   `json:"can_read"`
	CanUpdate bool   `json:"can_update"`
	CanDelete bool   `json:"can_delete"`
}

// RBACService manages roles, memberships, forms, modules, and grants — the
// data the resolver derives authorization from. Mutations invalidate the
// resolver cache.
type RBACService struct {
	store    Store
	resolver *Resolver
	now      func() time.Time
}

// NewRBACService constructs the management service.
func NewRBACService(store Store, resolver *Resolver) (*RBACService, error) {
	if store == nil || resolver == nil {
		return nil, errors.New("auth: store and resolver are required")
	}
	return &RBACService{store: store, resolver: resolver, now: time.Now}, nil
}

// EnsureBuiltins seeds the permission catalog.
func (s *RBACService) EnsureBuiltins(ctx context.Context) error {
	perms := make([]Permission, len(BuiltinPermissions))
	copy(perms, BuiltinPermissions)
	for i := range perms {
		perms[i].ID = ids.New()
	}
	return s.store.Forms().EnsurePermissions(ctx, perms)
}

// CreateRole adds an active role with a unique case-insensitive name.
func (s *RBACService) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Active:      true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// DeactivateRole soft-deletes a role: it disappears from resolution but its
// history stays.
func (s *RBACService) DeactivateRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if err := s.store.Roles().SetActive(ctx, roleID, false); err != nil {
		return err
	}
	s.resolver.InvalidateAll()
	return nil
}

// AssignRole gives a user an active membership in a role. Reassigning an
// existing pair reactivates it without touching the original CreatedAt.
func (s *RBACService) AssignRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if _, err := s.store.Roles().Find(ctx, roleID); err != nil {
		return err
	}
	ru := &RoleUser{
		ID:        ids.New(),
		UserID:    userID,
		RoleID:    roleID,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Roles().Assign(ctx, ru); err != nil {
		return err
	}
	s.resolver.Invalidate(userID)
	return nil
}

// RevokeRole deactivates a user's membership in a role.
func (s *RBACService) RevokeRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.Roles().RevokeAssignment(ctx, userID, roleID); err != nil {
		return err
	}
	s.resolver.Invalidate(userID)
	return nil
}

// CreateForm registers a protected resource.
func (s *RBACService) CreateForm(ctx context.Context, name, description string) (*Form, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: form name is required", ErrInvalidInput)
	}
	form := &Form{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Active:      true,
	}
	if err := s.store.Forms().CreateForm(ctx, form); err != nil {
		return nil, err
	}
	return form, nil
}

// CreateModule registers a grouping of forms.
func (s *RBACService) CreateModule(ctx context.Context, name, description string) (*Module, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: module name is required", ErrInvalidInput)
	}
	module := &Module{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Active:      true,
	}
	if err := s.store.Forms().CreateModule(ctx, module); err != nil {
		return nil, err
	}
	return module, nil
}

// AttachForm links a form into a module.
func (s *RBACService) AttachForm(ctx context.Context, moduleID, formID string) error {
	moduleID = strings.TrimSpace(moduleID)
	formID = strings.TrimSpace(formID)
	if moduleID == "" || formID == "" {
		return fmt.Errorf("%w: module_id and form_id are required", ErrInvalidInput)
	}
	mf := &ModuleForm{
		ID:       ids.New(),
		ModuleID: moduleID,
		FormID:   formID,
		Active:   true,
	}
	if err := s.store.Forms().AttachForm(ctx, mf); err != nil {
		return err
	}
	s.resolver.InvalidateAll()
	return nil
}

// SetGrants replaces a role's matrix cells for the given forms. The whole
// batch applies in one transaction.
func (s *RBACService) SetGrants(ctx context.Context, roleID string, grants []GrantInput) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if len(grants) == 0 {
		return fmt.Errorf("%w: at least one grant is required", ErrInvalidInput)
	}
	for _, g := range grants {
		if strings.TrimSpace(g.FormID) == "" {
			return fmt.Errorf("%w: form_id is required on each grant", ErrInvalidInput)
		}
	}
	if _, err := s.store.Roles().Find(ctx, roleID); err != nil {
		return err
	}
	catalog, err := s.store.Forms().Permissions(ctx)
	if err != nil {
		return fmt.Errorf("%w: load permission catalog: %v", ErrUnavailable, err)
	}
	byName := make(map[string]string, len(catalog))
	for _, p := range catalog {
		byName[p.Name] = p.ID
	}
	err = s.store.WithinTx(ctx, func(tx Store) error {
		for _, g := range grants {
			cell := &RoleFormPermission{
				ID:           ids.New(),
				RoleID:       roleID,
				FormID:       strings.TrimSpace(g.FormID),
				PermissionID: catalogRef(byName, g),
				CanCreate:    g.CanCreate,
				CanRead:      g.CanRead,
				CanUpdate:    g.CanUpdate,
				CanDelete:    g.CanDelete,
				Active:       true,
			}
			if err := tx.Forms().SetGrant(ctx, cell); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.resolver.InvalidateAll()
	return nil
}

// catalogRef files a cell under the broadest capability it enables. An
// all-false cell, or a catalog missing the entry, leaves the cell unlinked.
func catalogRef(byName map[string]string, g GrantInput) string {
	switch {
	case g.CanDelete:
		return byName[PermissionDelete]
	case g.CanUpdate:
		return byName[PermissionUpdate]
	case g.CanCreate:
		return byName[PermissionCreate]
	case g.CanRead:
		return byName[PermissionRead]
	}
	return ""
}
