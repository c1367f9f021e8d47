package auth

import "context"

// Store describes the persistence operations the auth subsystem consumes.
// WithinTx runs fn against a store bound to one transaction; the whole unit
// commits or rolls back together.
type Store interface {
	Users() UserStore
	Persons() PersonStore
	Roles() RoleStore
	Forms() FormStore
	RefreshTokens() RefreshTokenStore
	AccessLogs() AccessLogStore
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// UserStore manages credentialed accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// Lock acquires the user's row lock for the remainder of the enclosing
	// transaction. Refresh rotation and bulk revocation both take it first,
	// which serializes the two flows per user.
	Lock(ctx context.Context, id string) error
	FindByUsername(ctx context.Context, username string) (*User, error)
	// Exists reports whether an active user already claims the username or
	// the email.
	Exists(ctx context.Context, username, email string) (bool, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetActive(ctx context.Context, userID string, active bool) error
}

// PersonStore manages identity records.
type PersonStore interface {
	Create(ctx context.Context, p *Person) error
	Find(ctx context.Context, id string) (*Person, error)
	DocumentExists(ctx context.Context, documentNumber string) (bool, error)
}

// RoleStore manages roles and memberships.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	// FindByName looks a role up case-insensitively.
	FindByName(ctx context.Context, name string) (*Role, error)
	SetActive(ctx context.Context, id string, active bool) error
	// Assign upserts a membership row. Re-activating an existing pair keeps
	// the row's original CreatedAt.
	Assign(ctx context.Context, ru *RoleUser) error
	RevokeAssignment(ctx context.Context, userID, roleID string) error
	ActiveRolesForUser(ctx context.Context, userID string) ([]Role, error)
}

// FormStore manages forms, modules, and the authorization matrix.
type FormStore interface {
	CreateForm(ctx context.Context, f *Form) error
	FindForm(ctx context.Context, id string) (*Form, error)
	CreateModule(ctx context.Context, m *Module) error
	AttachForm(ctx context.Context, mf *ModuleForm) error
	EnsurePermissions(ctx context.Context, perms []Permission) error
	Permissions(ctx context.Context) ([]Permission, error)
	// SetGrant upserts a matrix cell for (role, form, permission).
	SetGrant(ctx context.Context, g *RoleFormPermission) error
	// ActiveGrantsForUser returns the matrix cells reachable through the
	// user's active memberships in active roles, restricted to active cells
	// on active forms.
	ActiveGrantsForUser(ctx context.Context, userID string) ([]RoleFormPermission, error)
	// ModulesForForms returns the distinct active modules attached to any of
	// the given forms through active module-form rows.
	ModulesForForms(ctx context.Context, formIDs []string) ([]Module, error)
}

// RefreshTokenStore manages the refresh token lifecycle. Rows are immutable
// except for the status column and are never deleted.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Rotate transitions a token from active to rotated. It reports false
	// when the token was not active, which makes concurrent rotation a
	// first-committer-wins race.
	Rotate(ctx context.Context, id string) (bool, error)
	// Revoke transitions one token to revoked regardless of prior state.
	Revoke(ctx context.Context, id string) error
	// RevokeAllForUser flips every active and rotated token of the user to
	// revoked in a single statement and returns the affected count.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// AccessLogStore appends immutable audit rows.
type AccessLogStore interface {
	Append(ctx context.Context, entry *AccessLog) error
}

// AuditRecorder is the consumed audit collaborator. Implementations are
// best-effort: failures are logged, never propagated, and Record must not
// block the calling flow.
type AuditRecorder interface {
	Record(ctx context.Context, userID, action string, success bool, details string)
}
