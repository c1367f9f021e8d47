package auth

import "time"

// User is a credentialed account. Every user references exactly one person;
// the password hash is only ever mutated through the change-password flow.
type User struct {
	ID           string    `json:"id"`
	PersonID     string    `json:"person_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Person holds identity data independent of credentials. A person may exist
// without a user.
type Person struct {
	ID             string    `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	DocumentType   string    `json:"document_type"`
	DocumentNumber string    `json:"document_number"`
	CreatedAt      time.Time `json:"created_at"`
}

// Role groups users for authorization purposes.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleUser is a user-role membership row. Effective membership is the set of
// rows with Active=true; CreatedAt survives reassignment.
type RoleUser struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Form is a protected resource or screen.
type Form struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Active      bool   `json:"active"`
}

// Module groups forms.
type Module struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// ModuleForm attaches a form to a module.
type ModuleForm struct {
	ID       string `json:"id"`
	ModuleID string `json:"module_id"`
	FormID   string `json:"form_id"`
	Active   bool   `json:"active"`
}

// Permission names a capability category ("Create", "Read", ...).
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RoleFormPermission is the authorization matrix cell: a role's capabilities
// on one form.
type RoleFormPermission struct {
	ID           string `json:"id"`
	RoleID       string `json:"role_id"`
	FormID       string `json:"form_id"`
	PermissionID string `json:"permission_id"`
	CanCreate    bool   `json:"can_create"`
	CanRead      bool   `json:"can_read"`
	CanUpdate    bool   `json:"can_update"`
	CanDelete    bool   `json:"can_delete"`
	Active       bool   `json:"active"`
}

// Refresh token lifecycle states. Rows are never deleted; a token leaves the
// active state exactly once.
const (
	RefreshStatusActive  = "active"
	RefreshStatusRotated = "rotated"
	RefreshStatusRevoked = "revoked"
)

// RefreshToken is the persisted half of an opaque refresh credential. Only
// the SHA-256 of the client secret is stored.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	Status    string    `json:"status"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccessLog is one append-only audit row. UserID is empty for requests whose
// subject could not be established.
type AccessLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Operation selects one of the four capability flags of a matrix cell.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op names a known capability.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		return true
	}
	return false
}
