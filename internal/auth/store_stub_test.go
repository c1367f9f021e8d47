package auth

import (
	"context"
	"strings"
	"sync"
)

// memStore is an in-memory Store for exercising the services without a
// database. WithinTx serializes whole units behind one mutex, a coarse
// stand-in for the per-user row lock; conflict checks happen before any
// write in the flows under test, so the lack of rollback is fine here.
type memStore struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	users       map[string]*User
	persons     map[string]*Person
	roles       map[string]*Role
	roleUsers   map[string]*RoleUser
	forms       map[string]*Form
	modules     map[string]*Module
	moduleForms []*ModuleForm
	permissions map[string]*Permission
	grants      map[string]*RoleFormPermission
	refresh     map[string]*RefreshToken
	logs        []*AccessLog
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]*User),
		persons:     make(map[string]*Person),
		roles:       make(map[string]*Role),
		roleUsers:   make(map[string]*RoleUser),
		forms:       make(map[string]*Form),
		modules:     make(map[string]*Module),
		permissions: make(map[string]*Permission),
		grants:      make(map[string]*RoleFormPermission),
		refresh:     make(map[string]*RefreshToken),
	}
}

func (s *memStore) Users() UserStore                 { return &memUsers{s} }
func (s *memStore) Persons() PersonStore             { return &memPersons{s} }
func (s *memStore) Roles() RoleStore                 { return &memRoles{s} }
func (s *memStore) Forms() FormStore                 { return &memForms{s} }
func (s *memStore) RefreshTokens() RefreshTokenStore { return &memRefresh{s} }
func (s *memStore) AccessLogs() AccessLogStore       { return &memLogs{s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(&memTx{s})
}

// memTx is the transaction-bound view; nesting reuses the running unit.
type memTx struct{ *memStore }

func (t *memTx) WithinTx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

type memUsers struct{ s *memStore }

func (m *memUsers) Create(ctx context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *u
	m.s.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Lock(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.users[id]; !ok {
		return ErrNotFound
	}
	return nil
}

func (m *memUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) Exists(ctx context.Context, username, email string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if !u.Active {
			continue
		}
		if strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memUsers) SetActive(ctx context.Context, userID string, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	return nil
}

type memPersons struct{ s *memStore }

func (m *memPersons) Create(ctx context.Context, p *Person) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *p
	m.s.persons[p.ID] = &cp
	return nil
}

func (m *memPersons) Find(ctx context.Context, id string) (*Person, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.persons[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPersons) DocumentExists(ctx context.Context, documentNumber string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.persons {
		if p.DocumentNumber == documentNumber {
			return true, nil
		}
	}
	return false, nil
}

type memRoles struct{ s *memStore }

func (m *memRoles) Create(ctx context.Context, role *Role) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *role
	m.s.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Find(ctx context.Context, id string) (*Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, r := range m.s.roles {
		if strings.EqualFold(r.Name, name) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) SetActive(ctx context.Context, id string, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.roles[id]
	if !ok {
		return ErrNotFound
	}
	r.Active = active
	return nil
}

func (m *memRoles) Assign(ctx context.Context, ru *RoleUser) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.roleUsers {
		if existing.UserID == ru.UserID && existing.RoleID == ru.RoleID {
			existing.Active = ru.Active
			return nil
		}
	}
	cp := *ru
	m.s.roleUsers[ru.ID] = &cp
	return nil
}

func (m *memRoles) RevokeAssignment(ctx context.Context, userID, roleID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, ru := range m.s.roleUsers {
		if ru.UserID == userID && ru.RoleID == roleID {
			ru.Active = false
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRoles) ActiveRolesForUser(ctx context.Context, userID string) ([]Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []Role
	for _, ru := range m.s.roleUsers {
		if ru.UserID != userID || !ru.Active {
			continue
		}
		if r, ok := m.s.roles[ru.RoleID]; ok && r.Active {
			out = append(out, *r)
		}
	}
	return out, nil
}

type memForms struct{ s *memStore }

func (m *memForms) CreateForm(ctx context.Context, f *Form) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *f
	m.s.forms[f.ID] = &cp
	return nil
}

func (m *memForms) FindForm(ctx context.Context, id string) (*Form, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	f, ok := m.s.forms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memForms) CreateModule(ctx context.Context, mod *Module) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *mod
	m.s.modules[mod.ID] = &cp
	return nil
}

func (m *memForms) AttachForm(ctx context.Context, mf *ModuleForm) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *mf
	m.s.moduleForms = append(m.s.moduleForms, &cp)
	return nil
}

func (m *memForms) EnsurePermissions(ctx context.Context, perms []Permission) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range perms {
		if _, ok := m.s.permissions[perms[i].Name]; !ok {
			cp := perms[i]
			m.s.permissions[perms[i].Name] = &cp
		}
	}
	return nil
}

func (m *memForms) Permissions(ctx context.Context) ([]Permission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []Permission
	for _, p := range m.s.permissions {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memForms) SetGrant(ctx context.Context, g *RoleFormPermission) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *g
	m.s.grants[g.RoleID+"|"+g.FormID] = &cp
	return nil
}

func (m *memForms) ActiveGrantsForUser(ctx context.Context, userID string) ([]RoleFormPermission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	activeRoles := make(map[string]bool)
	for _, ru := range m.s.roleUsers {
		if ru.UserID != userID || !ru.Active {
			continue
		}
		if r, ok := m.s.roles[ru.RoleID]; ok && r.Active {
			activeRoles[r.ID] = true
		}
	}
	var out []RoleFormPermission
	for _, g := range m.s.grants {
		if !g.Active || !activeRoles[g.RoleID] {
			continue
		}
		if f, ok := m.s.forms[g.FormID]; !ok || !f.Active {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func (m *memForms) ModulesForForms(ctx context.Context, formIDs []string) ([]Module, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	wanted := make(map[string]bool, len(formIDs))
	for _, id := range formIDs {
		wanted[id] = true
	}
	seen := make(map[string]bool)
	var out []Module
	for _, mf := range m.s.moduleForms {
		if !mf.Active || !wanted[mf.FormID] || seen[mf.ModuleID] {
			continue
		}
		if mod, ok := m.s.modules[mf.ModuleID]; ok && mod.Active {
			seen[mod.ID] = true
			out = append(out, *mod)
		}
	}
	return out, nil
}

type memRefresh struct{ s *memStore }

func (m *memRefresh) Create(ctx context.Context, tok *RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *tok
	m.s.refresh[tok.ID] = &cp
	return nil
}

func (m *memRefresh) Find(ctx context.Context, id string) (*RefreshToken, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.refresh[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memRefresh) Rotate(ctx context.Context, id string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.refresh[id]
	if !ok || tok.Status != RefreshStatusActive {
		return false, nil
	}
	tok.Status = RefreshStatusRotated
	return true, nil
}

func (m *memRefresh) Revoke(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.refresh[id]
	if !ok {
		return ErrNotFound
	}
	tok.Status = RefreshStatusRevoked
	return nil
}

func (m *memRefresh) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, tok := range m.s.refresh {
		if tok.UserID != userID {
			continue
		}
		if tok.Status == RefreshStatusActive || tok.Status == RefreshStatusRotated {
			tok.Status = RefreshStatusRevoked
			n++
		}
	}
	return n, nil
}

type memLogs struct{ s *memStore }

func (m *memLogs) Append(ctx context.Context, entry *AccessLog) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *entry
	m.s.logs = append(m.s.logs, &cp)
	return nil
}

// recordingAudit captures audit events synchronously.
type recordingAudit struct {
	mu      sync.Mutex
	entries []AccessLog
}

func (r *recordingAudit) Record(ctx context.Context, userID, action string, success bool, details string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, AccessLog{UserID: userID, Action: action, Success: success, Details: details})
}

func (r *recordingAudit) byAction(action string) []AccessLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AccessLog
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
