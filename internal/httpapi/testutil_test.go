package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sgadmin.org/internal/auth"
)

// inmemStore is a minimal auth.Store for exercising the HTTP surface against
// real services.
type inmemStore struct {
	mu          sync.Mutex
	users       map[string]*auth.User
	persons     map[string]*auth.Person
	roles       map[string]*auth.Role
	roleUsers   map[string]*auth.RoleUser
	forms       map[string]*auth.Form
	modules     map[string]*auth.Module
	moduleForms []*auth.ModuleForm
	permissions map[string]*auth.Permission
	grants      map[string]*auth.RoleFormPermission
	refresh     map[string]*auth.RefreshToken
	logs        []*auth.AccessLog
}

func newInmemStore() *inmemStore {
	return &inmemStore{
		users:       make(map[string]*auth.User),
		persons:     make(map[string]*auth.Person),
		roles:       make(map[string]*auth.Role),
		roleUsers:   make(map[string]*auth.RoleUser),
		forms:       make(map[string]*auth.Form),
		modules:     make(map[string]*auth.Module),
		permissions: make(map[string]*auth.Permission),
		grants:      make(map[string]*auth.RoleFormPermission),
		refresh:     make(map[string]*auth.RefreshToken),
	}
}

func (s *inmemStore) Users() auth.UserStore                 { return &inmemUsers{s} }
func (s *inmemStore) Persons() auth.PersonStore             { return &inmemPersons{s} }
func (s *inmemStore) Roles() auth.RoleStore                 { return &inmemRoles{s} }
func (s *inmemStore) Forms() auth.FormStore                 { return &inmemForms{s} }
func (s *inmemStore) RefreshTokens() auth.RefreshTokenStore { return &inmemRefresh{s} }
func (s *inmemStore) AccessLogs() auth.AccessLogStore       { return &inmemLogs{s} }

func (s *inmemStore) WithinTx(ctx context.Context, fn func(auth.Store) error) error {
	return fn(s)
}

type inmemUsers struct{ s *inmemStore }

func (m *inmemUsers) Create(ctx context.Context, u *auth.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *u
	m.s.users[u.ID] = &cp
	return nil
}

func (m *inmemUsers) Find(ctx context.Context, id string) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *inmemUsers) Lock(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.users[id]; !ok {
		return auth.ErrNotFound
	}
	return nil
}

func (m *inmemUsers) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *inmemUsers) Exists(ctx context.Context, username, email string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Active && (strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, email)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *inmemUsers) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *inmemUsers) SetActive(ctx context.Context, userID string, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.Active = active
	return nil
}

type inmemPersons struct{ s *inmemStore }

func (m *inmemPersons) Create(ctx context.Context, p *auth.Person) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *p
	m.s.persons[p.ID] = &cp
	return nil
}

func (m *inmemPersons) Find(ctx context.Context, id string) (*auth.Person, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.persons[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *inmemPersons) DocumentExists(ctx context.Context, documentNumber string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.persons {
		if p.DocumentNumber == documentNumber {
			return true, nil
		}
	}
	return false, nil
}

type inmemRoles struct{ s *inmemStore }

func (m *inmemRoles) Create(ctx context.Context, role *auth.Role) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *role
	m.s.roles[role.ID] = &cp
	return nil
}

func (m *inmemRoles) Find(ctx context.Context, id string) (*auth.Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *inmemRoles) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, r := range m.s.roles {
		if strings.EqualFold(r.Name, name) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *inmemRoles) SetActive(ctx context.Context, id string, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.roles[id]
	if !ok {
		return auth.ErrNotFound
	}
	r.Active = active
	return nil
}

func (m *inmemRoles) Assign(ctx context.Context, ru *auth.RoleUser) error {
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

func (m *inmemRoles) RevokeAssignment(ctx context.Context, userID, roleID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, ru := range m.s.roleUsers {
		if ru.UserID == userID && ru.RoleID == roleID {
			ru.Active = false
			return nil
		}
	}
	return auth.ErrNotFound
}

func (m *inmemRoles) ActiveRolesForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []auth.Role
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

type inmemForms struct{ s *inmemStore }

func (m *inmemForms) CreateForm(ctx context.Context, f *auth.Form) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *f
	m.s.forms[f.ID] = &cp
	return nil
}

func (m *inmemForms) FindForm(ctx context.Context, id string) (*auth.Form, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	f, ok := m.s.forms[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *inmemForms) CreateModule(ctx context.Context, mod *auth.Module) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *mod
	m.s.modules[mod.ID] = &cp
	return nil
}

func (m *inmemForms) AttachForm(ctx context.Context, mf *auth.ModuleForm) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *mf
	m.s.moduleForms = append(m.s.moduleForms, &cp)
	return nil
}

func (m *inmemForms) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
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

func (m *inmemForms) Permissions(ctx context.Context) ([]auth.Permission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []auth.Permission
	for _, p := range m.s.permissions {
		out = append(out, *p)
	}
	return out, nil
}

func (m *inmemForms) SetGrant(ctx context.Context, g *auth.RoleFormPermission) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *g
	m.s.grants[g.RoleID+"|"+g.FormID] = &cp
	return nil
}

func (m *inmemForms) ActiveGrantsForUser(ctx context.Context, userID string) ([]auth.RoleFormPermission, error) {
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
	var out []auth.RoleFormPermission
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

func (m *inmemForms) ModulesForForms(ctx context.Context, formIDs []string) ([]auth.Module, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	wanted := make(map[string]bool, len(formIDs))
	for _, id := range formIDs {
		wanted[id] = true
	}
	seen := make(map[string]bool)
	var out []auth.Module
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

type inmemRefresh struct{ s *inmemStore }

func (m *inmemRefresh) Create(ctx context.Context, tok *auth.RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *tok
	m.s.refresh[tok.ID] = &cp
	return nil
}

func (m *inmemRefresh) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.refresh[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *inmemRefresh) Rotate(ctx context.Context, id string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.refresh[id]
	if !ok || tok.Status != auth.RefreshStatusActive {
		return false, nil
	}
	tok.Status = auth.RefreshStatusRotated
	return true, nil
}

func (m *inmemRefresh) Revoke(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.refresh[id]
	if !ok {
		return auth.ErrNotFound
	}
	tok.Status = auth.RefreshStatusRevoked
	return nil
}

func (m *inmemRefresh) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, tok := range m.s.refresh {
		if tok.UserID == userID && tok.Status != auth.RefreshStatusRevoked {
			tok.Status = auth.RefreshStatusRevoked
			n++
		}
	}
	return n, nil
}

type inmemLogs struct{ s *inmemStore }

func (m *inmemLogs) Append(ctx context.Context, entry *auth.AccessLog) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *entry
	m.s.logs = append(m.s.logs, &cp)
	return nil
}

// apiClient drives the composed handler through a live test server.
type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *inmemStore
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := newInmemStore()
	seedAPIUser(t, store, "user-admin", "root", "root-pass", "role-admin", "admin")
	seedAPIUser(t, store, "user-alice", "alice", "s3cret!", "role-auditor", "Auditor")

	tokens, err := auth.NewTokenService(store, "test-secret",
		auth.WithIssuer("test-issuer"),
		auth.WithAccessTTL(15*time.Minute),
		auth.WithRefreshTTL(24*time.Hour),
	)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	resolver := auth.NewResolver(store, time.Minute)
	flow, err := auth.NewService(store, tokens, resolver, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	rbac, err := auth.NewRBACService(store, resolver)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}

	api := New(ReadyProbe{}, "test", flow, rbac, resolver, RateLimits{Burst: 100, PerSecond: 100})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
	}
}

func seedAPIUser(t *testing.T, store *inmemStore, id, username, password, roleID, roleName string) {
	t.Helper()
	ctx := context.Background()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := store.Users().Create(ctx, &auth.User{
		ID: id, PersonID: "person-" + id, Username: username,
		Email: username + "@example.com", PasswordHash: hash, Active: true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := store.Roles().Find(ctx, roleID); err != nil {
		if err := store.Roles().Create(ctx, &auth.Role{ID: roleID, Name: roleName, Active: true}); err != nil {
			t.Fatalf("seed role: %v", err)
		}
	}
	if err := store.Roles().Assign(ctx, &auth.RoleUser{
		ID: "ru-" + id, UserID: id, RoleID: roleID, Active: true,
	}); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *apiClient) decode(resp *http.Response, dst any) {
	c.t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
}

func (c *apiClient) login(username, password string) auth.LoginResult {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/login", loginRequest{Username: username, Password: password}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var result auth.LoginResult
	c.decode(resp, &result)
	return result
}
