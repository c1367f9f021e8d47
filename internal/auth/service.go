package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sgadmin.org/internal/ids"
)

// Audit action names emitted by the flow.
const (
	ActionLogin          = "auth.login"
	ActionRegister       = "auth.register"
	ActionLogout         = "auth.logout"
	ActionChangePassword = "auth.change_password"
)

// Profile is the registration input.
type Profile struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
}

// UserSummary is the minimal profile returned to callers after a successful
// credential exchange.
type UserSummary struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// LoginResult carries the issued pair plus the user summary.
type LoginResult struct {
	Pair TokenPair   `json:"tokens"`
	User UserSummary `json:"user"`
}

// Service orchestrates credential verification, token issuance, and the
// account lifecycle flows, emitting best-effort audit events along the way.
type Service struct {
	store    Store
	tokens   *TokenService
	resolver *Resolver
	audit    AuditRecorder

	defaultRole string
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithDefaultRole names the role attached to new registrations when it
// exists and is active.
func WithDefaultRole(name string) ServiceOption {
	return func(s *Service) {
		s.defaultRole = strings.TrimSpace(name)
	}
}

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the flow. The recorder may be nil, in which case audit
// events are dropped.
func NewService(store Store, tokens *TokenService, resolver *Resolver, recorder AuditRecorder, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil || resolver == nil {
		return nil, errors.New("auth: store, token service, and resolver are required")
	}
	s := &Service{
		store:    store,
		tokens:   tokens,
		resolver: resolver,
		audit:    recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login verifies credentials and issues a token pair. Unknown usernames,
// deactivated accounts, and wrong passwords all fail with the same error so
// callers cannot enumerate users.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.record(ctx, "", ActionLogin, false, "missing credentials")
		return LoginResult{}, ErrUnauthorized
	}

	user, err := s.store.Users().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.record(ctx, "", ActionLogin, false, "unknown subject: "+username)
			return LoginResult{}, ErrUnauthorized
		}
		return LoginResult{}, fmt.Errorf("%w: find user: %v", ErrUnavailable, err)
	}
	if !user.Active {
		s.record(ctx, user.ID, ActionLogin, false, "account inactive")
		return LoginResult{}, ErrUnauthorized
	}
	if !VerifyPassword(user.PasswordHash, password) {
		s.record(ctx, user.ID, ActionLogin, false, "credential mismatch")
		return LoginResult{}, ErrUnauthorized
	}

	return s.issueFor(ctx, user, ActionLogin)
}

// Register validates the profile, creates person and user in one atomic
// unit, optionally attaches the default role, and auto-logs the new account
// in. Duplicate username, email, or document number yields ErrConflict with
// nothing persisted.
func (s *Service) Register(ctx context.Context, profile Profile) (LoginResult, error) {
	profile.Username = strings.TrimSpace(profile.Username)
	profile.Email = strings.TrimSpace(strings.ToLower(profile.Email))
	profile.FirstName = strings.TrimSpace(profile.FirstName)
	profile.LastName = strings.TrimSpace(profile.LastName)
	profile.DocumentType = strings.TrimSpace(profile.DocumentType)
	profile.DocumentNumber = strings.TrimSpace(profile.DocumentNumber)

	switch {
	case profile.Username == "", profile.Password == "", profile.Email == "",
		profile.FirstName == "", profile.DocumentNumber == "":
		return LoginResult{}, fmt.Errorf("%w: username, password, email, first name, and document number are required", ErrInvalidInput)
	case !strings.Contains(profile.Email, "@"):
		return LoginResult{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}

	hash, err := HashPassword(profile.Password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: hash password: %v", ErrUnavailable, err)
	}

	var user *User
	err = s.store.WithinTx(ctx, func(tx Store) error {
		taken, err := tx.Users().Exists(ctx, profile.Username, profile.Email)
		if err != nil {
			return fmt.Errorf("%w: check user uniqueness: %v", ErrUnavailable, err)
		}
		if taken {
			return fmt.Errorf("%w: username or email already registered", ErrConflict)
		}
		docTaken, err := tx.Persons().DocumentExists(ctx, profile.DocumentNumber)
		if err != nil {
			return fmt.Errorf("%w: check document uniqueness: %v", ErrUnavailable, err)
		}
		if docTaken {
			return fmt.Errorf("%w: document number already registered", ErrConflict)
		}

		now := s.now().UTC()
		person := &Person{
			ID:             ids.New(),
			FirstName:      profile.FirstName,
			LastName:       profile.LastName,
			DocumentType:   profile.DocumentType,
			DocumentNumber: profile.DocumentNumber,
			CreatedAt:      now,
		}
		if err := tx.Persons().Create(ctx, person); err != nil {
			return registerStoreErr("create person", err)
		}
		user = &User{
			ID:           ids.New(),
			PersonID:     person.ID,
			Username:     profile.Username,
			Email:        profile.Email,
			PasswordHash: hash,
			Active:       true,
			CreatedAt:    now,
		}
		if err := tx.Users().Create(ctx, user); err != nil {
			return registerStoreErr("create user", err)
		}

		if s.defaultRole != "" {
			role, err := tx.Roles().FindByName(ctx, s.defaultRole)
			switch {
			case errors.Is(err, ErrNotFound):
				// No default role configured in the database; skip.
			case err != nil:
				return fmt.Errorf("%w: find default role: %v", ErrUnavailable, err)
			case role.Active:
				ru := &RoleUser{
					ID:        ids.New(),
					UserID:    user.ID,
					RoleID:    role.ID,
					Active:    true,
					CreatedAt: now,
				}
				if err := tx.Roles().Assign(ctx, ru); err != nil {
					return fmt.Errorf("%w: assign default role: %v", ErrUnavailable, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		s.record(ctx, "", ActionRegister, false, err.Error())
		return LoginResult{}, err
	}

	return s.issueFor(ctx, user, ActionRegister)
}

// Logout revokes every refresh token of the user. It succeeds even when no
// token existed.
func (s *Service) Logout(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidInput
	}
	if err := s.tokens.RevokeAllRefreshTokens(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, userID, ActionLogout, true, "")
	return nil
}

// ChangePassword verifies the current password, persists the new hash, and
// revokes every refresh token so all sessions must re-authenticate.
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword, confirm string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || newPassword == "" {
		return ErrInvalidInput
	}
	if newPassword != confirm {
		return fmt.Errorf("%w: password confirmation does not match", ErrInvalidInput)
	}

	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: find user: %v", ErrUnavailable, err)
	}
	if !user.Active || !VerifyPassword(user.PasswordHash, current) {
		s.record(ctx, userID, ActionChangePassword, false, "credential mismatch")
		return ErrUnauthorized
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: hash password: %v", ErrUnavailable, err)
	}
	err = s.store.WithinTx(ctx, func(tx Store) error {
		// Same serialization point as token rotation: no refresh can land a
		// new token between the password change and the revocation sweep.
		if err := tx.Users().Lock(ctx, userID); err != nil {
			return fmt.Errorf("%w: lock user: %v", ErrUnavailable, err)
		}
		if err := tx.Users().UpdatePassword(ctx, userID, hash); err != nil {
			return fmt.Errorf("%w: update password: %v", ErrUnavailable, err)
		}
		if _, err := tx.RefreshTokens().RevokeAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("%w: revoke refresh tokens: %v", ErrUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, userID, ActionChangePassword, true, "")
	return nil
}

// RefreshPair rotates a refresh token and issues a fresh pair. Pure
// delegation to the token service.
func (s *Service) RefreshPair(ctx context.Context, accessToken, refreshToken string) (TokenPair, error) {
	return s.tokens.RefreshAccessToken(ctx, accessToken, refreshToken)
}

// ValidateSession delegates to the token service; downstream request
// authorization uses the returned claims for identity.
func (s *Service) ValidateSession(token string) (*Claims, error) {
	return s.tokens.ValidateAccessToken(token)
}

func (s *Service) issueFor(ctx context.Context, user *User, action string) (LoginResult, error) {
	roles, err := s.resolver.ResolveRoles(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	names := roleNames(roles)
	pair, err := s.tokens.GenerateTokenPair(ctx, user, names)
	if err != nil {
		return LoginResult{}, err
	}
	s.record(ctx, user.ID, action, true, "")
	return LoginResult{
		Pair: pair,
		User: UserSummary{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Roles:    dedupeRoles(names),
		},
	}, nil
}

func (s *Service) record(ctx context.Context, userID, action string, success bool, details string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, userID, action, success, details)
}

func registerStoreErr(op string, err error) error {
	if errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
