package httpapi

import (
	"net/http"

	"sgadmin.org/internal/auth"
	"sgadmin.org/internal/obs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type checkTokenRequest struct {
	Token string `json:"token"`
}

type refreshRequest struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	Current    string `json:"current_password"`
	New        string `json:"new_password"`
	ConfirmNew string `json:"confirm_new_password"`
}

type validationResponse struct {
	IsValid  bool     `json:"is_valid"`
	UserID   string   `json:"user_id,omitempty"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.flow.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		obs.ObserveLogin("failure")
		handleAuthError(w, err)
		return
	}
	obs.ObserveLogin("success")
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var profile auth.Profile
	if err := decodeJSON(w, r, &profile); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.flow.Register(r.Context(), profile)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleValidate answers for the bearer token on the request itself. The
// path bypasses the authn middleware so an expired or absent token still
// gets a validation body back, matching check-token.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	token, ok := extractBearerToken(r)
	if !ok {
		writeJSON(w, http.StatusOK, validationResponse{IsValid: false})
		return
	}
	claims, err := a.flow.ValidateSession(token)
	if err != nil {
		writeJSON(w, http.StatusOK, validationResponse{IsValid: false})
		return
	}
	writeJSON(w, http.StatusOK, validationResponse{
		IsValid:  true,
		UserID:   claims.Subject,
		Username: claims.Username,
		Roles:    claims.Roles,
	})
}

// handleCheckToken validates an arbitrary token carried in the body; the
// endpoint itself is public.
func (a *API) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req checkTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	claims, err := a.flow.ValidateSession(req.Token)
	if err != nil {
		writeJSON(w, http.StatusOK, validationResponse{IsValid: false})
		return
	}
	writeJSON(w, http.StatusOK, validationResponse{
		IsValid:  true,
		UserID:   claims.Subject,
		Username: claims.Username,
		Roles:    claims.Roles,
	})
}

func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.flow.RefreshPair(r.Context(), req.Token, req.RefreshToken)
	if err != nil {
		obs.ObserveRotation("failure")
		handleAuthError(w, err)
		return
	}
	obs.ObserveRotation("success")
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := a.flow.Logout(r.Context(), principal.UserID); err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.flow.ChangePassword(r.Context(), principal.UserID, req.Current, req.New, req.ConfirmNew); err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
