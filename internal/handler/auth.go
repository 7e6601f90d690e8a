package handler

import (
	"net/http"
	"regexp"
	"time"
	"unicode/utf8"

	"zonemarket/internal/apperr"
	"zonemarket/internal/auth"
	"zonemarket/internal/logger"
	"zonemarket/internal/model"
)

const (
	loginTypeUser  = "user"
	loginTypeAdmin = "admin"
)

var (
	nameRe = regexp.MustCompile(`^[\p{L}\s]+$`)
	cityRe = regexp.MustCompile(`^[\p{L}\s,\-]+$`)
	mailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	City     string `json:"city"`
	Role     string `json:"role"`
}

func (req *registerRequest) validate() error {
	n := utf8.RuneCountInString(req.Name)
	switch {
	case n < 3 || n > 80:
		return apperr.InvalidArg("El nombre debe tener entre 3 y 80 caracteres")
	case !nameRe.MatchString(req.Name):
		return apperr.InvalidArg("El nombre solo puede contener letras, espacios y acentos")
	case !mailRe.MatchString(req.Email):
		return apperr.InvalidArg("El email no es válido")
	case len(req.Password) < 6 || len(req.Password) > 255:
		return apperr.InvalidArg("La contraseña debe tener al menos 6 caracteres")
	}
	if err := validatePhoneCity(req.Phone, req.City); err != nil {
		return err
	}
	if req.Role != "" && req.Role != string(model.RoleClient) && req.Role != string(model.RoleProvider) {
		return apperr.InvalidArg("El rol seleccionado no es válido")
	}
	return nil
}

func validatePhoneCity(phone, city string) error {
	if utf8.RuneCountInString(phone) > 20 {
		return apperr.InvalidArg("El teléfono no puede superar 20 caracteres")
	}
	if city != "" {
		if utf8.RuneCountInString(city) > 100 {
			return apperr.InvalidArg("La ciudad no puede superar 100 caracteres")
		}
		if !cityRe.MatchString(city) {
			return apperr.InvalidArg("La ciudad solo puede contener letras, espacios, guiones y comas")
		}
	}
	return nil
}

type authResponse struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	LoginType string      `json:"login_type,omitempty"`
}

// Register handles POST /api/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Name, req.Email, req.Phone, req.City = clean(req.Name), clean(req.Email), clean(req.Phone), clean(req.City)
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	user := &model.User{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		City:         req.City,
		Role:         model.Role(req.Role),
		PasswordHash: hash,
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.issueToken(r, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("[POST /api/register] ✅ Registered user: ID=%d, Role=%s", user.ID, user.Role)
	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (h *Handler) issueToken(r *http.Request, userID int64) (string, error) {
	token, hash, err := auth.NewToken()
	if err != nil {
		return "", apperr.Internal(err)
	}
	if err := h.Store.CreateToken(r.Context(), userID, hash); err != nil {
		return "", err
	}
	return token, nil
}

type loginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	LoginType string `json:"login_type"`
}

// Login handles POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Email = clean(req.Email)
	if req.LoginType == "" {
		req.LoginType = loginTypeUser
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, apperr.InvalidArg("El email y la contraseña son obligatorios"))
		return
	}
	if req.LoginType != loginTypeUser && req.LoginType != loginTypeAdmin {
		writeError(w, r, apperr.InvalidArg("El tipo de inicio de sesión no es válido"))
		return
	}

	user, err := h.Store.UserByEmail(r.Context(), req.Email)
	if err != nil && !apperr.Is(err, apperr.CodeNotFound) {
		writeError(w, r, err)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.Metrics.LoginFailures.WithLabelValues("credentials").Inc()
		writeError(w, r, apperr.Unauthorized("Credenciales inválidas"))
		return
	}

	if req.LoginType == loginTypeAdmin && !user.IsAdmin() {
		h.Metrics.LoginFailures.WithLabelValues("role").Inc()
		writeError(w, r, apperr.Forbidden("No tienes permisos de administrador"))
		return
	}
	if req.LoginType == loginTypeUser && user.IsAdmin() {
		h.Metrics.LoginFailures.WithLabelValues("role").Inc()
		writeError(w, r, apperr.Forbidden("Debes iniciar sesión como administrador"))
		return
	}

	if user.IsBanned(h.now()) {
		h.Metrics.LoginFailures.WithLabelValues("banned").Inc()
		h.writeBanned(w, r, user)
		return
	}
	if user.AccountStatus == model.StatusBannedTemp {
		// 期限切れの一時BANはここで解除する
		if err := h.Store.Unban(r.Context(), user.ID); err != nil {
			writeError(w, r, err)
			return
		}
		user.AccountStatus, user.BanExpiresAt, user.BanReason = model.StatusActive, nil, nil
	}

	if err := h.Store.RecordAccess(r.Context(), &model.AccessLog{
		UserID:     user.ID,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
		DeviceType: auth.DeviceType(r.UserAgent()),
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.TouchActivity(r.Context(), user.ID); err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.issueToken(r, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("[POST /api/login] ✅ Login: ID=%d, Type=%s", user.ID, req.LoginType)
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token, LoginType: req.LoginType})
}

// writeBanned writes the 403 body of a banned account, including the reason
// and, for temporary bans, the expiry.
func (h *Handler) writeBanned(w http.ResponseWriter, r *http.Request, user *model.User) {
	body := map[string]interface{}{
		"code":       string(apperr.CodePermissionDenied),
		"ban_reason": user.BanReason,
	}
	if user.AccountStatus == model.StatusBannedTemp {
		body["message"] = "Tu cuenta ha sido baneada temporalmente"
		body["ban_expires_at"] = user.BanExpiresAt.UTC().Format(time.RFC3339)
	} else {
		body["message"] = "Tu cuenta ha sido baneada permanentemente"
	}
	logger.Warnf("[%s %s] ❌ Banned account: ID=%d, Status=%s", r.Method, r.URL.Path, user.ID, user.AccountStatus)
	writeJSON(w, http.StatusForbidden, body)
}

// Logout handles POST /api/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if err := h.Store.DeleteToken(r.Context(), auth.HashToken(token)); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Sesión cerrada exitosamente")
}

// Me handles GET /api/user
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, auth.UserFromContext(r.Context()))
}

type profileRequest struct {
	Name            *string `json:"name"`
	Phone           *string `json:"phone"`
	City            *string `json:"city"`
	Avatar          *string `json:"avatar"`
	Password        *string `json:"password"`
	CurrentPassword string  `json:"current_password"`
}

// UpdateProfile handles PUT /api/user/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := auth.UserFromContext(r.Context())

	updated := *user
	if req.Name != nil {
		updated.Name = clean(*req.Name)
		n := utf8.RuneCountInString(updated.Name)
		if n < 3 || n > 80 || !nameRe.MatchString(updated.Name) {
			writeError(w, r, apperr.InvalidArg("El nombre solo puede contener letras, espacios y acentos"))
			return
		}
	}
	if req.Phone != nil {
		updated.Phone = clean(*req.Phone)
	}
	if req.City != nil {
		updated.City = clean(*req.City)
	}
	if req.Avatar != nil {
		updated.Avatar = clean(*req.Avatar)
	}
	if err := validatePhoneCity(updated.Phone, updated.City); err != nil {
		writeError(w, r, err)
		return
	}

	if req.Password != nil {
		if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
			writeError(w, r, apperr.InvalidArg("La contraseña actual es incorrecta"))
			return
		}
		if len(*req.Password) < 6 || len(*req.Password) > 255 {
			writeError(w, r, apperr.InvalidArg("La contraseña debe tener al menos 6 caracteres"))
			return
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			writeError(w, r, apperr.Internal(err))
			return
		}
		if err := h.Store.UpdatePassword(r.Context(), user.ID, hash); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if err := h.Store.UpdateProfile(r.Context(), &updated); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("[PUT /api/user/profile] ✅ Updated profile: ID=%d", user.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Perfil actualizado exitosamente",
		"user":    &updated,
	})
}
