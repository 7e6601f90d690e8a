package handler

import (
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"zonemarket/internal/apperr"
	"zonemarket/internal/auth"
	"zonemarket/internal/logger"
	"zonemarket/internal/model"
	"zonemarket/internal/store"
)

const (
	maxBanHours     = 8760
	maxReasonLength = 500
)

// RegisterAdmin mounts the back-office routes on r. Every route requires the
// admin role.
func (h *Handler) RegisterAdmin(r *mux.Router) {
	r.Use(h.requireAdmin)

	r.HandleFunc("/dashboard", h.AdminDashboard).Methods("GET")

	r.HandleFunc("/users", h.AdminListUsers).Methods("GET")
	r.HandleFunc("/users/{id:[0-9]+}", h.AdminUserDetails).Methods("GET")
	r.HandleFunc("/users/{id:[0-9]+}/ban-temporary", h.AdminBanTemporary).Methods("POST")
	r.HandleFunc("/users/{id:[0-9]+}/ban-permanent", h.AdminBanPermanent).Methods("POST")
	r.HandleFunc("/users/{id:[0-9]+}/unban", h.AdminUnban).Methods("POST")
	r.HandleFunc("/users/{id:[0-9]+}/reset-password", h.AdminResetPassword).Methods("POST")
	r.HandleFunc("/users/{id:[0-9]+}/access-history", h.AdminAccessHistory).Methods("GET")
	r.HandleFunc("/users/{id:[0-9]+}/products", h.AdminUserProducts).Methods("GET")

	r.HandleFunc("/reviews", h.AdminListReviews).Methods("GET")
	r.HandleFunc("/reviews/{id:[0-9]+}/hide", h.AdminHideReview).Methods("POST")
	r.HandleFunc("/reviews/{id:[0-9]+}/show", h.AdminShowReview).Methods("POST")

	r.HandleFunc("/disputes", h.AdminListDisputes).Methods("GET")
	r.HandleFunc("/disputes/{id:[0-9]+}", h.AdminDisputeDetails).Methods("GET")
	r.HandleFunc("/disputes/{id:[0-9]+}/resolve", h.AdminResolveDispute).Methods("POST")
	r.HandleFunc("/disputes/{id:[0-9]+}/evidence", h.AdminAddEvidence).Methods("POST")

	r.HandleFunc("/products/{id:[0-9]+}/delete", h.AdminDeleteProduct).Methods("POST")

	r.HandleFunc("/logs", h.AdminLogs).Methods("GET")
}

// audit writes an admin log row and counts the action. A failed log write is
// reported but does not undo the mutation.
func (h *Handler) audit(r *http.Request, action, targetType string, targetID int64, details map[string]interface{}) {
	admin := auth.UserFromContext(r.Context())
	raw := "{}"
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			raw = string(b)
		}
	}
	err := h.Store.WriteAdminLog(r.Context(), &model.AdminLog{
		AdminID:    admin.ID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    raw,
		IPAddress:  clientIP(r),
	})
	if err != nil {
		logger.Errorf("[%s %s] ❌ Failed to write admin log %s: %v", r.Method, r.URL.Path, action, err)
	}
	h.Metrics.AdminActions.WithLabelValues(action).Inc()
}

func validReason(reason string) error {
	if reason == "" {
		return apperr.InvalidArg("El motivo es obligatorio")
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return apperr.InvalidArg("El motivo no puede superar 500 caracteres")
	}
	return nil
}

// AdminDashboard handles GET /api/admin/dashboard
func (h *Handler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Store.Dashboard(r.Context(), h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// AdminListUsers handles GET /api/admin/users
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.Store.ListUsers(r.Context(), store.UserFilter{
		Role:          q.Get("role"),
		Status:        q.Get("status"),
		Search:        clean(q.Get("search")),
		ExcludeAdmins: true,
		ListParams:    listParams(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// AdminUserDetails handles GET /api/admin/users/{id}
func (h *Handler) AdminUserDetails(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.UserByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := h.Store.UserStats(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user, "stats": stats})
}

// banTarget loads the user of the {id} route, refusing admins.
func (h *Handler) banTarget(r *http.Request) (*model.User, error) {
	user, err := h.Store.UserByID(r.Context(), pathID(r))
	if err != nil {
		return nil, err
	}
	if user.IsAdmin() {
		return nil, apperr.Forbidden("No se puede banear a un administrador")
	}
	return user, nil
}

type banRequest struct {
	Hours  int    `json:"hours"`
	Reason string `json:"reason"`
}

// AdminBanTemporary handles POST /api/admin/users/{id}/ban-temporary
func (h *Handler) AdminBanTemporary(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Reason = clean(req.Reason)
	if req.Hours < 1 || req.Hours > maxBanHours {
		writeError(w, r, apperr.InvalidArg("Las horas deben estar entre 1 y 8760"))
		return
	}
	if err := validReason(req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.banTarget(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	expires := h.now().Add(time.Duration(req.Hours) * time.Hour)
	if err := h.Store.BanUser(r.Context(), user.ID, model.StatusBannedTemp, &expires, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	// 既存のセッションを無効化する
	if err := h.Store.DeleteUserTokens(r.Context(), user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "ban_user", "user", user.ID, map[string]interface{}{
		"type":       "temporary",
		"hours":      req.Hours,
		"reason":     req.Reason,
		"expires_at": expires,
	})

	logger.Infof("[POST /api/admin/users/%d/ban-temporary] ✅ Banned until %s", user.ID, expires.Format(time.RFC3339))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Usuario baneado temporalmente",
		"ban_expires_at": expires,
	})
}

// AdminBanPermanent handles POST /api/admin/users/{id}/ban-permanent
func (h *Handler) AdminBanPermanent(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Reason = clean(req.Reason)
	if err := validReason(req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.banTarget(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Store.BanUser(r.Context(), user.ID, model.StatusBannedPerm, nil, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.DeleteUserTokens(r.Context(), user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "ban_user", "user", user.ID, map[string]interface{}{
		"type":   "permanent",
		"reason": req.Reason,
	})

	logger.Infof("[POST /api/admin/users/%d/ban-permanent] ✅ Banned permanently", user.ID)
	writeMessage(w, http.StatusOK, "Usuario baneado permanentemente")
}

// AdminUnban handles POST /api/admin/users/{id}/unban
func (h *Handler) AdminUnban(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.UserByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !user.IsBanned(h.now()) {
		writeError(w, r, apperr.FailedPrecondition("El usuario no está baneado"))
		return
	}
	if err := h.Store.Unban(r.Context(), user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "unban_user", "user", user.ID, nil)

	logger.Infof("[POST /api/admin/users/%d/unban] ✅ Unbanned", user.ID)
	writeMessage(w, http.StatusOK, "Usuario desbaneado exitosamente")
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// AdminResetPassword handles POST /api/admin/users/{id}/reset-password
func (h *Handler) AdminResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.NewPassword) < 6 || len(req.NewPassword) > 255 {
		writeError(w, r, apperr.InvalidArg("La contraseña debe tener al menos 6 caracteres"))
		return
	}
	user, err := h.Store.UserByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	if err := h.Store.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "reset_password", "user", user.ID, map[string]interface{}{"user_email": user.Email})

	writeMessage(w, http.StatusOK, "Contraseña restablecida exitosamente")
}

// AdminAccessHistory handles GET /api/admin/users/{id}/access-history
func (h *Handler) AdminAccessHistory(w http.ResponseWriter, r *http.Request) {
	page, err := h.Store.AccessHistory(r.Context(), pathID(r), listParams(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// AdminUserProducts handles GET /api/admin/users/{id}/products
func (h *Handler) AdminUserProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.Store.ListProducts(r.Context(), store.ProductFilter{
		UserID:      pathID(r),
		IncludeSold: true,
		ListParams:  store.ListParams{Page: queryInt(r, "page"), PerPage: store.MaxPerPage},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// AdminListReviews handles GET /api/admin/reviews
func (h *Handler) AdminListReviews(w http.ResponseWriter, r *http.Request) {
	page, err := h.Store.ListReviews(r.Context(), store.ReviewFilter{
		HasOffensive: queryBool(r, "has_offensive"),
		Hidden:       queryBool(r, "hidden"),
		ListParams:   listParams(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type hideReviewRequest struct {
	Reason string `json:"reason"`
}

// AdminHideReview handles POST /api/admin/reviews/{id}/hide
func (h *Handler) AdminHideReview(w http.ResponseWriter, r *http.Request) {
	var req hideReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Reason = clean(req.Reason)
	if err := validReason(req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	review, err := h.Store.ReviewByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	admin := auth.UserFromContext(r.Context())
	if err := h.Store.HideReview(r.Context(), review.ID, admin.ID, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "hide_review", "review", review.ID, map[string]interface{}{
		"reason":     req.Reason,
		"product_id": review.ProductID,
	})
	writeMessage(w, http.StatusOK, "Reseña ocultada exitosamente")
}

// AdminShowReview handles POST /api/admin/reviews/{id}/show
func (h *Handler) AdminShowReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.Store.ReviewByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.ShowReview(r.Context(), review.ID); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "show_review", "review", review.ID, nil)
	writeMessage(w, http.StatusOK, "Reseña mostrada exitosamente")
}

// AdminListDisputes handles GET /api/admin/disputes
func (h *Handler) AdminListDisputes(w http.ResponseWriter, r *http.Request) {
	page, err := h.Store.ListDisputes(r.Context(), store.DisputeFilter{
		Status:     r.URL.Query().Get("status"),
		ListParams: listParams(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// AdminDisputeDetails handles GET /api/admin/disputes/{id}
func (h *Handler) AdminDisputeDetails(w http.ResponseWriter, r *http.Request) {
	d, err := h.Store.DisputeByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type resolveRequest struct {
	Resolution       model.Resolution `json:"resolution"`
	Decision         string           `json:"decision"`
	RefundPercentage *int             `json:"refund_percentage"`
}

func (req *resolveRequest) validate() error {
	switch req.Resolution {
	case model.ResolutionFavorBuyer, model.ResolutionFavorSeller, model.ResolutionPartial:
	default:
		return apperr.InvalidArg("La resolución seleccionada no es válida")
	}
	if req.Decision == "" || utf8.RuneCountInString(req.Decision) > 1000 {
		return apperr.InvalidArg("La decisión es obligatoria y no puede superar 1000 caracteres")
	}
	if req.RefundPercentage != nil && (*req.RefundPercentage < 0 || *req.RefundPercentage > 100) {
		return apperr.InvalidArg("El porcentaje de reembolso debe estar entre 0 y 100")
	}
	return nil
}

// AdminResolveDispute handles POST /api/admin/disputes/{id}/resolve
func (h *Handler) AdminResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Decision = clean(req.Decision)
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}

	id := pathID(r)
	admin := auth.UserFromContext(r.Context())
	if err := h.Store.ResolveDispute(r.Context(), id, admin.ID, req.Resolution, req.Decision, req.RefundPercentage); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.Store.DisputeByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "resolve_dispute", "dispute", id, map[string]interface{}{
		"resolution":        req.Resolution,
		"decision":          req.Decision,
		"refund_percentage": req.RefundPercentage,
	})

	logger.Infof("[POST /api/admin/disputes/%d/resolve] ✅ Resolved: %s", id, req.Resolution)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Disputa resuelta exitosamente",
		"dispute": d,
	})
}

type evidenceRequest struct {
	Message  string  `json:"message"`
	FilePath *string `json:"file_path"`
	FileType *string `json:"file_type"`
}

// AdminAddEvidence handles POST /api/admin/disputes/{id}/evidence
func (h *Handler) AdminAddEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Message = clean(req.Message)
	req.FilePath, req.FileType = cleanPtr(req.FilePath), cleanPtr(req.FileType)
	if req.Message == "" || utf8.RuneCountInString(req.Message) > 1000 {
		writeError(w, r, apperr.InvalidArg("El mensaje es obligatorio y no puede superar 1000 caracteres"))
		return
	}
	if req.FileType != nil {
		switch *req.FileType {
		case "image", "document", "video":
		default:
			writeError(w, r, apperr.InvalidArg("El tipo de archivo no es válido"))
			return
		}
	}

	d, err := h.Store.DisputeByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	admin := auth.UserFromContext(r.Context())
	e := &model.DisputeEvidence{
		DisputeID:   d.ID,
		SubmittedBy: admin.ID,
		Message:     req.Message,
		FilePath:    req.FilePath,
		FileType:    req.FileType,
	}
	if err := h.Store.AddEvidence(r.Context(), e); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "add_evidence", "dispute", d.ID, map[string]interface{}{"evidence_id": e.ID})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Evidencia añadida a la disputa",
		"evidence": e,
	})
}

// AdminDeleteProduct handles POST /api/admin/products/{id}/delete
func (h *Handler) AdminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	p, err := h.Store.ProductByID(r.Context(), pathID(r))
	if apperr.Is(err, apperr.CodeNotFound) {
		err = apperr.NotFound("Producto no encontrado")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.DeleteProduct(r.Context(), p.ID); err != nil {
		writeError(w, r, err)
		return
	}
	details := map[string]interface{}{"product_title": p.Title, "user_id": p.UserID}
	if reason := clean(req.Reason); reason != "" {
		details["reason"] = reason
	}
	h.audit(r, "delete_product", "product", p.ID, details)
	writeMessage(w, http.StatusOK, "Producto eliminado exitosamente")
}

// AdminLogs handles GET /api/admin/logs
func (h *Handler) AdminLogs(w http.ResponseWriter, r *http.Request) {
	page, err := h.Store.ListAdminLogs(r.Context(), store.AdminLogFilter{
		AdminID:    int64(queryInt(r, "admin_id")),
		Action:     r.URL.Query().Get("action"),
		ListParams: listParams(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
