package handler

import (
	"net/http"

	"zonemarket/internal/auth"
	"zonemarket/internal/logger"
)

// ListNotifications handles GET /api/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	list, err := h.Store.Notifications(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkNotificationRead handles PUT /api/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if err := h.Store.MarkNotificationRead(r.Context(), pathID(r), user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Notificación marcada como leída")
}

// MarkAllNotificationsRead handles PUT /api/notifications/read-all
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	n, err := h.Store.MarkAllNotificationsRead(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Debugf("[PUT /api/notifications/read-all] ✅ Marked %d notifications for user %d", n, user.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Todas las notificaciones marcadas como leídas",
		"updated": n,
	})
}

// DeleteNotification handles DELETE /api/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if err := h.Store.DeleteNotification(r.Context(), pathID(r), user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Notificación eliminada")
}
