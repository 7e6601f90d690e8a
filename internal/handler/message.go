package handler

import (
	"net/http"
	"unicode/utf8"

	"zonemarket/internal/apperr"
	"zonemarket/internal/auth"
	"zonemarket/internal/logger"
	"zonemarket/internal/model"
	"zonemarket/internal/store"
)

// maxMessageLength は本文の最大文字数
const maxMessageLength = 5000

// ListConversations handles GET /api/conversations
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	convs, err := h.Store.ListConversations(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Debugf("[GET /api/conversations] ✅ Returned %d conversations for user %d", len(convs), user.ID)
	writeJSON(w, http.StatusOK, convs)
}

// GetConversation handles GET /api/conversations/{id}
// メッセージを返した後、相手からの未読メッセージを既読にする
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	conv, err := h.Store.ConversationForParticipant(r.Context(), pathID(r), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	marked, err := h.Store.MarkConversationRead(r.Context(), conv.ID, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Debugf("[GET /api/conversations/%d] ✅ Returned %d messages, marked %d as read",
		conv.ID, len(conv.Messages), marked)
	writeJSON(w, http.StatusOK, conv)
}

// DeleteConversation handles DELETE /api/conversations/{id}
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	conv, err := h.Store.ConversationByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	// 参加者以外には存在を明かさない
	if !conv.HasParticipant(user.ID) {
		writeError(w, r, apperr.ErrConversationNF)
		return
	}
	if err := h.Store.DeleteConversation(r.Context(), conv.ID); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("[DELETE /api/conversations/%d] ✅ Deleted by user %d", conv.ID, user.ID)

	// 両方の参加者に削除を通知
	deleted := model.ConversationDeletedEvent{ID: conv.ID, DeletedAt: h.now()}
	h.publish(conv.UserID, model.EventConversationDeleted, deleted)
	h.publish(conv.SellerID, model.EventConversationDeleted, deleted)

	writeMessage(w, http.StatusOK, "Conversation deleted")
}

type messageRequest struct {
	Text           *string `json:"text"`
	Image          *string `json:"image"`
	ConversationID int64   `json:"conversation_id"`
	SellerID       int64   `json:"seller_id"`
	ProductID      *int64  `json:"product_id"`
}

func (req *messageRequest) validate() error {
	req.Text, req.Image = cleanPtr(req.Text), cleanPtr(req.Image)
	if req.Text == nil && req.Image == nil {
		return apperr.ErrMessageEmpty
	}
	if req.Text != nil && utf8.RuneCountInString(*req.Text) > maxMessageLength {
		return apperr.InvalidArg("The text may not be greater than 5000 characters.")
	}
	return nil
}

type messageResponse struct {
	Message        *model.Message      `json:"message"`
	ConversationID int64               `json:"conversation_id"`
	Conversation   *model.Conversation `json:"conversation"`
}

// CreateMessage handles POST /api/messages
// conversation_id が無い場合は seller_id (+ product_id) で会話を作成または再利用する
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	user := auth.UserFromContext(r.Context())

	sent, err := h.Store.SendMessage(r.Context(), store.NewMessage{
		SenderID:       user.ID,
		ConversationID: req.ConversationID,
		SellerID:       req.SellerID,
		ProductID:      req.ProductID,
		Text:           req.Text,
		Image:          req.Image,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Metrics.MessagesSent.Inc()
	if sent.ConversationCreated {
		h.Metrics.ConversationsCreated.Inc()
	}
	logger.Infof("[POST /api/messages] ✅ Created message: ID=%d, Conversation=%d, New=%t",
		sent.Message.ID, sent.Conversation.ID, sent.ConversationCreated)

	recipient := sent.Conversation.OtherParticipant(user.ID)
	h.publish(recipient, model.EventMessageCreated, sent.Message)
	h.publish(recipient, model.EventNotificationCreated, sent.Notification)

	writeJSON(w, http.StatusCreated, messageResponse{
		Message:        sent.Message,
		ConversationID: sent.Conversation.ID,
		Conversation:   sent.Conversation,
	})
}
