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

type productRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Price       *float64  `json:"price"`
	Location    *string   `json:"location"`
	Category    *string   `json:"category"`
	Images      *[]string `json:"images"`
}

// apply copies the present fields of req onto p and validates the result.
func (req *productRequest) apply(p *model.Product) error {
	if req.Title != nil {
		p.Title = clean(*req.Title)
	}
	if req.Description != nil {
		p.Description = clean(*req.Description)
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.Location != nil {
		p.Location = clean(*req.Location)
	}
	if req.Category != nil {
		p.Category = clean(*req.Category)
	}
	if req.Images != nil {
		p.Images = make([]string, 0, len(*req.Images))
		for _, img := range *req.Images {
			if img = clean(img); img != "" {
				p.Images = append(p.Images, img)
			}
		}
	}

	switch {
	case p.Title == "" || utf8.RuneCountInString(p.Title) > 100:
		return apperr.InvalidArg("El título es obligatorio y no puede superar 100 caracteres")
	case p.Description == "" || utf8.RuneCountInString(p.Description) > 1000:
		return apperr.InvalidArg("La descripción es obligatoria y no puede superar 1000 caracteres")
	case p.Price < 0.01:
		return apperr.InvalidArg("El precio debe ser al menos 0.01")
	case p.Location == "" || utf8.RuneCountInString(p.Location) > 100:
		return apperr.InvalidArg("La ubicación es obligatoria y no puede superar 100 caracteres")
	case utf8.RuneCountInString(p.Category) > 50:
		return apperr.InvalidArg("La categoría no puede superar 50 caracteres")
	case len(p.Images) > model.MaxProductImages:
		return apperr.InvalidArg("No se pueden subir más de 6 imágenes")
	}
	return nil
}

// ListProducts handles GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.Store.ListProducts(r.Context(), store.ProductFilter{
		Search:     clean(q.Get("search")),
		Category:   clean(q.Get("category")),
		ListParams: listParams(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// MyProducts handles GET /api/my-products
func (h *Handler) MyProducts(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	page, err := h.Store.ListProducts(r.Context(), store.ProductFilter{
		UserID:      user.ID,
		IncludeSold: true,
		ListParams:  listParams(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetProduct handles GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.ProductByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateProduct handles POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := auth.UserFromContext(r.Context())

	p := &model.Product{UserID: user.ID}
	if err := req.apply(p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.CreateProduct(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	p.User = user.Brief()

	logger.Infof("[POST /api/products] ✅ Created product: ID=%d, Seller=%d", p.ID, user.ID)
	writeJSON(w, http.StatusCreated, p)
}

// ownProduct loads the product of the {id} route and checks that the caller owns it.
func (h *Handler) ownProduct(r *http.Request) (*model.Product, error) {
	p, err := h.Store.ProductByID(r.Context(), pathID(r))
	if err != nil {
		return nil, err
	}
	if p.UserID != auth.UserFromContext(r.Context()).ID {
		return nil, apperr.Forbidden("No autorizado")
	}
	return p, nil
}

// UpdateProduct handles PUT /api/products/{id}
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.ownProduct(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.apply(p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.UpdateProduct(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("[PUT /api/products/%d] ✅ Updated product", p.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"product": p})
}

// MarkProductSold handles PUT /api/products/{id}/sold
func (h *Handler) MarkProductSold(w http.ResponseWriter, r *http.Request) {
	p, err := h.ownProduct(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p.Sold = true
	if err := h.Store.UpdateProduct(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("[PUT /api/products/%d/sold] ✅ Marked as sold", p.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Producto marcado como vendido",
		"product": p,
	})
}

// DeleteProduct handles DELETE /api/products/{id}
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.ownProduct(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.DeleteProduct(r.Context(), p.ID); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("[DELETE /api/products/%d] ✅ Deleted product", p.ID)
	writeMessage(w, http.StatusOK, "Producto eliminado")
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CreateReview handles POST /api/products/{id}/reviews
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.ProductByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Comment = clean(req.Comment)
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, r, apperr.InvalidArg("La calificación debe estar entre 1 y 5"))
		return
	}
	if utf8.RuneCountInString(req.Comment) > 1000 {
		writeError(w, r, apperr.InvalidArg("El comentario no puede superar 1000 caracteres"))
		return
	}

	user := auth.UserFromContext(r.Context())
	if p.UserID == user.ID {
		writeError(w, r, apperr.Forbidden("No puedes reseñar tu propio producto"))
		return
	}

	review := &model.Review{
		ProductID:            p.ID,
		BuyerID:              user.ID,
		SellerID:             p.UserID,
		Rating:               req.Rating,
		Comment:              req.Comment,
		HasOffensiveLanguage: h.moderation.Contains(req.Comment),
	}
	if err := h.Store.CreateReview(r.Context(), review); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("[POST /api/products/%d/reviews] ✅ Created review: ID=%d, Offensive=%t",
		p.ID, review.ID, review.HasOffensiveLanguage)
	writeJSON(w, http.StatusCreated, review)
}

type disputeRequest struct {
	Amount float64 `json:"amount"`
	Claim  string  `json:"claim"`
}

// OpenDispute handles POST /api/products/{id}/disputes
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.ProductByID(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req disputeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Claim = clean(req.Claim)
	if req.Claim == "" {
		writeError(w, r, apperr.InvalidArg("La descripción del reclamo es obligatoria"))
		return
	}
	if req.Amount < 0 {
		writeError(w, r, apperr.InvalidArg("El monto no puede ser negativo"))
		return
	}

	user := auth.UserFromContext(r.Context())
	if p.UserID == user.ID {
		writeError(w, r, apperr.Forbidden("No puedes abrir una disputa sobre tu propio producto"))
		return
	}

	d := &model.Dispute{
		ProductID:  p.ID,
		BuyerID:    user.ID,
		SellerID:   p.UserID,
		Amount:     req.Amount,
		BuyerClaim: req.Claim,
	}
	if err := h.Store.CreateDispute(r.Context(), d); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("[POST /api/products/%d/disputes] ✅ Opened dispute: ID=%d", p.ID, d.ID)
	writeJSON(w, http.StatusCreated, d)
}
