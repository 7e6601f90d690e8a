package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"zonemarket/internal/apperr"
	"zonemarket/internal/model"
)

const productColumns = `p.id, p.user_id, p.title, p.description, p.price, p.location, p.category, p.images,
	p.sold, p.created_at, p.updated_at, u.id, u.name, u.avatar`

func scanProduct(row scanner) (*model.Product, error) {
	var (
		p      model.Product
		images string
		seller model.UserBrief
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &p.Price, &p.Location, &p.Category, &images,
		&p.Sold, &p.CreatedAt, &p.UpdatedAt, &seller.ID, &seller.Name, &seller.Avatar)
	if err != nil {
		return nil, err
	}
	p.Images = decodeImages(images)
	p.User = &seller
	return &p, nil
}

func encodeImages(images []string) string {
	if images == nil {
		images = []string{}
	}
	b, _ := json.Marshal(images)
	return string(b)
}

func decodeImages(raw string) []string {
	images := []string{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &images)
	}
	return images
}

// CreateProduct inserts p and fills in its id and timestamps.
func (s *Store) CreateProduct(ctx context.Context, p *model.Product) error {
	if p.Category == "" {
		p.Category = model.DefaultCategory
	}
	now := s.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (user_id, title, description, price, location, category, images, sold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Title, p.Description, p.Price, p.Location, p.Category, encodeImages(p.Images), p.Sold,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "store.CreateProduct.Insert")
	}
	p.ID, err = res.LastInsertId()
	return errors.Wrap(err, "store.CreateProduct.LastInsertId")
}

// UpdateProduct persists the editable fields of p.
func (s *Store) UpdateProduct(ctx context.Context, p *model.Product) error {
	p.UpdatedAt = s.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE products SET title = ?, description = ?, price = ?, location = ?, category = ?, images = ?,
			sold = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.Description, p.Price, p.Location, p.Category, encodeImages(p.Images), p.Sold, p.UpdatedAt, p.ID)
	return errors.Wrap(err, "store.UpdateProduct")
}

// ProductByID returns apperr.ErrProductNotFound when no row matches.
func (s *Store) ProductByID(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products p JOIN users u ON u.id = p.user_id WHERE p.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrProductNotFound
	}
	return p, errors.Wrap(err, "store.ProductByID")
}

// DeleteProduct removes a product.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "store.DeleteProduct")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrProductNotFound
	}
	return nil
}

// ProductFilter selects products in listings.
type ProductFilter struct {
	Search   string
	Category string
	UserID   int64
	// IncludeSold lists sold products too; the public catalogue hides them.
	IncludeSold bool
	ListParams
}

// ListProducts returns products newest first.
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) (model.Page[model.Product], error) {
	p := f.ListParams.Normalize(DefaultPerPage)

	var w where
	if f.UserID != 0 {
		w.add("p.user_id = ?", f.UserID)
	}
	if !f.IncludeSold {
		w.add("p.sold = ?", false)
	}
	if f.Category != "" {
		w.add("p.category = ?", f.Category)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		w.add("(p.title LIKE ? OR p.description LIKE ?)", like, like)
	}

	total, err := s.count(ctx, s.db, "SELECT COUNT(*) FROM products p"+w.String(), w.args...)
	if err != nil {
		return model.Page[model.Product]{}, errors.Wrap(err, "store.ListProducts.Count")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products p JOIN users u ON u.id = p.user_id"+w.String()+
			" ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?",
		append(w.args, p.PerPage, p.offset())...)
	if err != nil {
		return model.Page[model.Product]{}, errors.Wrap(err, "store.ListProducts.Query")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		prod, err := scanProduct(rows)
		if err != nil {
			return model.Page[model.Product]{}, errors.Wrap(err, "store.ListProducts.Scan")
		}
		products = append(products, *prod)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.Product]{}, errors.Wrap(err, "store.ListProducts.Rows")
	}
	return model.NewPage(products, p.Page, p.PerPage, total), nil
}
