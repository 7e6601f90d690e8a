package model

import "time"

const DefaultCategory = "Otros"

// MaxProductImages is the maximum number of image references per product.
const MaxProductImages = 6

// Product represents a listing
type Product struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Price       float64    `json:"price"`
	Location    string     `json:"location"`
	Category    string     `json:"category"`
	Images      []string   `json:"images"`
	Sold        bool       `json:"sold"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	User        *UserBrief `json:"user,omitempty"`
}

// ProductBrief is embedded in conversation summaries
type ProductBrief struct {
	ID     int64    `json:"id"`
	Title  string   `json:"title"`
	Price  float64  `json:"price"`
	Images []string `json:"images"`
	Sold   bool     `json:"sold"`
}
