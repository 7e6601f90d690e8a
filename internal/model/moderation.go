package model

import "time"

// Review left by a buyer on a seller's product
type Review struct {
	ID                   int64      `json:"id"`
	ProductID            int64      `json:"product_id"`
	BuyerID              int64      `json:"buyer_id"`
	SellerID             int64      `json:"seller_id"`
	Rating               int        `json:"rating"`
	Comment              string     `json:"comment"`
	HasOffensiveLanguage bool       `json:"has_offensive_language"`
	IsHiddenByAdmin      bool       `json:"is_hidden_by_admin"`
	HiddenAt             *time.Time `json:"hidden_at"`
	HiddenByAdminID      *int64     `json:"hidden_by_admin_id"`
	HideReason           *string    `json:"hide_reason"`
	CreatedAt            time.Time  `json:"created_at"`
	BuyerName            string     `json:"buyer_name,omitempty"`
	SellerName           string     `json:"seller_name,omitempty"`
	ProductTitle         string     `json:"product_title,omitempty"`
}

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeInReview DisputeStatus = "in_review"
	DisputeResolved DisputeStatus = "resolved"
	DisputeClosed   DisputeStatus = "closed"
)

type Resolution string

const (
	ResolutionPending     Resolution = "pending"
	ResolutionFavorBuyer  Resolution = "favor_buyer"
	ResolutionFavorSeller Resolution = "favor_seller"
	ResolutionPartial     Resolution = "partial"
)

// Dispute between a buyer and a seller over a product
type Dispute struct {
	ID               int64             `json:"id"`
	ProductID        int64             `json:"product_id"`
	BuyerID          int64             `json:"buyer_id"`
	SellerID         int64             `json:"seller_id"`
	Amount           float64           `json:"amount"`
	BuyerClaim       string            `json:"buyer_claim"`
	SellerResponse   *string           `json:"seller_response"`
	Status           DisputeStatus     `json:"status"`
	Resolution       Resolution        `json:"resolution"`
	AdminDecision    *string           `json:"admin_decision"`
	RefundPercentage *int              `json:"refund_percentage"`
	AdminID          *int64            `json:"admin_id"`
	ResolvedAt       *time.Time        `json:"resolved_at"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Evidence         []DisputeEvidence `json:"evidence,omitempty"`
}

// DisputeEvidence is a message or file attached to a dispute
type DisputeEvidence struct {
	ID          int64     `json:"id"`
	DisputeID   int64     `json:"dispute_id"`
	SubmittedBy int64     `json:"submitted_by"`
	Message     string    `json:"message"`
	FilePath    *string   `json:"file_path"`
	FileType    *string   `json:"file_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// AdminLog records one admin mutation
type AdminLog struct {
	ID         int64     `json:"id"`
	AdminID    int64     `json:"admin_id"`
	AdminName  string    `json:"admin_name,omitempty"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   int64     `json:"target_id"`
	Details    string    `json:"details"`
	IPAddress  string    `json:"ip_address"`
	CreatedAt  time.Time `json:"created_at"`
}

// AccessLog records one successful login
type AccessLog struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	DeviceType string    `json:"device_type"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// Dashboard holds the admin overview counters
type Dashboard struct {
	TotalUsers           int       `json:"total_users"`
	NewClientsThisWeek   int       `json:"new_clients_this_week"`
	NewProvidersThisWeek int       `json:"new_providers_this_week"`
	ActiveTemporaryBans  int       `json:"active_temporary_bans"`
	PermanentBans        int       `json:"permanent_bans"`
	OpenDisputes         int       `json:"open_disputes"`
	HiddenReviews        int       `json:"hidden_reviews"`
	Timestamp            time.Time `json:"timestamp"`
}
