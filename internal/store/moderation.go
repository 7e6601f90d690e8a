package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"zonemarket/internal/apperr"
	"zonemarket/internal/model"
)

const reviewColumns = `r.id, r.product_id, r.buyer_id, r.seller_id, r.rating, r.comment, r.has_offensive_language,
	r.is_hidden_by_admin, r.hidden_at, r.hidden_by_admin_id, r.hide_reason, r.created_at`

const reviewJoins = ` FROM reviews r
	LEFT JOIN users b ON b.id = r.buyer_id
	LEFT JOIN users s ON s.id = r.seller_id
	LEFT JOIN products p ON p.id = r.product_id`

func scanReview(row scanner) (*model.Review, error) {
	var (
		r                          model.Review
		buyer, seller, productName sql.NullString
	)
	err := row.Scan(&r.ID, &r.ProductID, &r.BuyerID, &r.SellerID, &r.Rating, &r.Comment, &r.HasOffensiveLanguage,
		&r.IsHiddenByAdmin, &r.HiddenAt, &r.HiddenByAdminID, &r.HideReason, &r.CreatedAt,
		&buyer, &seller, &productName)
	if err != nil {
		return nil, err
	}
	r.BuyerName, r.SellerName, r.ProductTitle = buyer.String, seller.String, productName.String
	return &r, nil
}

// CreateReview stores r and fills in its id.
func (s *Store) CreateReview(ctx context.Context, r *model.Review) error {
	r.CreatedAt = s.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (product_id, buyer_id, seller_id, rating, comment, has_offensive_language,
			is_hidden_by_admin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ProductID, r.BuyerID, r.SellerID, r.Rating, r.Comment, r.HasOffensiveLanguage, false, r.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "store.CreateReview")
	}
	r.ID, err = res.LastInsertId()
	return errors.Wrap(err, "store.CreateReview.LastInsertId")
}

// ReviewByID returns apperr.ErrReviewNotFound when no row matches.
func (s *Store) ReviewByID(ctx context.Context, id int64) (*model.Review, error) {
	r, err := scanReview(s.db.QueryRowContext(ctx,
		"SELECT "+reviewColumns+", b.name, s.name, p.title"+reviewJoins+" WHERE r.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrReviewNotFound
	}
	return r, errors.Wrap(err, "store.ReviewByID")
}

// ReviewFilter selects reviews in the admin listing. Nil pointers do not filter.
type ReviewFilter struct {
	HasOffensive *bool
	Hidden       *bool
	ListParams
}

// ListReviews returns reviews newest first.
func (s *Store) ListReviews(ctx context.Context, f ReviewFilter) (model.Page[model.Review], error) {
	p := f.ListParams.Normalize(DefaultPerPage)

	var w where
	if f.HasOffensive != nil {
		w.add("r.has_offensive_language = ?", *f.HasOffensive)
	}
	if f.Hidden != nil {
		w.add("r.is_hidden_by_admin = ?", *f.Hidden)
	}

	total, err := s.count(ctx, s.db, "SELECT COUNT(*) FROM reviews r"+w.String(), w.args...)
	if err != nil {
		return model.Page[model.Review]{}, errors.Wrap(err, "store.ListReviews.Count")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+reviewColumns+", b.name, s.name, p.title"+reviewJoins+w.String()+
			" ORDER BY r.created_at DESC, r.id DESC LIMIT ? OFFSET ?",
		append(w.args, p.PerPage, p.offset())...)
	if err != nil {
		return model.Page[model.Review]{}, errors.Wrap(err, "store.ListReviews.Query")
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return model.Page[model.Review]{}, errors.Wrap(err, "store.ListReviews.Scan")
		}
		reviews = append(reviews, *r)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.Review]{}, errors.Wrap(err, "store.ListReviews.Rows")
	}
	return model.NewPage(reviews, p.Page, p.PerPage, total), nil
}

// HideReview hides a review on behalf of adminID.
func (s *Store) HideReview(ctx context.Context, id, adminID int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE reviews SET is_hidden_by_admin = ?, hidden_at = ?, hidden_by_admin_id = ?, hide_reason = ? WHERE id = ?",
		true, s.Now(), adminID, reason, id)
	return errors.Wrap(err, "store.HideReview")
}

// ShowReview makes a hidden review visible again.
func (s *Store) ShowReview(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE reviews SET is_hidden_by_admin = ?, hidden_at = NULL, hidden_by_admin_id = NULL, hide_reason = NULL WHERE id = ?",
		false, id)
	return errors.Wrap(err, "store.ShowReview")
}

const disputeColumns = `id, product_id, buyer_id, seller_id, amount, buyer_claim, seller_response, status, resolution,
	admin_decision, refund_percentage, admin_id, resolved_at, created_at, updated_at`

func scanDispute(row scanner) (*model.Dispute, error) {
	var d model.Dispute
	err := row.Scan(&d.ID, &d.ProductID, &d.BuyerID, &d.SellerID, &d.Amount, &d.BuyerClaim, &d.SellerResponse,
		&d.Status, &d.Resolution, &d.AdminDecision, &d.RefundPercentage, &d.AdminID, &d.ResolvedAt,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDispute opens a dispute and fills in its id.
func (s *Store) CreateDispute(ctx context.Context, d *model.Dispute) error {
	now := s.Now()
	d.Status, d.Resolution = model.DisputeOpen, model.ResolutionPending
	d.CreatedAt, d.UpdatedAt = now, now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO disputes (product_id, buyer_id, seller_id, amount, buyer_claim, status, resolution, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ProductID, d.BuyerID, d.SellerID, d.Amount, d.BuyerClaim, d.Status, d.Resolution, now, now)
	if err != nil {
		return errors.Wrap(err, "store.CreateDispute")
	}
	d.ID, err = res.LastInsertId()
	return errors.Wrap(err, "store.CreateDispute.LastInsertId")
}

// DisputeByID loads a dispute with its evidence.
func (s *Store) DisputeByID(ctx context.Context, id int64) (*model.Dispute, error) {
	d, err := scanDispute(s.db.QueryRowContext(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrDisputeNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store.DisputeByID")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dispute_id, submitted_by, message, file_path, file_type, created_at
		FROM dispute_evidence WHERE dispute_id = ? ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, errors.Wrap(err, "store.DisputeByID.Evidence")
	}
	defer rows.Close()

	d.Evidence = []model.DisputeEvidence{}
	for rows.Next() {
		var e model.DisputeEvidence
		if err := rows.Scan(&e.ID, &e.DisputeID, &e.SubmittedBy, &e.Message, &e.FilePath, &e.FileType, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "store.DisputeByID.Scan")
		}
		d.Evidence = append(d.Evidence, e)
	}
	return d, errors.Wrap(rows.Err(), "store.DisputeByID.Rows")
}

// DisputeFilter selects disputes in the admin listing.
type DisputeFilter struct {
	Status string
	ListParams
}

// ListDisputes returns disputes newest first.
func (s *Store) ListDisputes(ctx context.Context, f DisputeFilter) (model.Page[model.Dispute], error) {
	p := f.ListParams.Normalize(DefaultPerPage)

	var w where
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}

	total, err := s.count(ctx, s.db, "SELECT COUNT(*) FROM disputes"+w.String(), w.args...)
	if err != nil {
		return model.Page[model.Dispute]{}, errors.Wrap(err, "store.ListDisputes.Count")
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+disputeColumns+" FROM disputes"+w.String()+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(w.args, p.PerPage, p.offset())...)
	if err != nil {
		return model.Page[model.Dispute]{}, errors.Wrap(err, "store.ListDisputes.Query")
	}
	defer rows.Close()

	var disputes []model.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return model.Page[model.Dispute]{}, errors.Wrap(err, "store.ListDisputes.Scan")
		}
		disputes = append(disputes, *d)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.Dispute]{}, errors.Wrap(err, "store.ListDisputes.Rows")
	}
	return model.NewPage(disputes, p.Page, p.PerPage, total), nil
}

// ResolveDispute records the admin decision and closes the dispute as resolved.
func (s *Store) ResolveDispute(ctx context.Context, id, adminID int64, resolution model.Resolution, decision string, refund *int) error {
	now := s.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE disputes SET status = ?, resolution = ?, admin_decision = ?, refund_percentage = ?, admin_id = ?,
			resolved_at = ?, updated_at = ? WHERE id = ?`,
		model.DisputeResolved, resolution, decision, refund, adminID, now, now, id)
	if err != nil {
		return errors.Wrap(err, "store.ResolveDispute")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrDisputeNotFound
	}
	return nil
}

// AddEvidence attaches evidence to a dispute and moves an open dispute to review.
func (s *Store) AddEvidence(ctx context.Context, e *model.DisputeEvidence) error {
	e.CreatedAt = s.Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO dispute_evidence (dispute_id, submitted_by, message, file_path, file_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.DisputeID, e.SubmittedBy, e.Message, e.FilePath, e.FileType, e.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "store.AddEvidence")
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return errors.Wrap(err, "store.AddEvidence.LastInsertId")
		}
		_, err = tx.ExecContext(ctx, "UPDATE disputes SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
			model.DisputeInReview, e.CreatedAt, e.DisputeID, model.DisputeOpen)
		return errors.Wrap(err, "store.AddEvidence.Status")
	})
}

// Dashboard computes the admin overview counters at now.
func (s *Store) Dashboard(ctx context.Context, now time.Time) (*model.Dashboard, error) {
	now = now.UTC()
	weekAgo := now.AddDate(0, 0, -7)
	d := &model.Dashboard{Timestamp: now}

	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN role <> ? THEN 1 END),
			COUNT(CASE WHEN role = ? AND created_at >= ? THEN 1 END),
			COUNT(CASE WHEN role = ? AND created_at >= ? THEN 1 END),
			COUNT(CASE WHEN account_status = ? AND ban_expires_at > ? THEN 1 END),
			COUNT(CASE WHEN account_status = ? THEN 1 END)
		FROM users`,
		model.RoleAdmin,
		model.RoleClient, weekAgo,
		model.RoleProvider, weekAgo,
		model.StatusBannedTemp, now,
		model.StatusBannedPerm,
	).Scan(&d.TotalUsers, &d.NewClientsThisWeek, &d.NewProvidersThisWeek, &d.ActiveTemporaryBans, &d.PermanentBans)
	if err != nil {
		return nil, errors.Wrap(err, "store.Dashboard.Users")
	}

	if d.OpenDisputes, err = s.count(ctx, s.db, "SELECT COUNT(*) FROM disputes WHERE status = ?", model.DisputeOpen); err != nil {
		return nil, errors.Wrap(err, "store.Dashboard.Disputes")
	}
	if d.HiddenReviews, err = s.count(ctx, s.db, "SELECT COUNT(*) FROM reviews WHERE is_hidden_by_admin = ?", true); err != nil {
		return nil, errors.Wrap(err, "store.Dashboard.Reviews")
	}
	return d, nil
}

// WriteAdminLog appends an admin action to the audit log.
func (s *Store) WriteAdminLog(ctx context.Context, l *model.AdminLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.Now()
	}
	if l.Details == "" {
		l.Details = "{}"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_logs (admin_id, action, target_type, target_id, details, ip_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.AdminID, l.Action, l.TargetType, l.TargetID, l.Details, l.IPAddress, l.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "store.WriteAdminLog")
	}
	l.ID, err = res.LastInsertId()
	return errors.Wrap(err, "store.WriteAdminLog.LastInsertId")
}

// AdminLogFilter selects audit log entries.
type AdminLogFilter struct {
	AdminID int64
	Action  string
	ListParams
}

// DefaultLogsPerPage is the page size of the audit log listing.
const DefaultLogsPerPage = 20

// ListAdminLogs returns audit log entries newest first.
func (s *Store) ListAdminLogs(ctx context.Context, f AdminLogFilter) (model.Page[model.AdminLog], error) {
	p := f.ListParams.Normalize(DefaultLogsPerPage)

	var w where
	if f.AdminID != 0 {
		w.add("l.admin_id = ?", f.AdminID)
	}
	if f.Action != "" {
		w.add("l.action = ?", f.Action)
	}

	total, err := s.count(ctx, s.db, "SELECT COUNT(*) FROM admin_logs l"+w.String(), w.args...)
	if err != nil {
		return model.Page[model.AdminLog]{}, errors.Wrap(err, "store.ListAdminLogs.Count")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.admin_id, u.name, l.action, l.target_type, l.target_id, l.details, l.ip_address, l.created_at
		FROM admin_logs l LEFT JOIN users u ON u.id = l.admin_id`+w.String()+
			" ORDER BY l.created_at DESC, l.id DESC LIMIT ? OFFSET ?",
		append(w.args, p.PerPage, p.offset())...)
	if err != nil {
		return model.Page[model.AdminLog]{}, errors.Wrap(err, "store.ListAdminLogs.Query")
	}
	defer rows.Close()

	var logs []model.AdminLog
	for rows.Next() {
		var (
			l    model.AdminLog
			name sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.AdminID, &name, &l.Action, &l.TargetType, &l.TargetID, &l.Details,
			&l.IPAddress, &l.CreatedAt); err != nil {
			return model.Page[model.AdminLog]{}, errors.Wrap(err, "store.ListAdminLogs.Scan")
		}
		l.AdminName = name.String
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.AdminLog]{}, errors.Wrap(err, "store.ListAdminLogs.Rows")
	}
	return model.NewPage(logs, p.Page, p.PerPage, total), nil
}

// UserStats summarizes a user's reputation for the admin user detail view.
type UserStats struct {
	TotalReviewsReceived   int        `json:"total_reviews_received"`
	AverageRating          float64    `json:"average_rating"`
	DisputesInvolved       int        `json:"disputes_involved"`
	SuccessfulTransactions int        `json:"successful_transactions"`
	LastActivity           *time.Time `json:"last_activity"`
}

// UserStats computes the reputation counters of u.
func (s *Store) UserStats(ctx context.Context, u *model.User) (*UserStats, error) {
	st := &UserStats{SuccessfulTransactions: u.SuccessfulTransactions, LastActivity: u.LastActivityAt}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), AVG(rating) FROM reviews WHERE seller_id = ?", u.ID).
		Scan(&st.TotalReviewsReceived, &avg)
	if err != nil {
		return nil, errors.Wrap(err, "store.UserStats.Reviews")
	}
	st.AverageRating = avg.Float64

	if st.DisputesInvolved, err = s.count(ctx, s.db,
		"SELECT COUNT(*) FROM disputes WHERE buyer_id = ? OR seller_id = ?", u.ID, u.ID); err != nil {
		return nil, errors.Wrap(err, "store.UserStats.Disputes")
	}
	return st, nil
}
