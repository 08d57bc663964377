package engagement

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/proposal-pulse/internal/domain"
)

// Store provides database operations for proposal engagement entities
type Store struct {
	db *sql.DB
}

// NewStore creates a new engagement store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetProposal retrieves a proposal by ID. Returns (nil, nil) when missing.
func (s *Store) GetProposal(ctx context.Context, proposalID uuid.UUID) (*domain.Proposal, error) {
	query := `SELECT id, user_id, title, status, created_at FROM proposals WHERE id = $1`

	p := &domain.Proposal{}
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(
		&p.ID, &p.UserID, &p.Title, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// GetOwnerEmail returns the email of the user owning a proposal.
func (s *Store) GetOwnerEmail(ctx context.Context, proposalID uuid.UUID) (string, error) {
	query := `SELECT u.email FROM users u
		JOIN proposals p ON p.user_id = u.id
		WHERE p.id = $1`

	var email string
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return email, err
}

// UpsertView records a proposal view keyed by (proposal_id, session_id).
// First call inserts the row; subsequent calls only bump last_viewed_at.
func (s *Store) UpsertView(ctx context.Context, view *domain.ProposalView) error {
	query := `INSERT INTO proposal_views (id, proposal_id, session_id, viewer_email, viewer_ip, first_viewed_at, last_viewed_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (proposal_id, session_id) DO UPDATE SET last_viewed_at = NOW()`

	_, err := s.db.ExecContext(ctx, query, uuid.New(), view.ProposalID, view.SessionID,
		nullString(view.ViewerEmail), nullString(view.ViewerIP))
	return err
}

// InsertEvent appends an engagement event. Events are never mutated.
func (s *Store) InsertEvent(ctx context.Context, evt *domain.EngagementEvent) error {
	query := `INSERT INTO engagement_events (id, proposal_id, session_id, event_type, event_data, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`

	_, err := s.db.ExecContext(ctx, query, uuid.New(), evt.ProposalID, evt.SessionID,
		evt.EventType, nullJSON(evt.EventData))
	return err
}

// InsertSignature creates the signature row. The unique index on proposal_id
// enforces the one-signature-per-proposal invariant; a duplicate insert
// surfaces as ErrAlreadySigned.
func (s *Store) InsertSignature(ctx context.Context, sig *domain.Signature) error {
	sig.ID = uuid.New()
	sig.SignedAt = time.Now()

	addons, err := json.Marshal(sig.SelectedAddOns)
	if err != nil {
		return err
	}

	query := `INSERT INTO signatures (id, proposal_id, signer_name, signer_email, signature_data,
		signature_url, selected_tier, selected_addons, total_price_cents, ip_address, signed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.db.ExecContext(ctx, query, sig.ID, sig.ProposalID, sig.SignerName, sig.SignerEmail,
		sig.SignatureData, nullString(sig.SignatureURL), sig.SelectedTier, addons,
		sig.TotalPriceCents, nullString(sig.IPAddress), sig.SignedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return ErrAlreadySigned
	}
	return err
}

// GetSignature retrieves the signature for a proposal. Returns (nil, nil)
// when the proposal is unsigned.
func (s *Store) GetSignature(ctx context.Context, proposalID uuid.UUID) (*domain.Signature, error) {
	query := `SELECT id, proposal_id, signer_name, signer_email, signature_data,
		COALESCE(signature_url, ''), selected_tier, selected_addons, total_price_cents,
		COALESCE(ip_address, ''), signed_at
		FROM signatures WHERE proposal_id = $1`

	sig := &domain.Signature{}
	var addons []byte
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(
		&sig.ID, &sig.ProposalID, &sig.SignerName, &sig.SignerEmail, &sig.SignatureData,
		&sig.SignatureURL, &sig.SelectedTier, &addons, &sig.TotalPriceCents,
		&sig.IPAddress, &sig.SignedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(addons) > 0 {
		if err := json.Unmarshal(addons, &sig.SelectedAddOns); err != nil {
			return nil, err
		}
	}
	return sig, nil
}

// MarkProposalSigned flips the proposal status and tags its deliveries.
func (s *Store) MarkProposalSigned(ctx context.Context, proposalID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = 'signed' WHERE id = $1`, proposalID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_deliveries SET status = 'signed' WHERE proposal_id = $1`, proposalID)
	return err
}

// CreateDelivery inserts an email delivery row with a freshly minted token.
func (s *Store) CreateDelivery(ctx context.Context, d *domain.EmailDelivery) error {
	d.ID = uuid.New()
	d.SentAt = time.Now()
	if d.Status == "" {
		d.Status = domain.DeliverySent
	}

	query := `INSERT INTO email_deliveries (id, proposal_id, user_id, recipient_email, recipient_name,
		subject, message, tracking_token, status, sent_at, view_count, total_time_spent, reminder_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0, false)`

	_, err := s.db.ExecContext(ctx, query, d.ID, d.ProposalID, d.UserID, d.RecipientEmail,
		nullString(d.RecipientName), d.Subject, nullString(d.Message), d.TrackingToken,
		d.Status, d.SentAt)
	return err
}

// GetDeliveryByToken resolves a tracking token. Returns (nil, nil) for an
// unknown token; the token is the only external handle for deliveries.
func (s *Store) GetDeliveryByToken(ctx context.Context, token string) (*domain.EmailDelivery, error) {
	query := `SELECT id, proposal_id, user_id, recipient_email, COALESCE(recipient_name, ''),
		subject, COALESCE(message, ''), tracking_token, status, sent_at, opened_at,
		last_viewed_at, view_count, total_time_spent, reminder_sent
		FROM email_deliveries WHERE tracking_token = $1`

	d := &domain.EmailDelivery{}
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&d.ID, &d.ProposalID, &d.UserID, &d.RecipientEmail, &d.RecipientName,
		&d.Subject, &d.Message, &d.TrackingToken, &d.Status, &d.SentAt, &d.OpenedAt,
		&d.LastViewedAt, &d.ViewCount, &d.TotalTimeSpent, &d.ReminderSent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListDeliveries returns all deliveries for a proposal, newest first.
func (s *Store) ListDeliveries(ctx context.Context, proposalID uuid.UUID) ([]*domain.EmailDelivery, error) {
	query := `SELECT id, proposal_id, user_id, recipient_email, COALESCE(recipient_name, ''),
		subject, status, sent_at, opened_at, last_viewed_at, view_count, total_time_spent, reminder_sent
		FROM email_deliveries WHERE proposal_id = $1 ORDER BY sent_at DESC`

	rows, err := s.db.QueryContext(ctx, query, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*domain.EmailDelivery
	for rows.Next() {
		d := &domain.EmailDelivery{}
		err := rows.Scan(&d.ID, &d.ProposalID, &d.UserID, &d.RecipientEmail, &d.RecipientName,
			&d.Subject, &d.Status, &d.SentAt, &d.OpenedAt, &d.LastViewedAt,
			&d.ViewCount, &d.TotalTimeSpent, &d.ReminderSent)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// MarkOpened sets opened_at exactly once. The conditional update is the
// check-then-set: under concurrent opens at most one caller sees first=true.
func (s *Store) MarkOpened(ctx context.Context, deliveryID uuid.UUID) (first bool, err error) {
	query := `UPDATE email_deliveries SET opened_at = NOW(), status = 'opened'
		WHERE id = $1 AND opened_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, deliveryID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordDeliveryView bumps view_count and last_viewed_at. first is true only
// for the view that moved the counter from 0 to 1.
func (s *Store) RecordDeliveryView(ctx context.Context, deliveryID uuid.UUID) (first bool, err error) {
	query := `UPDATE email_deliveries SET view_count = view_count + 1, last_viewed_at = NOW(),
		status = CASE WHEN view_count = 0 THEN 'viewed' ELSE status END
		WHERE id = $1
		RETURNING view_count`

	var count int
	if err := s.db.QueryRowContext(ctx, query, deliveryID).Scan(&count); err != nil {
		return false, err
	}
	return count == 1, nil
}

// AddTimeSpent accumulates incremental seconds onto total_time_spent and
// returns the totals before and after the update. The counter never resets.
func (s *Store) AddTimeSpent(ctx context.Context, deliveryID uuid.UUID, seconds int) (before, after int, err error) {
	query := `UPDATE email_deliveries SET total_time_spent = total_time_spent + $2
		WHERE id = $1
		RETURNING total_time_spent`

	if err := s.db.QueryRowContext(ctx, query, deliveryID, seconds).Scan(&after); err != nil {
		return 0, 0, err
	}
	return after - seconds, after, nil
}

// InsertTrackingEvent appends a fine-grained delivery tracking event.
func (s *Store) InsertTrackingEvent(ctx context.Context, evt *domain.EmailTrackingEvent) error {
	query := `INSERT INTO email_tracking_events (id, delivery_id, event_type, event_data, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := s.db.ExecContext(ctx, query, uuid.New(), evt.DeliveryID, evt.EventType,
		nullJSON(evt.EventData), nullString(evt.IPAddress), nullString(evt.UserAgent))
	return err
}

// ViewCounts holds the view aggregates for one proposal.
type ViewCounts struct {
	Total          int
	UniqueSessions int
}

// CountViews returns total view rows and distinct session count.
func (s *Store) CountViews(ctx context.Context, proposalID uuid.UUID) (ViewCounts, error) {
	query := `SELECT COUNT(*), COUNT(DISTINCT session_id) FROM proposal_views WHERE proposal_id = $1`

	var vc ViewCounts
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(&vc.Total, &vc.UniqueSessions)
	return vc, err
}

// EventCounts returns per-type engagement event counts.
func (s *Store) EventCounts(ctx context.Context, proposalID uuid.UUID) (map[domain.EngagementEventType]int, error) {
	query := `SELECT event_type, COUNT(*) FROM engagement_events WHERE proposal_id = $1 GROUP BY event_type`

	rows, err := s.db.QueryContext(ctx, query, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.EngagementEventType]int)
	for rows.Next() {
		var et domain.EngagementEventType
		var n int
		if err := rows.Scan(&et, &n); err != nil {
			return nil, err
		}
		counts[et] = n
	}
	return counts, rows.Err()
}

// DistinctSectionsViewed counts distinct section ids across section_viewed
// events. Events without a sectionId payload are ignored.
func (s *Store) DistinctSectionsViewed(ctx context.Context, proposalID uuid.UUID) (int, error) {
	query := `SELECT COUNT(DISTINCT event_data->>'sectionId') FROM engagement_events
		WHERE proposal_id = $1 AND event_type = 'section_viewed' AND event_data->>'sectionId' IS NOT NULL`

	var n int
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(&n)
	return n, err
}

// CountSectionViews counts section_viewed events for one named section.
func (s *Store) CountSectionViews(ctx context.Context, proposalID uuid.UUID, sectionID string) (int, error) {
	query := `SELECT COUNT(*) FROM engagement_events
		WHERE proposal_id = $1 AND event_type = 'section_viewed' AND event_data->>'sectionId' = $2`

	var n int
	err := s.db.QueryRowContext(ctx, query, proposalID, sectionID).Scan(&n)
	return n, err
}

// DeliveryTotals holds the raw delivery aggregates for one proposal.
type DeliveryTotals struct {
	TotalSent      int
	TotalOpened    int
	TotalViewed    int
	TotalTimeSpent int
}

// DeliveryStats aggregates delivery rows for the analytics view.
func (s *Store) DeliveryStats(ctx context.Context, proposalID uuid.UUID) (DeliveryTotals, error) {
	query := `SELECT COUNT(*), COUNT(opened_at), COUNT(*) FILTER (WHERE view_count > 0),
		COALESCE(SUM(total_time_spent), 0)
		FROM email_deliveries WHERE proposal_id = $1`

	var dt DeliveryTotals
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(
		&dt.TotalSent, &dt.TotalOpened, &dt.TotalViewed, &dt.TotalTimeSpent)
	return dt, err
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
