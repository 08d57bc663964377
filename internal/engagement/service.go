package engagement

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/proposal-pulse/internal/domain"
)

// NotificationKind identifies an owner-notification trigger.
type NotificationKind string

const (
	NotifyEmailOpened    NotificationKind = "email_opened"
	NotifyProposalViewed NotificationKind = "proposal_viewed"
	NotifyHighEngagement NotificationKind = "high_engagement"
	NotifyProposalSigned NotificationKind = "proposal_signed"
)

// Notification carries everything a dispatcher needs to alert the owner.
type Notification struct {
	Kind           NotificationKind
	OwnerEmail     string
	ProposalID     uuid.UUID
	RecipientEmail string
	TimeSpent      int // seconds, high-engagement only
}

// Notifier delivers owner notifications. Implementations must be safe for
// concurrent use; the service swallows dispatch errors.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ImageStore archives signature images and returns a stable URL.
type ImageStore interface {
	PutSignaturePNG(ctx context.Context, proposalID uuid.UUID, png []byte) (string, error)
}

// Service is the ingestion surface: it durably records view, engagement,
// signature and email-tracking facts and fires notifications on first-time
// transitions. Handlers are stateless; all coordination goes through the store.
type Service struct {
	store              *Store
	notifier           Notifier
	images             ImageStore
	highEngagementSecs int
}

// NewService creates an ingestion service. notifier and images may be nil;
// both are best-effort side channels.
func NewService(store *Store, notifier Notifier, images ImageStore, highEngagementSecs int) *Service {
	if highEngagementSecs <= 0 {
		highEngagementSecs = 300
	}
	return &Service{
		store:              store,
		notifier:           notifier,
		images:             images,
		highEngagementSecs: highEngagementSecs,
	}
}

// Store exposes the underlying store for the analytics read side.
func (s *Service) Store() *Store {
	return s.store
}

// TrackView upserts a proposal view for (proposalID, sessionID). Safe to call
// repeatedly; only last_viewed_at moves after the first call.
func (s *Service) TrackView(ctx context.Context, proposalID uuid.UUID, sessionID, viewerEmail, viewerIP string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}

	return s.store.UpsertView(ctx, &domain.ProposalView{
		ProposalID:  proposalID,
		SessionID:   sessionID,
		ViewerEmail: viewerEmail,
		ViewerIP:    viewerIP,
	})
}

// TrackEvent appends one engagement event. Deduplication (e.g. section_viewed
// once per section) is the client's job; this layer only validates the type.
func (s *Service) TrackEvent(ctx context.Context, proposalID uuid.UUID, sessionID string, eventType domain.EngagementEventType, eventData []byte) error {
	if !eventType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}

	return s.store.InsertEvent(ctx, &domain.EngagementEvent{
		ProposalID: proposalID,
		SessionID:  sessionID,
		EventType:  eventType,
		EventData:  eventData,
	})
}

// SubmitSignatureInput carries a client signature submission. TotalPriceCents
// is already in minor units: the caller computes round(total * 100).
type SubmitSignatureInput struct {
	ProposalID      uuid.UUID
	SignerName      string
	SignerEmail     string
	SignatureData   string // base64 PNG, optionally with a data: URL prefix
	SelectedTier    string
	SelectedAddOns  []string
	TotalPriceCents int64
	IPAddress       string
}

// SubmitSignature creates the signature row exactly once per proposal. A
// second submission fails with ErrAlreadySigned and leaves the original row
// untouched.
func (s *Service) SubmitSignature(ctx context.Context, in SubmitSignatureInput) (*domain.Signature, error) {
	if strings.TrimSpace(in.SignerName) == "" {
		return nil, fmt.Errorf("%w: signer name is required", ErrInvalidInput)
	}
	if !ValidateEmail(in.SignerEmail) {
		return nil, fmt.Errorf("%w: signer email is invalid", ErrInvalidInput)
	}
	if in.SignatureData == "" {
		return nil, fmt.Errorf("%w: signature data is required", ErrInvalidInput)
	}

	p, err := s.store.GetProposal(ctx, in.ProposalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}

	sig := &domain.Signature{
		ProposalID:      in.ProposalID,
		SignerName:      strings.TrimSpace(in.SignerName),
		SignerEmail:     strings.ToLower(strings.TrimSpace(in.SignerEmail)),
		SignatureData:   in.SignatureData,
		SelectedTier:    in.SelectedTier,
		SelectedAddOns:  in.SelectedAddOns,
		TotalPriceCents: in.TotalPriceCents,
		IPAddress:       in.IPAddress,
	}

	// Archive the raster before inserting so the row carries the URL from the
	// start. Archival failure is non-fatal: the base64 copy in the row is the
	// source of truth.
	if s.images != nil {
		if png, decErr := decodeSignaturePNG(in.SignatureData); decErr == nil {
			if u, upErr := s.images.PutSignaturePNG(ctx, in.ProposalID, png); upErr == nil {
				sig.SignatureURL = u
			} else {
				log.Printf("signature archival failed for proposal %s: %v", in.ProposalID, upErr)
			}
		} else {
			log.Printf("signature decode failed for proposal %s: %v", in.ProposalID, decErr)
		}
	}

	if err := s.store.InsertSignature(ctx, sig); err != nil {
		return nil, err
	}

	if err := s.store.MarkProposalSigned(ctx, in.ProposalID); err != nil {
		log.Printf("mark proposal %s signed: %v", in.ProposalID, err)
	}

	s.notify(ctx, Notification{
		Kind:           NotifyProposalSigned,
		ProposalID:     in.ProposalID,
		RecipientEmail: sig.SignerEmail,
	})

	return sig, nil
}

// GetSignature returns the proposal's signature, or (nil, nil) when unsigned.
func (s *Service) GetSignature(ctx context.Context, proposalID uuid.UUID) (*domain.Signature, error) {
	return s.store.GetSignature(ctx, proposalID)
}

// CreateDeliveryInput describes a tracked proposal email send.
type CreateDeliveryInput struct {
	ProposalID     uuid.UUID
	UserID         uuid.UUID
	RecipientEmail string
	RecipientName  string
	Subject        string
	Message        string
}

// CreateDelivery mints the tracking token and records the send attempt. The
// token is a bearer credential: possession grants write access to this
// delivery's tracking state, so it comes from crypto/rand.
func (s *Service) CreateDelivery(ctx context.Context, in CreateDeliveryInput) (*domain.EmailDelivery, error) {
	if !ValidateEmail(in.RecipientEmail) {
		return nil, fmt.Errorf("%w: recipient email is invalid", ErrInvalidInput)
	}
	p, err := s.store.GetProposal(ctx, in.ProposalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}

	token, err := generateTrackingToken()
	if err != nil {
		return nil, err
	}

	d := &domain.EmailDelivery{
		ProposalID:     in.ProposalID,
		UserID:         in.UserID,
		RecipientEmail: strings.ToLower(strings.TrimSpace(in.RecipientEmail)),
		RecipientName:  in.RecipientName,
		Subject:        in.Subject,
		Message:        in.Message,
		TrackingToken:  token,
		Status:         domain.DeliverySent,
	}
	if err := s.store.CreateDelivery(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// TrackOpen processes a tracking-pixel hit. The openedAt mark is idempotent;
// only the transition from null fires the owner notification. Every hit
// appends a tracking event.
func (s *Service) TrackOpen(ctx context.Context, token, ip, userAgent string) error {
	d, err := s.store.GetDeliveryByToken(ctx, token)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}

	first, err := s.store.MarkOpened(ctx, d.ID)
	if err != nil {
		return err
	}

	if err := s.store.InsertTrackingEvent(ctx, &domain.EmailTrackingEvent{
		DeliveryID: d.ID,
		EventType:  domain.TrackOpen,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		log.Printf("record open event for delivery %s: %v", d.ID, err)
	}

	if first {
		s.notify(ctx, Notification{
			Kind:           NotifyEmailOpened,
			ProposalID:     d.ProposalID,
			RecipientEmail: d.RecipientEmail,
		})
	}
	return nil
}

// TrackDeliveryView records a proposal page view reached through the emailed
// link. view_count is monotonic; the first view fires the owner notification.
func (s *Service) TrackDeliveryView(ctx context.Context, token, ip, userAgent string) error {
	d, err := s.store.GetDeliveryByToken(ctx, token)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}

	first, err := s.store.RecordDeliveryView(ctx, d.ID)
	if err != nil {
		return err
	}

	if err := s.store.InsertTrackingEvent(ctx, &domain.EmailTrackingEvent{
		DeliveryID: d.ID,
		EventType:  domain.TrackView,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		log.Printf("record view event for delivery %s: %v", d.ID, err)
	}

	if first {
		s.notify(ctx, Notification{
			Kind:           NotifyProposalViewed,
			ProposalID:     d.ProposalID,
			RecipientEmail: d.RecipientEmail,
		})
	}
	return nil
}

// AddTimeSpent accumulates incremental viewing seconds onto the delivery and
// fires the high-engagement alert exactly once, on the update that crosses
// the threshold.
func (s *Service) AddTimeSpent(ctx context.Context, token string, seconds int, ip, userAgent string) error {
	if seconds <= 0 {
		return ErrInvalidTimeSpent
	}
	d, err := s.store.GetDeliveryByToken(ctx, token)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}

	before, after, err := s.store.AddTimeSpent(ctx, d.ID, seconds)
	if err != nil {
		return err
	}

	if err := s.store.InsertTrackingEvent(ctx, &domain.EmailTrackingEvent{
		DeliveryID: d.ID,
		EventType:  domain.TrackTimeUpdate,
		EventData:  []byte(fmt.Sprintf(`{"seconds":%d}`, seconds)),
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		log.Printf("record time event for delivery %s: %v", d.ID, err)
	}

	if before < s.highEngagementSecs && after >= s.highEngagementSecs {
		s.notify(ctx, Notification{
			Kind:           NotifyHighEngagement,
			ProposalID:     d.ProposalID,
			RecipientEmail: d.RecipientEmail,
			TimeSpent:      after,
		})
	}
	return nil
}

// TrackScroll records scroll depth as a tracking event. No delivery state
// changes and no notification fires.
func (s *Service) TrackScroll(ctx context.Context, token string, scrollDepth float64, ip, userAgent string) error {
	d, err := s.store.GetDeliveryByToken(ctx, token)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}

	return s.store.InsertTrackingEvent(ctx, &domain.EmailTrackingEvent{
		DeliveryID: d.ID,
		EventType:  domain.TrackScroll,
		EventData:  []byte(fmt.Sprintf(`{"scrollDepth":%g}`, scrollDepth)),
		IPAddress:  ip,
		UserAgent:  userAgent,
	})
}

// notify resolves the owner and dispatches. Failures are logged, never
// propagated: notifications must not fail the triggering tracking call.
func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	owner, err := s.store.GetOwnerEmail(ctx, n.ProposalID)
	if err != nil || owner == "" {
		log.Printf("resolve owner for proposal %s: %v", n.ProposalID, err)
		return
	}
	n.OwnerEmail = owner
	if err := s.notifier.Notify(ctx, n); err != nil {
		log.Printf("notify %s for proposal %s: %v", n.Kind, n.ProposalID, err)
	}
}

// generateTrackingToken returns 32 hex characters of crypto/rand entropy.
func generateTrackingToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// decodeSignaturePNG strips an optional data-URL prefix and base64-decodes.
func decodeSignaturePNG(data string) ([]byte, error) {
	if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	return base64.StdEncoding.DecodeString(data)
}

// ValidateEmail performs basic email validation
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	local, domain := parts[0], parts[1]
	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if len(domain) == 0 || len(domain) > 253 {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}

	_, err := url.Parse("mailto:" + email)
	return err == nil
}
