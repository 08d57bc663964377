package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/proposal-pulse/internal/domain"
)

// recordingNotifier captures dispatched notifications for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) byKind(kind NotificationKind) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *recordingNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rec := &recordingNotifier{}
	svc := NewService(NewStore(db), rec, nil, 300)
	return svc, mock, rec
}

func proposalRows(id, userID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "title", "status", "created_at"}).
		AddRow(id, userID, "Website Redesign", "sent", time.Now())
}

func deliveryRows(id, proposalID uuid.UUID, token string, openedAt *time.Time, viewCount, timeSpent int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "proposal_id", "user_id", "recipient_email", "recipient_name",
		"subject", "message", "tracking_token", "status", "sent_at", "opened_at",
		"last_viewed_at", "view_count", "total_time_spent", "reminder_sent",
	}).AddRow(id, proposalID, uuid.New(), "client@example.com", "Client",
		"Your proposal", "", token, "sent", time.Now(), openedAt,
		nil, viewCount, timeSpent, false)
}

func ownerEmailRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"email"}).AddRow("owner@agency.com")
}

func TestTrackViewUpsertIdempotent(t *testing.T) {
	svc, mock, _ := newTestService(t)
	proposalID := uuid.New()

	// Two calls for the same (proposal, session): both run the same upsert;
	// the ON CONFLICT clause only moves last_viewed_at on the second.
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT id, user_id, title, status, created_at FROM proposals").
			WithArgs(proposalID).
			WillReturnRows(proposalRows(proposalID, uuid.New()))
		mock.ExpectExec("INSERT INTO proposal_views").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	if err := svc.TrackView(context.Background(), proposalID, "s1", "", ""); err != nil {
		t.Fatalf("first TrackView: %v", err)
	}
	if err := svc.TrackView(context.Background(), proposalID, "s1", "", ""); err != nil {
		t.Fatalf("second TrackView: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTrackViewRequiresSession(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.TrackView(context.Background(), uuid.New(), "", "", "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("TrackView with empty session = %v, want ErrInvalidInput", err)
	}
}

func TestTrackViewUnknownProposal(t *testing.T) {
	svc, mock, _ := newTestService(t)
	proposalID := uuid.New()

	mock.ExpectQuery("SELECT id, user_id, title, status, created_at FROM proposals").
		WithArgs(proposalID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "status", "created_at"}))

	err := svc.TrackView(context.Background(), proposalID, "s1", "", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("TrackView unknown proposal = %v, want ErrNotFound", err)
	}
}

func TestTrackEventRejectsUnknownType(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.TrackEvent(context.Background(), uuid.New(), "s1", "clicked_everything", nil)
	if !errors.Is(err, ErrInvalidEventType) {
		t.Errorf("TrackEvent unknown type = %v, want ErrInvalidEventType", err)
	}
}

func TestTrackEventAppends(t *testing.T) {
	svc, mock, _ := newTestService(t)
	proposalID := uuid.New()

	// No dedup at this layer: the same event type appends every time.
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT id, user_id, title, status, created_at FROM proposals").
			WithArgs(proposalID).
			WillReturnRows(proposalRows(proposalID, uuid.New()))
		mock.ExpectExec("INSERT INTO engagement_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	data := []byte(`{"sectionId":"pricing"}`)
	for i := 0; i < 2; i++ {
		if err := svc.TrackEvent(context.Background(), proposalID, "s1", domain.EventSectionViewed, data); err != nil {
			t.Fatalf("TrackEvent: %v", err)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTrackOpenFirstOnlyNotification(t *testing.T) {
	svc, mock, rec := newTestService(t)
	proposalID := uuid.New()
	deliveryID := uuid.New()
	token := "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"

	// First open: conditional update hits, notification fires.
	mock.ExpectQuery("SELECT id, proposal_id, user_id, recipient_email").
		WithArgs(token).
		WillReturnRows(deliveryRows(deliveryID, proposalID, token, nil, 0, 0))
	mock.ExpectExec("UPDATE email_deliveries SET opened_at = NOW").
		WithArgs(deliveryID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO email_tracking_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT u.email FROM users").
		WithArgs(proposalID).
		WillReturnRows(ownerEmailRows())

	// Second open: opened_at already set, conditional update misses.
	opened := time.Now()
	mock.ExpectQuery("SELECT id, proposal_id, user_id, recipient_email").
		WithArgs(token).
		WillReturnRows(deliveryRows(deliveryID, proposalID, token, &opened, 0, 0))
	mock.ExpectExec("UPDATE email_deliveries SET opened_at = NOW").
		WithArgs(deliveryID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO email_tracking_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.TrackOpen(context.Background(), token, "1.2.3.4", "Mozilla"); err != nil {
		t.Fatalf("first TrackOpen: %v", err)
	}
	if err := svc.TrackOpen(context.Background(), token, "1.2.3.4", "Mozilla"); err != nil {
		t.Fatalf("second TrackOpen: %v", err)
	}

	opens := rec.byKind(NotifyEmailOpened)
	if len(opens) != 1 {
		t.Fatalf("got %d email-opened notifications, want exactly 1", len(opens))
	}
	if opens[0].OwnerEmail != "owner@agency.com" {
		t.Errorf("notification owner = %q, want owner@agency.com", opens[0].OwnerEmail)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTrackOpenUnknownToken(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery("SELECT id, proposal_id, user_id, recipient_email").
		WithArgs("garbage").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := svc.TrackOpen(context.Background(), "garbage", "", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("TrackOpen unknown token = %v, want ErrNotFound", err)
	}
}

func TestAddTimeSpentMonotonicThreshold(t *testing.T) {
	svc, mock, rec := newTestService(t)
	proposalID := uuid.New()
	deliveryID := uuid.New()
	token := "ffeeddccbbaa99887766554433221100"

	// Three reports of 100s each: 0->100, 100->200, 200->300. Only the third
	// crosses the 300s threshold.
	totals := []int{100, 200, 300}
	for i, total := range totals {
		mock.ExpectQuery("SELECT id, proposal_id, user_id, recipient_email").
			WithArgs(token).
			WillReturnRows(deliveryRows(deliveryID, proposalID, token, nil, 1, total-100))
		mock.ExpectQuery("UPDATE email_deliveries SET total_time_spent").
			WithArgs(deliveryID, 100).
			WillReturnRows(sqlmock.NewRows([]string{"total_time_spent"}).AddRow(total))
		mock.ExpectExec("INSERT INTO email_tracking_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		if i == 2 {
			mock.ExpectQuery("SELECT u.email FROM users").
				WithArgs(proposalID).
				WillReturnRows(ownerEmailRows())
		}
	}

	for i := 0; i < 3; i++ {
		if err := svc.AddTimeSpent(context.Background(), token, 100, "", ""); err != nil {
			t.Fatalf("AddTimeSpent call %d: %v", i+1, err)
		}
	}

	alerts := rec.byKind(NotifyHighEngagement)
	if len(alerts) != 1 {
		t.Fatalf("got %d high-engagement alerts, want exactly 1", len(alerts))
	}
	if alerts[0].TimeSpent != 300 {
		t.Errorf("alert time spent = %d, want 300", alerts[0].TimeSpent)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddTimeSpentRejectsNonPositive(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, seconds := range []int{0, -5} {
		err := svc.AddTimeSpent(context.Background(), "token", seconds, "", "")
		if !errors.Is(err, ErrInvalidTimeSpent) {
			t.Errorf("AddTimeSpent(%d) = %v, want ErrInvalidTimeSpent", seconds, err)
		}
	}
}

func TestTrackDeliveryViewFirstOnly(t *testing.T) {
	svc, mock, rec := newTestService(t)
	proposalID := uuid.New()
	deliveryID := uuid.New()
	token := "00112233445566778899aabbccddeeff"

	// view_count 0 -> 1 is the first view; 1 -> 2 is not.
	for i, count := range []int{1, 2} {
		mock.ExpectQuery("SELECT id, proposal_id, user_id, recipient_email").
			WithArgs(token).
			WillReturnRows(deliveryRows(deliveryID, proposalID, token, nil, count-1, 0))
		mock.ExpectQuery("UPDATE email_deliveries SET view_count").
			WithArgs(deliveryID).
			WillReturnRows(sqlmock.NewRows([]string{"view_count"}).AddRow(count))
		mock.ExpectExec("INSERT INTO email_tracking_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		if i == 0 {
			mock.ExpectQuery("SELECT u.email FROM users").
				WithArgs(proposalID).
				WillReturnRows(ownerEmailRows())
		}
	}

	for i := 0; i < 2; i++ {
		if err := svc.TrackDeliveryView(context.Background(), token, "", ""); err != nil {
			t.Fatalf("TrackDeliveryView call %d: %v", i+1, err)
		}
	}

	if got := len(rec.byKind(NotifyProposalViewed)); got != 1 {
		t.Errorf("got %d proposal-viewed notifications, want exactly 1", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTrackScrollRecordsEventOnly(t *testing.T) {
	svc, mock, rec := newTestService(t)
	token := "55443322110099887766554433221100"
	deliveryID := uuid.New()

	mock.ExpectQuery("SELECT id, proposal_id, user_id, recipient_email").
		WithArgs(token).
		WillReturnRows(deliveryRows(deliveryID, uuid.New(), token, nil, 1, 0))
	mock.ExpectExec("INSERT INTO email_tracking_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.TrackScroll(context.Background(), token, 75, "", ""); err != nil {
		t.Fatalf("TrackScroll: %v", err)
	}
	if len(rec.notes) != 0 {
		t.Errorf("scroll tracking fired %d notifications, want 0", len(rec.notes))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSubmitSignatureSuccess(t *testing.T) {
	svc, mock, rec := newTestService(t)
	proposalID := uuid.New()

	mock.ExpectQuery("SELECT id, user_id, title, status, created_at FROM proposals").
		WithArgs(proposalID).
		WillReturnRows(proposalRows(proposalID, uuid.New()))
	mock.ExpectExec("INSERT INTO signatures").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE proposals SET status = 'signed'").
		WithArgs(proposalID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE email_deliveries SET status = 'signed'").
		WithArgs(proposalID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT u.email FROM users").
		WithArgs(proposalID).
		WillReturnRows(ownerEmailRows())

	sig, err := svc.SubmitSignature(context.Background(), SubmitSignatureInput{
		ProposalID:      proposalID,
		SignerName:      "Jane Client",
		SignerEmail:     "jane@client.com",
		SignatureData:   "iVBORw0KGgo=",
		SelectedTier:    "pro",
		SelectedAddOns:  []string{"seo", "support"},
		TotalPriceCents: 2400,
	})
	if err != nil {
		t.Fatalf("SubmitSignature: %v", err)
	}
	if sig.TotalPriceCents != 2400 {
		t.Errorf("total price = %d cents, want 2400", sig.TotalPriceCents)
	}
	if got := len(rec.byKind(NotifyProposalSigned)); got != 1 {
		t.Errorf("got %d signed notifications, want 1", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSubmitSignatureConflict(t *testing.T) {
	svc, mock, _ := newTestService(t)
	proposalID := uuid.New()

	mock.ExpectQuery("SELECT id, user_id, title, status, created_at FROM proposals").
		WithArgs(proposalID).
		WillReturnRows(proposalRows(proposalID, uuid.New()))
	mock.ExpectExec("INSERT INTO signatures").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := svc.SubmitSignature(context.Background(), SubmitSignatureInput{
		ProposalID:      proposalID,
		SignerName:      "Second Signer",
		SignerEmail:     "second@client.com",
		SignatureData:   "iVBORw0KGgo=",
		TotalPriceCents: 9900,
	})
	if !errors.Is(err, ErrAlreadySigned) {
		t.Errorf("second SubmitSignature = %v, want ErrAlreadySigned", err)
	}
}

func TestSubmitSignatureValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name  string
		input SubmitSignatureInput
	}{
		{"missing name", SubmitSignatureInput{SignerEmail: "a@b.com", SignatureData: "x"}},
		{"bad email", SubmitSignatureInput{SignerName: "A", SignerEmail: "not-an-email", SignatureData: "x"}},
		{"missing signature", SubmitSignatureInput{SignerName: "A", SignerEmail: "a@b.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitSignature(context.Background(), tt.input)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("SubmitSignature = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCreateDeliveryMintsToken(t *testing.T) {
	svc, mock, _ := newTestService(t)
	proposalID := uuid.New()

	mock.ExpectQuery("SELECT id, user_id, title, status, created_at FROM proposals").
		WithArgs(proposalID).
		WillReturnRows(proposalRows(proposalID, uuid.New()))
	mock.ExpectExec("INSERT INTO email_deliveries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d, err := svc.CreateDelivery(context.Background(), CreateDeliveryInput{
		ProposalID:     proposalID,
		UserID:         uuid.New(),
		RecipientEmail: "client@example.com",
		Subject:        "Your proposal",
	})
	if err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	if len(d.TrackingToken) != 32 {
		t.Errorf("tracking token length = %d, want 32", len(d.TrackingToken))
	}
	if d.Status != domain.DeliverySent {
		t.Errorf("status = %s, want sent", d.Status)
	}
}

func TestGenerateTrackingTokenUnique(t *testing.T) {
	t1, err := generateTrackingToken()
	if err != nil {
		t.Fatalf("generateTrackingToken() error = %v", err)
	}
	if len(t1) != 32 {
		t.Errorf("token length = %d, want 32", len(t1))
	}

	t2, err := generateTrackingToken()
	if err != nil {
		t.Fatalf("generateTrackingToken() error = %v", err)
	}
	if t1 == t2 {
		t.Error("generateTrackingToken() generated duplicate tokens")
	}
}

func TestDecodeSignaturePNG(t *testing.T) {
	raw, err := decodeSignaturePNG("aGVsbG8=")
	if err != nil || string(raw) != "hello" {
		t.Errorf("plain base64 decode = %q, %v", raw, err)
	}

	raw, err = decodeSignaturePNG("data:image/png;base64,aGVsbG8=")
	if err != nil || string(raw) != "hello" {
		t.Errorf("data-URL decode = %q, %v", raw, err)
	}
}
