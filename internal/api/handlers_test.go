package api

import (
	"bytes"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/proposal-pulse/internal/auth"
	"github.com/ignite/proposal-pulse/internal/engagement"
)

func newTestHandler(t *testing.T) (http.Handler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}

	store := engagement.NewStore(db)
	svc := engagement.NewService(store, nil, nil, 300)
	agg := engagement.NewAggregator(store, engagement.DefaultScoreConfig())
	router := SetupRoutes(NewHandlers(svc, agg), nil, nil, nil)

	return router, mock, func() { db.Close() }
}

func deliveryRow(id, proposalID uuid.UUID, token string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "proposal_id", "user_id", "recipient_email", "recipient_name",
		"subject", "message", "tracking_token", "status", "sent_at", "opened_at",
		"last_viewed_at", "view_count", "total_time_spent", "reminder_sent",
	}).AddRow(id, proposalID, uuid.New(), "client@example.com", "Client",
		"Your proposal", "", token, "sent", time.Now(), nil, nil, 0, 0, false)
}

func proposalRow(id uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "title", "status", "created_at"}).
		AddRow(id, uuid.New(), "Website Redesign", "sent", time.Now())
}

func TestHealthCheck(t *testing.T) {
	router, _, closeFn := newTestHandler(t)
	defer closeFn()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestPixelGarbageTokenStillServesGIF(t *testing.T) {
	// The pixel endpoint must never leak token validity: garbage in, GIF out.
	router, mock, closeFn := newTestHandler(t)
	defer closeFn()

	mock.ExpectQuery("FROM email_deliveries WHERE tracking_token").
		WithArgs("not-a-real-token").
		WillReturnError(sql.ErrNoRows)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/track/open/not-a-real-token", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("content type = %q, want image/gif", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), pixelGIF) {
		t.Error("body is not the 1x1 GIF")
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("cache control = %q, want no-store", cc)
	}
}

func TestPixelRecordsOpen(t *testing.T) {
	router, mock, closeFn := newTestHandler(t)
	defer closeFn()

	deliveryID := uuid.New()
	token := "aabbccddeeff00112233445566778899"

	mock.ExpectQuery("FROM email_deliveries WHERE tracking_token").
		WithArgs(token).
		WillReturnRows(deliveryRow(deliveryID, uuid.New(), token))
	mock.ExpectExec("UPDATE email_deliveries SET opened_at").
		WithArgs(deliveryID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO email_tracking_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/track/open/"+token, nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTimeSpentRejectsBadBody(t *testing.T) {
	router, _, closeFn := newTestHandler(t)
	defer closeFn()

	req := httptest.NewRequest("POST", "/api/track/time/sometoken", strings.NewReader("{garbage"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTimeSpentRejectsNonPositive(t *testing.T) {
	router, _, closeFn := newTestHandler(t)
	defer closeFn()

	req := httptest.NewRequest("POST", "/api/track/time/sometoken", strings.NewReader(`{"timeSpent":-5}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProposalViewInvalidID(t *testing.T) {
	router, _, closeFn := newTestHandler(t)
	defer closeFn()

	req := httptest.NewRequest("POST", "/api/proposals/not-a-uuid/view",
		strings.NewReader(`{"sessionId":"s1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProposalViewRecorded(t *testing.T) {
	router, mock, closeFn := newTestHandler(t)
	defer closeFn()

	proposalID := uuid.New()
	mock.ExpectQuery("FROM proposals").
		WithArgs(proposalID).
		WillReturnRows(proposalRow(proposalID))
	mock.ExpectExec("INSERT INTO proposal_views").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest("POST",
		fmt.Sprintf("/api/proposals/%s/view", proposalID),
		strings.NewReader(`{"sessionId":"sess-1","viewerEmail":"client@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEngagementEventUnknownType(t *testing.T) {
	router, _, closeFn := newTestHandler(t)
	defer closeFn()

	proposalID := uuid.New()
	req := httptest.NewRequest("POST",
		fmt.Sprintf("/api/proposals/%s/events", proposalID),
		strings.NewReader(`{"sessionId":"sess-1","eventType":"page_printed"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitSignatureCreated(t *testing.T) {
	router, mock, closeFn := newTestHandler(t)
	defer closeFn()

	proposalID := uuid.New()
	mock.ExpectQuery("FROM proposals").
		WithArgs(proposalID).
		WillReturnRows(proposalRow(proposalID))
	mock.ExpectExec("INSERT INTO signatures").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE proposals SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE email_deliveries SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"signerName":"Jane Doe","signerEmail":"jane@client.com",
		"signatureData":"aVZCT1I=","selectedTier":"pro","selectedAddOns":["seo"],"totalPrice":24.00}`
	req := httptest.NewRequest("POST",
		fmt.Sprintf("/api/proposals/%s/signature", proposalID), strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSubmitSignatureConflict(t *testing.T) {
	router, mock, closeFn := newTestHandler(t)
	defer closeFn()

	proposalID := uuid.New()
	mock.ExpectQuery("FROM proposals").
		WithArgs(proposalID).
		WillReturnRows(proposalRow(proposalID))
	mock.ExpectExec("INSERT INTO signatures").
		WillReturnError(&pq.Error{Code: "23505"})

	body := `{"signerName":"Jane Doe","signerEmail":"jane@client.com","signatureData":"aVZCT1I="}`
	req := httptest.NewRequest("POST",
		fmt.Sprintf("/api/proposals/%s/signature", proposalID), strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestGetSignatureUnsigned(t *testing.T) {
	router, mock, closeFn := newTestHandler(t)
	defer closeFn()

	proposalID := uuid.New()
	mock.ExpectQuery("FROM signatures").
		WithArgs(proposalID).
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest("GET",
		fmt.Sprintf("/api/proposals/%s/signature", proposalID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAnalyticsUnknownProposal(t *testing.T) {
	router, mock, closeFn := newTestHandler(t)
	defer closeFn()

	proposalID := uuid.New()
	mock.ExpectQuery("FROM proposals").
		WithArgs(proposalID).
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest("GET",
		fmt.Sprintf("/api/proposals/%s/analytics", proposalID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAnalyticsForbiddenForNonOwner(t *testing.T) {
	router, mock, closeFn := newTestHandler(t)
	defer closeFn()

	proposalID := uuid.New()
	mock.ExpectQuery("SELECT u.email FROM users").
		WithArgs(proposalID).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("owner@agency.com"))

	req := httptest.NewRequest("GET",
		fmt.Sprintf("/api/proposals/%s/analytics", proposalID), nil)
	req = req.WithContext(auth.WithSession(req.Context(), &auth.Session{Email: "intruder@other.com"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateDeliveryReturnsToken(t *testing.T) {
	router, mock, closeFn := newTestHandler(t)
	defer closeFn()

	proposalID := uuid.New()
	userID := uuid.New()
	mock.ExpectQuery("FROM proposals").
		WithArgs(proposalID).
		WillReturnRows(proposalRow(proposalID))
	mock.ExpectExec("INSERT INTO email_deliveries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := fmt.Sprintf(`{"userId":"%s","recipientEmail":"client@example.com","subject":"Your proposal"}`, userID)
	req := httptest.NewRequest("POST",
		fmt.Sprintf("/api/proposals/%s/deliveries", proposalID), strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "trackingToken") {
		t.Error("response should carry the tracking token for link construction")
	}
}
