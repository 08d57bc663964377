package api

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/proposal-pulse/internal/auth"
	"github.com/ignite/proposal-pulse/internal/domain"
	"github.com/ignite/proposal-pulse/internal/engagement"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	svc *engagement.Service
	agg *engagement.Aggregator
}

// NewHandlers creates the handler set.
func NewHandlers(svc *engagement.Service, agg *engagement.Aggregator) *Handlers {
	return &Handlers{svc: svc, agg: agg}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleOpenPixel serves the email tracking pixel. It ALWAYS returns 200 with
// a valid GIF: a broken image in the recipient's mail client is worse than a
// lost data point, and error responses would let senders probe token validity.
func (h *Handlers) HandleOpenPixel(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := h.svc.TrackOpen(r.Context(), token, realIP(r), r.UserAgent()); err != nil {
		log.Printf("OPEN token=%s...: %v", truncToken(token), err)
	} else {
		log.Printf("OPEN token=%s...", truncToken(token))
	}

	servePixel(w)
}

// HandleDeliveryView records a proposal page view reached via a tracked email.
func (h *Handlers) HandleDeliveryView(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := h.svc.TrackDeliveryView(r.Context(), token, realIP(r), r.UserAgent()); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleTimeSpent accumulates incremental viewing seconds for a delivery.
func (h *Handlers) HandleTimeSpent(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req struct {
		TimeSpent int `json:"timeSpent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.AddTimeSpent(r.Context(), token, req.TimeSpent, realIP(r), r.UserAgent()); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleScroll records scroll depth for a delivery.
func (h *Handlers) HandleScroll(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req struct {
		ScrollDepth float64 `json:"scrollDepth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.TrackScroll(r.Context(), token, req.ScrollDepth, realIP(r), r.UserAgent()); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleProposalView upserts a per-session proposal view.
func (h *Handlers) HandleProposalView(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := proposalIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		SessionID   string `json:"sessionId"`
		ViewerEmail string `json:"viewerEmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.TrackView(r.Context(), proposalID, req.SessionID, req.ViewerEmail, realIP(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleEngagementEvent appends one engagement event to the proposal log.
func (h *Handlers) HandleEngagementEvent(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := proposalIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		SessionID string          `json:"sessionId"`
		EventType string          `json:"eventType"`
		EventData json.RawMessage `json:"eventData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.TrackEvent(r.Context(), proposalID, req.SessionID,
		domain.EngagementEventType(req.EventType), req.EventData)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleSubmitSignature creates the proposal's signature. A proposal can be
// signed once; a repeat submission gets 409 and the original row stands.
func (h *Handlers) HandleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := proposalIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		SignerName     string   `json:"signerName"`
		SignerEmail    string   `json:"signerEmail"`
		SignatureData  string   `json:"signatureData"`
		SelectedTier   string   `json:"selectedTier"`
		SelectedAddOns []string `json:"selectedAddOns"`
		TotalPrice     float64  `json:"totalPrice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sig, err := h.svc.SubmitSignature(r.Context(), engagement.SubmitSignatureInput{
		ProposalID:      proposalID,
		SignerName:      req.SignerName,
		SignerEmail:     req.SignerEmail,
		SignatureData:   req.SignatureData,
		SelectedTier:    req.SelectedTier,
		SelectedAddOns:  req.SelectedAddOns,
		TotalPriceCents: int64(math.Round(req.TotalPrice * 100)),
		IPAddress:       realIP(r),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sig)
}

// HandleGetSignature returns the proposal's signature if it exists.
func (h *Handlers) HandleGetSignature(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := proposalIDParam(w, r)
	if !ok {
		return
	}

	sig, err := h.svc.GetSignature(r.Context(), proposalID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if sig == nil {
		respondError(w, http.StatusNotFound, "proposal is not signed")
		return
	}
	respondJSON(w, http.StatusOK, sig)
}

// HandleAnalytics returns the full engagement metrics block for a proposal.
func (h *Handlers) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := proposalIDParam(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, proposalID) {
		return
	}

	analytics, err := h.agg.Analytics(r.Context(), proposalID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analytics)
}

// HandleCreateDelivery records a tracked proposal email send and returns the
// delivery including its tracking token for URL construction.
func (h *Handlers) HandleCreateDelivery(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := proposalIDParam(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, proposalID) {
		return
	}

	var req struct {
		UserID         string `json:"userId"`
		RecipientEmail string `json:"recipientEmail"`
		RecipientName  string `json:"recipientName"`
		Subject        string `json:"subject"`
		Message        string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	d, err := h.svc.CreateDelivery(r.Context(), engagement.CreateDeliveryInput{
		ProposalID:     proposalID,
		UserID:         userID,
		RecipientEmail: req.RecipientEmail,
		RecipientName:  req.RecipientName,
		Subject:        req.Subject,
		Message:        req.Message,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// The token is returned here once, to the owner, for link construction.
	// Delivery listings never include it.
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"delivery":      d,
		"trackingToken": d.TrackingToken,
	})
}

// HandleListDeliveries returns the proposal's email deliveries.
func (h *Handlers) HandleListDeliveries(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := proposalIDParam(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, proposalID) {
		return
	}

	deliveries, err := h.svc.Store().ListDeliveries(r.Context(), proposalID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
		"total":      len(deliveries),
	})
}

// authorizeOwner verifies the session user owns the proposal. Without a
// session on the context (auth disabled, dev mode) the check is skipped;
// requireSession already gated the route.
func (h *Handlers) authorizeOwner(w http.ResponseWriter, r *http.Request, proposalID uuid.UUID) bool {
	session := auth.SessionFromContext(r.Context())
	if session == nil {
		return true
	}

	owner, err := h.svc.Store().GetOwnerEmail(r.Context(), proposalID)
	if err != nil {
		respondServiceError(w, err)
		return false
	}
	if owner == "" {
		respondError(w, http.StatusNotFound, "not found")
		return false
	}
	if !strings.EqualFold(owner, session.Email) {
		respondError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func proposalIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "proposalID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid proposal id")
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service sentinel errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engagement.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, engagement.ErrAlreadySigned):
		respondError(w, http.StatusConflict, "proposal is already signed")
	case errors.Is(err, engagement.ErrInvalidEventType),
		errors.Is(err, engagement.ErrInvalidTimeSpent),
		errors.Is(err, engagement.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func truncToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
