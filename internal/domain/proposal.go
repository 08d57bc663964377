package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProposalStatus enumerates proposal lifecycle states.
type ProposalStatus string

const (
	ProposalDraft  ProposalStatus = "draft"
	ProposalSent   ProposalStatus = "sent"
	ProposalSigned ProposalStatus = "signed"
)

// Proposal is the read model the tracking pipeline operates on. Proposal
// authoring (sections, pricing tiers, templates) lives in the builder app;
// this service only needs the owner reference for the authorization boundary.
type Proposal struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Title     string         `json:"title"`
	Status    ProposalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Signature is the authoritative "proposal is signed" record. At most one
// exists per proposal; it is never mutated after creation.
type Signature struct {
	ID              uuid.UUID `json:"id"`
	ProposalID      uuid.UUID `json:"proposal_id"`
	SignerName      string    `json:"signer_name"`
	SignerEmail     string    `json:"signer_email"`
	SignatureData   string    `json:"signature_data"` // base64-encoded PNG
	SignatureURL    string    `json:"signature_url,omitempty"`
	SelectedTier    string    `json:"selected_tier"`
	SelectedAddOns  []string  `json:"selected_addons"`
	TotalPriceCents int64     `json:"total_price_cents"`
	IPAddress       string    `json:"ip_address,omitempty"`
	SignedAt        time.Time `json:"signed_at"`
}
