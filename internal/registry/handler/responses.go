package handler

import (
	"time"

	"conubium/internal/registry/models"
)

// ProposalResponse is the wire shape of a proposal. Status is derived at
// response time so expiry shows up without a write.
type ProposalResponse struct {
	ProposalID   string    `json:"proposal_id"`
	Proposer     string    `json:"proposer"`
	Proposee     string    `json:"proposee"`
	ProposalHash string    `json:"proposal_hash"`
	Status       string    `json:"status"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// FromProposal converts a proposal record to its HTTP response.
func FromProposal(p *models.Proposal, now time.Time) *ProposalResponse {
	return &ProposalResponse{
		ProposalID:   p.ID.String(),
		Proposer:     p.Proposer.String(),
		Proposee:     p.Proposee.String(),
		ProposalHash: p.ProposalHash.String(),
		Status:       string(p.Status(now)),
		Jurisdiction: p.Jurisdiction,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
	}
}

// MarriageResponse is the wire shape of a marriage record. Proof commitments
// stay internal; the certificate hash is what holders present elsewhere.
type MarriageResponse struct {
	MarriageID      string     `json:"marriage_id"`
	Spouse1         string     `json:"spouse1"`
	Spouse2         string     `json:"spouse2"`
	CertificateHash string     `json:"certificate_hash"`
	Status          string     `json:"status"`
	Jurisdiction    string     `json:"jurisdiction,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DissolvedAt     *time.Time `json:"dissolved_at,omitempty"`
}

const (
	marriageStatusActive    = "active"
	marriageStatusDissolved = "dissolved"
)

// FromMarriage converts a marriage record to its HTTP response.
func FromMarriage(m *models.Marriage) *MarriageResponse {
	status := marriageStatusActive
	if !m.IsActive {
		status = marriageStatusDissolved
	}
	return &MarriageResponse{
		MarriageID:      m.ID.String(),
		Spouse1:         m.Spouse1.String(),
		Spouse2:         m.Spouse2.String(),
		CertificateHash: m.CertificateHash.String(),
		Status:          status,
		Jurisdiction:    m.Jurisdiction,
		CreatedAt:       m.CreatedAt,
		DissolvedAt:     m.DissolvedAt,
	}
}
