package handler

import (
	"encoding/base64"
	"strings"
	"time"

	"conubium/internal/identity"
	"conubium/internal/registry/service"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
)

const (
	maxJurisdictionLen  = 64
	maxWalletAddressLen = 128
	maxAttestationB64   = 64 * 1024
	maxProofPathDepth   = 64
)

// ProofBody is the identity evidence attached to lifecycle requests. Address
// binding expects wallet_address plus the membership path; verifier binding
// expects the base64 attestation blob.
type ProofBody struct {
	WalletAddress string   `json:"wallet_address,omitempty"`
	Path          []string `json:"path,omitempty"`
	Attestation   string   `json:"attestation,omitempty"`
}

func (p *ProofBody) parse() (identity.Evidence, error) {
	ev := identity.Evidence{WalletAddress: strings.TrimSpace(p.WalletAddress)}
	if len(ev.WalletAddress) > maxWalletAddressLen {
		return identity.Evidence{}, dErrors.New(dErrors.CodeValidation, "proof.wallet_address is too long")
	}
	if len(p.Path) > maxProofPathDepth {
		return identity.Evidence{}, dErrors.New(dErrors.CodeValidation, "proof.path is too deep")
	}
	for _, node := range p.Path {
		h, err := domain.ParseHash32(node)
		if err != nil {
			return identity.Evidence{}, dErrors.Wrap(err, dErrors.CodeValidation, "proof.path entry is invalid")
		}
		ev.Path = append(ev.Path, h)
	}
	if p.Attestation != "" {
		if len(p.Attestation) > maxAttestationB64 {
			return identity.Evidence{}, dErrors.New(dErrors.CodeValidation, "proof.attestation is too large")
		}
		raw, err := base64.StdEncoding.DecodeString(p.Attestation)
		if err != nil {
			return identity.Evidence{}, dErrors.New(dErrors.CodeValidation, "proof.attestation must be base64")
		}
		ev.Attestation = raw
	}
	return ev, nil
}

// CreateProposalRequest is the HTTP request body for POST /registry/proposals.
type CreateProposalRequest struct {
	ProposalID   string    `json:"proposal_id"`
	Proposer     string    `json:"proposer"`
	Proposee     string    `json:"proposee"`
	ProposalHash string    `json:"proposal_hash"`
	ExpiresAt    time.Time `json:"expires_at"`
	Jurisdiction string    `json:"jurisdiction"`
	Proof        ProofBody `json:"proof"`

	parsed service.CreateProposalRequest
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *CreateProposalRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	proposalID, err := domain.ParseProposalID(strings.TrimSpace(r.ProposalID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "proposal_id is invalid")
	}
	proposer, err := domain.ParseIdentity(strings.TrimSpace(r.Proposer))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "proposer is invalid")
	}
	proposee, err := domain.ParseIdentity(strings.TrimSpace(r.Proposee))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "proposee is invalid")
	}
	proposalHash, err := domain.ParseHash32(strings.TrimSpace(r.ProposalHash))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "proposal_hash is invalid")
	}
	if r.ExpiresAt.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "expires_at is required")
	}

	r.Jurisdiction = strings.TrimSpace(r.Jurisdiction)
	if len(r.Jurisdiction) > maxJurisdictionLen {
		return dErrors.New(dErrors.CodeValidation, "jurisdiction is too long")
	}

	evidence, err := r.Proof.parse()
	if err != nil {
		return err
	}

	r.parsed = service.CreateProposalRequest{
		ProposalID:   proposalID,
		Proposer:     proposer,
		Proposee:     proposee,
		ProposalHash: proposalHash,
		ExpiresAt:    r.ExpiresAt,
		Jurisdiction: r.Jurisdiction,
		Evidence:     evidence,
	}
	return nil
}

// Parsed returns the domain request assembled by Validate.
func (r *CreateProposalRequest) Parsed() service.CreateProposalRequest {
	return r.parsed
}

// AcceptProposalRequest is the HTTP request body for
// POST /registry/proposals/{proposalID}/accept. certificate_hash is optional;
// when absent the registry derives one.
type AcceptProposalRequest struct {
	Proof           ProofBody `json:"proof"`
	CertificateHash string    `json:"certificate_hash,omitempty"`

	parsedEvidence        identity.Evidence
	parsedCertificateHash domain.Hash32
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *AcceptProposalRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	evidence, err := r.Proof.parse()
	if err != nil {
		return err
	}
	r.parsedEvidence = evidence

	if hash := strings.TrimSpace(r.CertificateHash); hash != "" {
		parsed, err := domain.ParseHash32(hash)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "certificate_hash is invalid")
		}
		r.parsedCertificateHash = parsed
	}
	return nil
}

// ParsedEvidence returns the validated acceptee evidence.
func (r *AcceptProposalRequest) ParsedEvidence() identity.Evidence {
	return r.parsedEvidence
}

// ParsedCertificateHash returns the caller-chosen certificate hash, zero when
// the registry should derive one.
func (r *AcceptProposalRequest) ParsedCertificateHash() domain.Hash32 {
	return r.parsedCertificateHash
}

// DivorceRequest is the HTTP request body for
// POST /registry/marriages/{marriageID}/divorce. The requester is derived from
// the proof, never claimed.
type DivorceRequest struct {
	Proof ProofBody `json:"proof"`

	parsedEvidence identity.Evidence
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *DivorceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	evidence, err := r.Proof.parse()
	if err != nil {
		return err
	}
	r.parsedEvidence = evidence
	return nil
}

// ParsedEvidence returns the validated requester evidence.
func (r *DivorceRequest) ParsedEvidence() identity.Evidence {
	return r.parsedEvidence
}
