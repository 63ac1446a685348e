// Package handler exposes the certificate read path over HTTP: status
// lookups, certificate verification, and signed status attestations.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"conubium/internal/registry/models"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
	"conubium/pkg/platform/httputil"
	"conubium/pkg/requestcontext"
)

// Service defines the interface for certificate and status queries.
type Service interface {
	VerifyCertificate(ctx context.Context, marriageID domain.MarriageID, certificateHash domain.Hash32, requester domain.Identity) (bool, error)
	StatusByIdentity(ctx context.Context, party domain.Identity) (models.IdentityStatus, error)
	IssueAttestation(ctx context.Context, party domain.Identity) (string, models.IdentityStatus, error)
}

// Handler wires certificate endpoints to the certificate service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a certificate handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts certificate endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/registry/identities/{identity}/status", h.HandleGetStatus)
	r.Get("/registry/identities/{identity}/attestation", h.HandleGetAttestation)
	r.Post("/registry/certificates/verify", h.HandleVerifyCertificate)
}

// VerifyCertificateRequest is the HTTP request body for
// POST /registry/certificates/verify.
type VerifyCertificateRequest struct {
	MarriageID      string `json:"marriage_id"`
	CertificateHash string `json:"certificate_hash"`
	Requester       string `json:"requester"`

	parsedMarriageID      domain.MarriageID
	parsedCertificateHash domain.Hash32
	parsedRequester       domain.Identity
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *VerifyCertificateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	marriageID, err := domain.ParseMarriageID(strings.TrimSpace(r.MarriageID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "marriage_id is invalid")
	}
	certificateHash, err := domain.ParseHash32(strings.TrimSpace(r.CertificateHash))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "certificate_hash is invalid")
	}
	requester, err := domain.ParseIdentity(strings.TrimSpace(r.Requester))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "requester is invalid")
	}
	r.parsedMarriageID = marriageID
	r.parsedCertificateHash = certificateHash
	r.parsedRequester = requester
	return nil
}

// VerifyCertificateResponse is the wire shape of a certificate check.
type VerifyCertificateResponse struct {
	Valid bool `json:"valid"`
}

// StatusResponse is the wire shape of an identity's derived civil status.
type StatusResponse struct {
	Identity     string     `json:"identity"`
	IsMarried    bool       `json:"is_married"`
	MarriageID   string     `json:"marriage_id,omitempty"`
	MarriageDate *time.Time `json:"marriage_date,omitempty"`
}

// AttestationResponse carries the signed token alongside the status it
// asserts.
type AttestationResponse struct {
	Attestation string `json:"attestation"`
	StatusResponse
}

func statusResponse(party domain.Identity, status models.IdentityStatus) StatusResponse {
	resp := StatusResponse{
		Identity:  party.String(),
		IsMarried: status.IsMarried,
	}
	if status.IsMarried {
		resp.MarriageID = status.MarriageID.String()
		date := status.MarriageDate
		resp.MarriageDate = &date
	}
	return resp
}

// HandleVerifyCertificate handles POST /registry/certificates/verify requests.
func (h *Handler) HandleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyCertificateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	valid, err := h.service.VerifyCertificate(ctx, req.parsedMarriageID, req.parsedCertificateHash, req.parsedRequester)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate check failed",
			"request_id", requestID,
			"marriage_id", req.parsedMarriageID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, VerifyCertificateResponse{Valid: valid})
}

// HandleGetStatus handles GET /registry/identities/{identity}/status requests.
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	party, err := domain.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "identity is invalid"))
		return
	}

	status, err := h.service.StatusByIdentity(ctx, party)
	if err != nil {
		h.logger.ErrorContext(ctx, "status lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, statusResponse(party, status))
}

// HandleGetAttestation handles GET /registry/identities/{identity}/attestation
// requests.
func (h *Handler) HandleGetAttestation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	party, err := domain.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "identity is invalid"))
		return
	}

	token, status, err := h.service.IssueAttestation(ctx, party)
	if err != nil {
		h.logger.ErrorContext(ctx, "attestation issuance failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, AttestationResponse{
		Attestation:    token,
		StatusResponse: statusResponse(party, status),
	})
}
